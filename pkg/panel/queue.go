package panel

import (
	"context"
	"sync"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

const (
	// DefaultLookahead is how many of the oldest Requests a tick inspects. It is
	// also the most authentications that can be in flight at once.
	DefaultLookahead = 6

	// DefaultAdmitInterval is the time between admission ticks
	DefaultAdmitInterval = time.Second
)

// Authenticator logs in to one address
type Authenticator func(ctx context.Context, address string) (*veyon.Session, error)

// Queue admits connection Requests into authentication, one per tick
type Queue struct {
	logger.Logger
	registry  *Registry
	auth      Authenticator
	lookahead int
	interval  time.Duration

	// OnAdmit is called after a Session has been registered
	OnAdmit func(ctx context.Context, s *veyon.Session)

	// OnReject is called after a failed authentication has been discarded
	OnReject func(ctx context.Context, address string, err error)

	wg sync.WaitGroup
}

// NewQueue creates a Queue over registry. lookahead and interval fall back to
// the defaults when not positive.
func NewQueue(lg logger.Logger, registry *Registry, auth Authenticator, lookahead int, interval time.Duration) *Queue {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if interval <= 0 {
		interval = DefaultAdmitInterval
	}
	return &Queue{
		Logger:    lg,
		registry:  registry,
		auth:      auth,
		lookahead: lookahead,
		interval:  interval,
	}
}

// Enqueue requests a connection to address. It is a no-op if a Request or
// Session for address already exists.
func (q *Queue) Enqueue(address string) bool {
	added := q.registry.Enqueue(address)
	if added {
		q.DLogf("Queued %s", address)
	}
	return added
}

// Tick admits at most one Request. Authentication runs in the background;
// Tick returns true if it started one.
func (q *Queue) Tick(ctx context.Context) bool {
	address := q.registry.claimNext(q.lookahead)
	if address == "" {
		return false
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.admit(ctx, address)
	}()
	return true
}

func (q *Queue) admit(ctx context.Context, address string) {
	q.DLogf("Authenticating %s", address)
	s, err := q.auth(ctx, address)
	if err != nil {
		q.registry.complete(address, nil)
		q.ILogf("Connection to %s failed: %s", address, err)
		if q.OnReject != nil {
			q.OnReject(ctx, address, err)
		}
		return
	}
	q.registry.complete(address, s)
	q.ILogf("Connected to %s", address)
	if q.OnAdmit != nil {
		q.OnAdmit(ctx, s)
	}
}

// Run ticks until ctx is done, then waits for in-flight authentications
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Wait()
			return ctx.Err()
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Wait blocks until every authentication started by Tick has finished
func (q *Queue) Wait() {
	q.wg.Wait()
}
