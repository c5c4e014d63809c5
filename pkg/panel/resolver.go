package panel

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

const (
	// DefaultMetadataRetries is how many times a metadata probe is attempted
	DefaultMetadataRetries = 3

	// DefaultMetadataCooldown is the wait between metadata probe attempts
	DefaultMetadataCooldown = 5 * time.Second
)

// Probe is one attempt to read a slowly-populated value. It returns done once
// the value is available. An error ends the retry loop at once.
type Probe func(ctx context.Context) (done bool, err error)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier repeats a Probe a bounded number of times with a cooldown between
// attempts
type Retrier struct {
	logger.Logger
	MaxRetries int

	// Backoff yields the wait before each retry. NewRetrier sets it to a
	// constant cooldown.
	Backoff *backoff.Backoff

	// Sleep defaults to a context-aware timer
	Sleep SleepFunc
}

// NewRetrier creates a Retrier with a constant cooldown
func NewRetrier(lg logger.Logger, maxRetries int, cooldown time.Duration) *Retrier {
	return &Retrier{
		Logger:     lg,
		MaxRetries: maxRetries,
		Backoff:    &backoff.Backoff{Min: cooldown, Max: cooldown, Factor: 1},
		Sleep:      sleepContext,
	}
}

// Do runs probe until it reports done, errors, or MaxRetries attempts have been
// made. It returns false only when every attempt came back not done. A probe
// error is logged and counts as finished: hard failures are not retried here.
func (r *Retrier) Do(ctx context.Context, probe Probe) bool {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	b := r.Backoff
	if b == nil {
		b = &backoff.Backoff{Min: DefaultMetadataCooldown, Max: DefaultMetadataCooldown, Factor: 1}
	}
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		done, err := probe(ctx)
		if err != nil {
			r.DLogf("Probe failed, not retrying: %s", err)
			return true
		}
		if done {
			return true
		}
		if attempt == r.MaxRetries {
			break
		}
		if err := sleep(ctx, b.Duration()); err != nil {
			return false
		}
	}
	return false
}

// MetadataSource is the part of a Session the resolvers read
type MetadataSource interface {
	User(ctx context.Context) (*veyon.UserInfo, error)
	Info(ctx context.Context) (*veyon.SessionInfo, error)
}

// ResolveUserName shows the logged-on user's full name once the endpoint
// reports one
func ResolveUserName(ctx context.Context, r *Retrier, src MetadataSource, display Display) bool {
	return r.Do(ctx, func(ctx context.Context) (bool, error) {
		user, err := src.User(ctx)
		if err != nil {
			return false, err
		}
		display.ShowUserName(user.FullName)
		return user.FullName != "", nil
	})
}

// ResolveHostName shows the endpoint's host name once the endpoint reports one
func ResolveHostName(ctx context.Context, r *Retrier, src MetadataSource, display Display) bool {
	return r.Do(ctx, func(ctx context.Context) (bool, error) {
		info, err := src.Info(ctx)
		if err != nil {
			return false, err
		}
		display.ShowHostName(info.SessionHostName)
		return info.SessionHostName != "", nil
	})
}
