package panel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

// DefaultPollInterval is the time between preview refreshes
const DefaultPollInterval = 2 * time.Second

// DefaultPreview is the frame requested for panel previews
var DefaultPreview = veyon.FrameOptions{
	Format:      veyon.FormatJPEG,
	Width:       320,
	Height:      240,
	Compression: 9,
	Quality:     10,
}

// FrameSource is the part of a Session a Poller uses. Invalidated and Err
// report a session that any call has found to be no longer valid.
type FrameSource interface {
	Connected() bool
	Invalidated() <-chan struct{}
	Err() error
	CaptureFrame(ctx context.Context, opts veyon.FrameOptions) ([]byte, error)
}

// TickResult says what a single Poller tick did
type TickResult int

const (
	// TickHidden means the panel was not visible and no fetch was made
	TickHidden TickResult = iota
	// TickBusy means a fetch for this session was already outstanding
	TickBusy
	// TickStopped means the poller has stopped and will not fetch again
	TickStopped
	// TickDelivered means a frame was fetched and shown
	TickDelivered
	// TickFailed means the fetch failed with a transient error
	TickFailed
	// TickTerminated means the fetch failed terminally and the poller stopped
	TickTerminated
)

var tickResultNames = [...]string{"hidden", "busy", "stopped", "delivered", "failed", "terminated"}

func (r TickResult) String() string {
	if r < 0 || int(r) >= len(tickResultNames) {
		return "unknown"
	}
	return tickResultNames[r]
}

// ShouldRun is the visibility gate for a tick: a forced refresh always runs,
// otherwise the surface must be focused and the panel visible.
func ShouldRun(focused, visible, force bool) bool {
	return force || (focused && visible)
}

// Poller refreshes one session's preview on a timer. At most one capture is in
// flight at a time, and the first terminal error stops it for good.
type Poller struct {
	logger.Logger
	source     FrameSource
	display    Display
	visibility Visibility
	opts       veyon.FrameOptions
	interval   time.Duration

	// InvalidMessage, if set, replaces the endpoint's message when the
	// session is found to be invalid
	InvalidMessage string

	busy     atomic.Bool
	revealed atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// NewPoller creates a Poller. A nil visibility means AlwaysVisible.
func NewPoller(lg logger.Logger, source FrameSource, display Display, visibility Visibility, opts veyon.FrameOptions, interval time.Duration) *Poller {
	if visibility == nil {
		visibility = AlwaysVisible{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		Logger:     lg,
		source:     source,
		display:    display,
		visibility: visibility,
		opts:       opts,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Stop cancels the poller. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Done returns a channel closed once the poller has stopped
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Stopped reports whether the poller has stopped
func (p *Poller) Stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the terminal error the poller stopped with. It is nil while the
// poller runs and after a plain Stop.
func (p *Poller) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Revealed reports whether at least one frame has been shown
func (p *Poller) Revealed() bool {
	return p.revealed.Load()
}

// Tick performs one refresh attempt. force bypasses the visibility gate.
func (p *Poller) Tick(ctx context.Context, force bool) TickResult {
	if p.Stopped() {
		return TickStopped
	}
	if !ShouldRun(p.visibility.Focused(), p.visibility.Visible(), force) {
		return TickHidden
	}
	if !p.busy.CompareAndSwap(false, true) {
		return TickBusy
	}
	defer p.busy.Store(false)

	if !p.source.Connected() {
		return p.disconnected()
	}

	frame, err := p.source.CaptureFrame(ctx, p.opts)
	if err == nil {
		if p.Stopped() {
			return TickStopped
		}
		p.display.ShowFrame(frame)
		p.revealed.Store(true)
		return TickDelivered
	}

	var defect *veyon.DefectError
	switch {
	case veyon.IsSessionInvalid(err):
		p.terminate(err)
		return TickTerminated
	case errors.As(err, &defect):
		p.ELogf("Unreadable frame response, stopping: %s", err)
		p.terminate(err)
		return TickTerminated
	case errors.Is(err, veyon.ErrClosed):
		return p.disconnected()
	}
	p.DLogf("Frame refresh failed: %s", err)
	return TickFailed
}

// disconnected stops the poller for a source that is no longer connected. An
// invalidated session is terminal; a destroyed one stops quietly.
func (p *Poller) disconnected() TickResult {
	if err := p.source.Err(); err != nil {
		p.terminate(err)
		return TickTerminated
	}
	p.Stop()
	return TickStopped
}

// terminate stops the poller and shows err once
func (p *Poller) terminate(err error) {
	first := false
	p.stopOnce.Do(func() {
		first = true
		p.err = err
		close(p.done)
	})
	if !first {
		return
	}
	msg := err.Error()
	var apiErr *veyon.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	if p.InvalidMessage != "" && veyon.IsSessionInvalid(err) {
		msg = p.InvalidMessage
	}
	p.display.ShowError(msg)
}

// Run ticks every interval until the poller stops or ctx is done
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.source.Invalidated():
			p.terminate(p.source.Err())
			return
		case <-ticker.C:
			p.Tick(ctx, false)
		}
	}
}
