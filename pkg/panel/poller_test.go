package panel

import (
	"context"
	"testing"
	"time"

	"github.com/sammck-go/panelrelay/pkg/veyon"
)

func TestShouldRun(t *testing.T) {
	cases := []struct {
		focused, visible, force, want bool
	}{
		{true, true, false, true},
		{false, true, false, false},
		{true, false, false, false},
		{false, false, true, true},
	}
	for _, c := range cases {
		if got := ShouldRun(c.focused, c.visible, c.force); got != c.want {
			t.Errorf("ShouldRun(%v, %v, %v) = %v", c.focused, c.visible, c.force, got)
		}
	}
}

func TestPollerSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		close(entered)
		<-release
		return []byte("jpeg"), nil
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)

	result := make(chan TickResult)
	go func() { result <- p.Tick(context.Background(), false) }()
	<-entered

	if got := p.Tick(context.Background(), false); got != TickBusy {
		t.Fatalf("overlapping tick returned %s", got)
	}
	if got := p.Tick(context.Background(), true); got != TickBusy {
		t.Fatalf("overlapping forced tick returned %s", got)
	}
	close(release)
	if got := <-result; got != TickDelivered {
		t.Fatalf("first tick returned %s", got)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected 1 capture, got %d", src.calls.Load())
	}
	if !p.Revealed() {
		t.Errorf("panel not revealed after a frame")
	}
}

func TestPollerInvalidSessionShowsOneError(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return nil, veyon.NewAPIError(400, "Invalid connection", veyon.CodeInvalidConnection)
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)

	if got := p.Tick(context.Background(), false); got != TickTerminated {
		t.Fatalf("expected terminated, got %s", got)
	}
	for i := 0; i < 3; i++ {
		if got := p.Tick(context.Background(), true); got != TickStopped {
			t.Fatalf("tick after termination returned %s", got)
		}
	}
	if src.calls.Load() != 1 {
		t.Errorf("expected no captures after termination, got %d", src.calls.Load())
	}
	snap := display.snapshot()
	if len(snap.errors) != 1 || snap.errors[0] != "Invalid connection" {
		t.Fatalf("expected one error display, got %v", snap.errors)
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("poller not marked done")
	}
}

func TestPollerHiddenUnlessForced(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return []byte("png"), nil
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, fixedVisibility{focused: true}, DefaultPreview, time.Hour)

	if got := p.Tick(context.Background(), false); got != TickHidden {
		t.Fatalf("hidden tick returned %s", got)
	}
	if src.calls.Load() != 0 {
		t.Fatalf("hidden tick captured a frame")
	}
	if got := p.Tick(context.Background(), true); got != TickDelivered {
		t.Fatalf("forced tick returned %s", got)
	}
	if display.snapshot().frames != 1 {
		t.Fatalf("forced frame was not shown")
	}
}

func TestPollerTransientErrorsContinue(t *testing.T) {
	fail := true
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		if fail {
			return nil, veyon.NewAPIError(0, "connection refused", veyon.CodeNone)
		}
		return []byte("jpeg"), nil
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)

	if got := p.Tick(context.Background(), false); got != TickFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	fail = false
	if got := p.Tick(context.Background(), false); got != TickDelivered {
		t.Fatalf("expected delivered after recovery, got %s", got)
	}
	if n := len(display.snapshot().errors); n != 0 {
		t.Fatalf("transient error was displayed %d times", n)
	}
}

func TestPollerStopsWhenDisconnected(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return []byte("jpeg"), nil
	})
	src.connected.Store(false)
	p := NewPoller(testLogger(), src, &recordingDisplay{}, nil, DefaultPreview, time.Hour)

	if got := p.Tick(context.Background(), false); got != TickStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	if src.calls.Load() != 0 {
		t.Fatalf("disconnected source was captured")
	}
	if !p.Stopped() {
		t.Fatalf("poller still running")
	}
}

func TestPollerDefectTerminates(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return nil, &veyon.DefectError{HTTPStatus: 200, ContentType: "text/html", Reason: "not an image"}
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)

	if got := p.Tick(context.Background(), false); got != TickTerminated {
		t.Fatalf("expected terminated, got %s", got)
	}
	if n := len(display.snapshot().errors); n != 1 {
		t.Fatalf("expected one error display, got %d", n)
	}
}

func TestPollerInvalidatedWhileHidden(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return []byte("jpeg"), nil
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, fixedVisibility{}, DefaultPreview, time.Hour)
	go p.Run(context.Background())

	src.invalidate(veyon.NewAPIError(400, "Invalid connection", veyon.CodeInvalidConnection))
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop after invalidation")
	}
	if !veyon.IsSessionInvalid(p.Err()) {
		t.Errorf("poller error = %v", p.Err())
	}
	if got := p.Tick(context.Background(), true); got != TickStopped {
		t.Errorf("tick after invalidation returned %s", got)
	}
	snap := display.snapshot()
	if len(snap.errors) != 1 || snap.errors[0] != "Invalid connection" {
		t.Fatalf("expected one error display, got %v", snap.errors)
	}
	if src.calls.Load() != 0 {
		t.Errorf("hidden poller captured %d frames", src.calls.Load())
	}
}

func TestPollerTickOnInvalidatedSourceTerminates(t *testing.T) {
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		return []byte("jpeg"), nil
	})
	src.invalidate(veyon.NewAPIError(400, "Invalid connection", veyon.CodeInvalidConnection))
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)
	p.InvalidMessage = "Connection invalidated"

	if got := p.Tick(context.Background(), false); got != TickTerminated {
		t.Fatalf("expected terminated, got %s", got)
	}
	snap := display.snapshot()
	if len(snap.errors) != 1 || snap.errors[0] != "Connection invalidated" {
		t.Fatalf("unexpected error display %v", snap.errors)
	}
}

func TestPollerDropsFrameCapturedAfterStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	src := newFakeSource(func(ctx context.Context) ([]byte, error) {
		close(entered)
		<-release
		return []byte("jpeg"), nil
	})
	display := &recordingDisplay{}
	p := NewPoller(testLogger(), src, display, nil, DefaultPreview, time.Hour)

	result := make(chan TickResult)
	go func() { result <- p.Tick(context.Background(), true) }()
	<-entered
	p.Stop()
	close(release)

	if got := <-result; got != TickStopped {
		t.Fatalf("tick returned %s", got)
	}
	if n := display.snapshot().frames; n != 0 {
		t.Fatalf("stopped poller showed %d frames", n)
	}
}
