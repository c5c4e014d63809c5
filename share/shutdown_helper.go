package prshare

import (
	"context"
	"sync"

	"github.com/sammck-go/panelrelay/pkg/logger"
)

// OnceActivateHandler activates an object with shutdown paused. A non-nil
// return starts shutdown with that error instead.
type OnceActivateHandler func() error

// OnceShutdownHandler is implemented by objects managed by a ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine, never
	// while shutdown is paused. completionErr is advisory; the return value is
	// the final status.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is an object that can be shut down in the background and
// waited on
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool
	WaitShutdown() error
}

// ShutdownHelper is embedded in long-lived objects to give them a single,
// asynchronous, context-aware shutdown path. Children added with
// AddShutdownChild are shut down after the owner's handler returns, and the
// owner is not done until they are.
type ShutdownHelper struct {
	logger.Logger

	// Lock guards the helper's state and may be used by the embedding object
	Lock sync.Mutex

	handler     OnceShutdownHandler
	pauseCount  int
	activated   bool
	scheduled   bool
	started     bool
	done        bool
	shutdownErr error

	startedChan     chan struct{}
	handlerDoneChan chan struct{}
	doneChan        chan struct{}

	wg sync.WaitGroup
}

// InitShutdownHelper initializes h in place
func (h *ShutdownHelper) InitShutdownHelper(lg logger.Logger, handler OnceShutdownHandler) {
	h.Logger = lg
	h.handler = handler
	h.startedChan = make(chan struct{})
	h.handlerDoneChan = make(chan struct{})
	h.doneChan = make(chan struct{})
}

// runShutdown must be called exactly once, after started has been set
func (h *ShutdownHelper) runShutdown() {
	h.TLogf("Shutdown started")
	close(h.startedChan)
	go func() {
		h.shutdownErr = h.handler.HandleOnceShutdown(h.shutdownErr)
		close(h.handlerDoneChan)
		h.wg.Wait()
		h.Lock.Lock()
		h.done = true
		h.Lock.Unlock()
		h.TLogf("Shutdown done")
		close(h.doneChan)
	}()
}

// DoOnceActivate runs activate with shutdown paused, unless the object is
// already active (returns nil) or already shutting down (returns an error).
// If activate fails, shutdown is started with its error; with waitOnFail the
// call then waits for shutdown to finish.
func (h *ShutdownHelper) DoOnceActivate(activate OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.activated {
		h.Lock.Unlock()
		return nil
	}
	if h.started {
		h.Lock.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("shutdown already started; cannot activate")
		}
		return err
	}
	h.pauseCount++
	h.Lock.Unlock()

	err := activate()
	if err == nil {
		h.Lock.Lock()
		if h.scheduled {
			err = h.Errorf("shutdown scheduled during activation")
		} else {
			h.activated = true
		}
		h.Lock.Unlock()
	}
	if err != nil {
		h.StartShutdown(err)
	}
	h.resumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

func (h *ShutdownHelper) resumeShutdown() {
	h.Lock.Lock()
	if h.pauseCount < 1 {
		h.Lock.Unlock()
		h.Panicf("resumeShutdown without matching pause")
	}
	h.pauseCount--
	now := h.pauseCount == 0 && h.scheduled && !h.started
	if now {
		h.started = true
	}
	h.Lock.Unlock()
	if now {
		h.runShutdown()
	}
}

// IsActivated reports whether DoOnceActivate has succeeded
func (h *ShutdownHelper) IsActivated() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.activated
}

// ShutdownOnContext starts shutdown with ctx's error when ctx is done. It
// does not block.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown reports whether shutdown has begun
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.started
}

// IsDoneShutdown reports whether shutdown is complete
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.done
}

// ShutdownWG returns a WaitGroup that shutdown waits on before completing
func (h *ShutdownHelper) ShutdownWG() *sync.WaitGroup {
	return &h.wg
}

// ShutdownStartedChan is closed as soon as shutdown begins
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.startedChan
}

// ShutdownDoneChan is closed once shutdown is complete
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// WaitShutdown blocks until shutdown is complete and returns the final status.
// It does not start shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	return h.shutdownErr
}

// Shutdown starts shutdown if needed and waits for it
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// StartShutdown schedules shutdown with an advisory completion status. Only
// the first call has any effect. While shutdown is paused the start is
// deferred until the pause ends.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.Lock.Lock()
	now := false
	if !h.scheduled {
		h.shutdownErr = completionErr
		h.scheduled = true
		now = h.pauseCount == 0
		h.started = now
	}
	h.Lock.Unlock()
	if now {
		h.runShutdown()
	}
}

// Close shuts down with a nil advisory status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild makes child part of this object's shutdown: it is shut
// down after HandleOnceShutdown returns, and waited for.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDoneChan:
			child.StartShutdown(h.shutdownErr)
			child.WaitShutdown()
		}
	}()
}
