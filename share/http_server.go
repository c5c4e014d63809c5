package prshare

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sammck-go/panelrelay/pkg/logger"
)

// shutdownGrace bounds how long in-flight requests may run once the server
// is shutting down
const shutdownGrace = 5 * time.Second

// HTTPServer is an http.Server with context-driven graceful shutdown
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener net.Listener
}

// NewHTTPServer creates a new HTTPServer
func NewHTTPServer(lg logger.Logger) *HTTPServer {
	h := &HTTPServer{
		Server: &http.Server{ReadHeaderTimeout: 30 * time.Second},
	}
	h.InitShutdownHelper(lg, h)
	return h
}

// HandleOnceShutdown drains in-flight requests, then closes the listener
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	if h.listener == nil {
		return completionErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	if err != nil {
		h.DLogf("Graceful shutdown failed, closing: %s", err)
		err = h.Server.Close()
	}
	// Serve may never have taken ownership of the listener
	h.listener.Close()
	if completionErr == nil || errors.Is(completionErr, http.ErrServerClosed) {
		completionErr = err
	}
	return completionErr
}

// Listen binds addr. It is separate from Serve so callers can learn the bound
// address when addr uses port 0.
func (h *HTTPServer) Listen(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, h.DLogErrorf("Listen on %s failed: %s", addr, err)
	}
	h.listener = l
	return l.Addr(), nil
}

// ListenAndServe serves handler on addr until ctx is done or Shutdown is
// called, and returns the final completion status
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	err := h.DoOnceActivate(
		func() error {
			if h.listener == nil {
				if _, err := h.Listen(addr); err != nil {
					return err
				}
			}
			h.ShutdownOnContext(ctx)
			h.Handler = handler
			go func() {
				h.StartShutdown(h.Serve(h.listener))
			}()
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	err = h.WaitShutdown()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Shutdown shuts the server down and returns the final completion status
func (h *HTTPServer) Shutdown(completionErr error) error {
	return h.ShutdownHelper.Shutdown(completionErr)
}

// Close shuts the server down with a nil advisory status
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
