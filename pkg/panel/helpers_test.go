package panel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/sammck-go/panelrelay/pkg/veyon"
)

type recordingDisplay struct {
	mu        sync.Mutex
	frames    int
	errors    []string
	userNames []string
	hostNames []string
	messages  []string
}

func (d *recordingDisplay) ShowFrame(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++
}

func (d *recordingDisplay) ShowError(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, message)
}

func (d *recordingDisplay) ShowUserName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userNames = append(d.userNames, name)
}

func (d *recordingDisplay) ShowHostName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hostNames = append(d.hostNames, name)
}

func (d *recordingDisplay) ShowMessage(text string, outgoing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if outgoing {
		text = "> " + text
	}
	d.messages = append(d.messages, text)
}

func (d *recordingDisplay) snapshot() recordingDisplay {
	d.mu.Lock()
	defer d.mu.Unlock()
	return recordingDisplay{
		frames:    d.frames,
		errors:    append([]string(nil), d.errors...),
		userNames: append([]string(nil), d.userNames...),
		hostNames: append([]string(nil), d.hostNames...),
		messages:  append([]string(nil), d.messages...),
	}
}

type fixedVisibility struct {
	focused bool
	visible bool
}

func (v fixedVisibility) Focused() bool { return v.focused }
func (v fixedVisibility) Visible() bool { return v.visible }

// fakeSource is a FrameSource whose captures are scripted by capture
type fakeSource struct {
	connected   atomic.Bool
	calls       atomic.Int32
	capture     func(ctx context.Context) ([]byte, error)
	invalidOnce sync.Once
	invalid     chan struct{}
	err         error
}

func newFakeSource(capture func(ctx context.Context) ([]byte, error)) *fakeSource {
	s := &fakeSource{capture: capture, invalid: make(chan struct{})}
	s.connected.Store(true)
	return s
}

func (s *fakeSource) invalidate(err error) {
	s.connected.Store(false)
	s.invalidOnce.Do(func() {
		s.err = err
		close(s.invalid)
	})
}

func (s *fakeSource) Connected() bool { return s.connected.Load() }

func (s *fakeSource) Invalidated() <-chan struct{} { return s.invalid }

func (s *fakeSource) Err() error {
	select {
	case <-s.invalid:
		return s.err
	default:
		return nil
	}
}

func (s *fakeSource) CaptureFrame(ctx context.Context, opts veyon.FrameOptions) ([]byte, error) {
	s.calls.Add(1)
	return s.capture(ctx)
}

// fakeEndpoints answers WebAPI requests for any number of hosts. Each request
// is logged as "METHOD path".
type fakeEndpoints struct {
	mu       sync.Mutex
	calls    []string
	requests []*veyon.Request
	respond  func(req *veyon.Request) (*veyon.Response, error)
}

func (f *fakeEndpoints) Do(ctx context.Context, req *veyon.Request) (*veyon.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+req.Path)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeEndpoints) find(method, prefix string) *veyon.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			return r
		}
	}
	return nil
}

func (f *fakeEndpoints) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func jsonResponse(status int, v interface{}) *veyon.Response {
	b, _ := json.Marshal(v)
	return &veyon.Response{Status: status, ContentType: "application/json", Body: b}
}

func apiFailure(status int, message string, code int) *veyon.Response {
	return jsonResponse(status, map[string]interface{}{
		"error": map[string]interface{}{"message": message, "code": code},
	})
}

func testLogger() logger.Logger {
	return logger.Discard()
}
