package veyon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sammck-go/panelrelay/pkg/logger"
)

type fakeRelay struct {
	mu       sync.Mutex
	requests []*Request
	respond  func(req *Request) (*Response, error)
}

func (r *fakeRelay) Do(ctx context.Context, req *Request) (*Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.respond(req)
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func jsonResponse(status int, v interface{}) *Response {
	b, _ := json.Marshal(v)
	return &Response{Status: status, ContentType: "application/json", Body: b}
}

func newTestClient(respond func(req *Request) (*Response, error)) (*Client, *fakeRelay) {
	relay := &fakeRelay{respond: respond}
	return NewClient(logger.Discard(), relay), relay
}

func TestAuthenticateRoundTrip(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		return jsonResponse(200, map[string]string{"connection-uid": "abc", "validUntil": "1700000000"}), nil
	})

	s, err := c.Authenticate(context.Background(), "10.0.0.5", AuthLogon, Credentials(AuthLogon, "GSZI\\bob", "pw"))
	if err != nil {
		t.Fatalf("Authenticate returned error: %s", err)
	}
	if s.Host() != "10.0.0.5" || s.UID() != "abc" || s.ValidUntil() != 1700000000 {
		t.Fatalf("unexpected session %s valid until %d", s, s.ValidUntil())
	}
	if !s.Connected() {
		t.Errorf("new session is not connected")
	}

	req := relay.requests[0]
	if req.Method != http.MethodPost || req.Path != "/api/v1/authentication/10.0.0.5" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	var body struct {
		Method      string            `json:"method"`
		Credentials map[string]string `json:"credentials"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("bad request body: %s", err)
	}
	if body.Method != string(AuthLogon) || body.Credentials["username"] != "GSZI\\bob" {
		t.Errorf("unexpected auth body %s", req.Body)
	}
}

func TestAuthenticateNumericValidUntil(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return &Response{Status: 200, ContentType: "application/json; charset=utf-8",
			Body: []byte(`{"connection-uid":"x","validUntil":1700000042}`)}, nil
	})
	s, err := c.Authenticate(context.Background(), "h", AuthSimple, Credentials(AuthSimple, "", "pw"))
	if err != nil {
		t.Fatalf("Authenticate returned error: %s", err)
	}
	if s.ValidUntil() != 1700000042 {
		t.Errorf("validUntil = %d", s.ValidUntil())
	}
}

func TestAuthenticateRejected(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return jsonResponse(401, map[string]interface{}{"error": map[string]interface{}{"message": "Authentication failed", "code": 6}}), nil
	})
	_, err := c.Authenticate(context.Background(), "h", AuthLogon, nil)
	if !IsAuthRejected(err) || !IsTerminal(err) {
		t.Fatalf("expected auth rejection, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != 401 || apiErr.Message != "Authentication failed" {
		t.Errorf("unexpected error fields %#v", apiErr)
	}
}

func TestAuthMethods(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		return jsonResponse(200, map[string]interface{}{"methods": []string{string(AuthKeys), string(AuthLogon)}}), nil
	})
	methods, err := c.AuthMethods(context.Background(), "10.0.0.5")
	if err != nil {
		t.Fatalf("AuthMethods returned error: %s", err)
	}
	if len(methods) != 2 || methods[0] != AuthKeys || methods[1] != AuthLogon {
		t.Errorf("unexpected methods %v", methods)
	}
	req := relay.requests[0]
	if req.Method != http.MethodGet || req.Path != "/api/v1/authentication/10.0.0.5" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
}

func TestTransportFailureIsAPIError(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := c.Authenticate(context.Background(), "h", AuthLogon, nil)
	if !IsTransport(err) || IsTerminal(err) {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		return &Response{Status: 200}, nil
	})
	s := NewSession(c, "abc", 0, "10.0.0.5")

	if err := s.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy returned error: %s", err)
	}
	if s.Connected() {
		t.Fatalf("session still connected after Destroy")
	}
	if err := s.Destroy(context.Background()); err != nil {
		t.Fatalf("second Destroy returned error: %s", err)
	}
	if n := relay.count(); n != 1 {
		t.Fatalf("expected 1 deauthentication call, got %d", n)
	}
	req := relay.requests[0]
	if req.Method != http.MethodDelete || req.Header[HeaderConnectionUID] != "abc" {
		t.Errorf("unexpected deauthentication request %#v", req)
	}
}

func TestDestroyFailureDoesNotReconnect(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return nil, errors.New("relay down")
	})
	s := NewSession(c, "abc", 0, "h")
	if err := s.Destroy(context.Background()); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("failed Destroy reverted connected")
	}
}

func TestClosedSessionIssuesNoCalls(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		return &Response{Status: 200}, nil
	})
	s := NewSession(c, "abc", 0, "h")
	_ = s.Destroy(context.Background())
	before := relay.count()

	if _, err := s.CaptureFrame(context.Background(), FrameOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("CaptureFrame on closed session: %v", err)
	}
	if _, err := s.User(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("User on closed session: %v", err)
	}
	if relay.count() != before {
		t.Errorf("closed session issued %d calls", relay.count()-before)
	}
}

func TestCaptureFrameDefaultsAndInvalidation(t *testing.T) {
	calls := 0
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		calls++
		if calls == 1 {
			return &Response{Status: 200, ContentType: "image/jpeg", Body: []byte{0xff, 0xd8}}, nil
		}
		return jsonResponse(401, map[string]interface{}{"error": map[string]interface{}{"message": "Invalid connection", "code": 2}}), nil
	})
	s := NewSession(c, "abc", 0, "h")

	img, err := s.CaptureFrame(context.Background(), FrameOptions{})
	if err != nil || len(img) != 2 {
		t.Fatalf("CaptureFrame = %v, %v", img, err)
	}
	path := relay.requests[0].Path
	for _, want := range []string{"/api/v1/framebuffer?", "format=jpeg", "compression=9", "quality=10", "width=640", "height=480"} {
		if !strings.Contains(path, want) {
			t.Errorf("path %q lacks %q", path, want)
		}
	}

	_, err = s.CaptureFrame(context.Background(), FrameOptions{Width: 320, Height: 240})
	if !IsSessionInvalid(err) {
		t.Fatalf("expected invalid connection, got %v", err)
	}
}

func TestScopedInvalidConnectionInvalidatesSession(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		return jsonResponse(400, map[string]interface{}{"error": map[string]interface{}{"message": "Invalid connection", "code": 2}}), nil
	})
	s := NewSession(c, "abc", 0, "h")

	_, err := s.User(context.Background())
	if !IsSessionInvalid(err) {
		t.Fatalf("expected invalid connection, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("session still connected")
	}
	select {
	case <-s.Invalidated():
	default:
		t.Fatalf("invalidation not signalled")
	}
	if !IsSessionInvalid(s.Err()) {
		t.Errorf("Err() = %v", s.Err())
	}
	before := relay.count()
	if _, err := s.Features(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("call after invalidation returned %v", err)
	}
	if err := s.Destroy(context.Background()); err != nil || relay.count() != before {
		t.Errorf("Destroy after invalidation sent a request")
	}
}

func TestOtherFailuresKeepSession(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return jsonResponse(500, map[string]interface{}{"error": map[string]interface{}{"message": "busy", "code": 3}}), nil
	})
	s := NewSession(c, "abc", 0, "h")
	if _, err := s.Info(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	if !s.Connected() || s.Err() != nil {
		t.Fatalf("non-terminal failure closed the session")
	}
}

func TestMalformedResponsesAreDefects(t *testing.T) {
	cases := []*Response{
		{Status: 200, ContentType: "application/octet-stream", Body: []byte("??")},
		{Status: 500, ContentType: "application/json", Body: []byte(`{"oops":true}`)},
		{Status: 500, ContentType: "application/json", Body: []byte(`{"error":{"message":"no code"}}`)},
		{Status: 500, ContentType: "application/json", Body: []byte(`not json`)},
	}
	for i, resp := range cases {
		resp := resp
		c, _ := newTestClient(func(req *Request) (*Response, error) { return resp, nil })
		s := NewSession(c, "abc", 0, "h")
		_, err := s.User(context.Background())
		if !IsDefect(err) {
			t.Errorf("case %d: expected defect, got %v", i, err)
		}
	}
}

func TestPlainTextFailure(t *testing.T) {
	c, _ := newTestClient(func(req *Request) (*Response, error) {
		return &Response{Status: 404, ContentType: "text/plain", Body: []byte("no such host")}, nil
	})
	s := NewSession(c, "abc", 0, "h")
	_, err := s.Info(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != 404 || apiErr.Code != CodeNone || apiErr.Message != "no such host" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFeaturesLookupAndSetStatus(t *testing.T) {
	c, relay := newTestClient(func(req *Request) (*Response, error) {
		if req.Method == http.MethodPut {
			return &Response{Status: 200, ContentType: "application/json", Body: []byte(`{}`)}, nil
		}
		return jsonResponse(200, []map[string]interface{}{
			{"uid": "u1", "parentUid": "", "name": "ScreenLock", "active": false},
			{"uid": "u2", "parentUid": "", "name": "StartApp", "active": false},
		}), nil
	})
	s := NewSession(c, "abc", 0, "h")
	features, err := s.Features(context.Background())
	if err != nil {
		t.Fatalf("Features returned error: %s", err)
	}
	f, ok := features.ByName(FeatureStartApp)
	if !ok || f.UID != "u2" {
		t.Fatalf("StartApp not found: %v", features)
	}
	if _, ok := features.ByUID("missing"); ok {
		t.Errorf("ByUID found a missing uid")
	}
	if err := f.SetStatus(context.Background(), true, StartAppArgs("notepad")); err != nil {
		t.Fatalf("SetStatus returned error: %s", err)
	}
	put := relay.requests[1]
	if put.Path != "/api/v1/feature/u2" || put.Header[HeaderConnectionUID] != "abc" {
		t.Errorf("unexpected PUT %s %v", put.Path, put.Header)
	}
	if string(put.Body) != `{"active":true,"arguments":{"applications":["notepad"]}}` {
		t.Errorf("unexpected PUT body %s", put.Body)
	}
}

func TestProxyRelayEncodesQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	relay, err := NewProxyRelay(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProxyRelay returned error: %s", err)
	}
	resp, err := relay.Do(context.Background(), &Request{
		Path:   "/api/v1/user",
		Method: http.MethodGet,
		Header: map[string]string{HeaderConnectionUID: "abc"},
	})
	if err != nil {
		t.Fatalf("Do returned error: %s", err)
	}
	if resp.Status != 200 || string(resp.Body) != "ok" {
		t.Errorf("unexpected response %#v", resp)
	}
	q := got.URL.Query()
	if got.URL.Path != "/proxy" || q.Get("url") != "/api/v1/user" || q.Get("method") != "GET" {
		t.Errorf("unexpected proxy request %s", got.URL)
	}
	if q.Get("headers") != `{"Connection-Uid":"abc"}` {
		t.Errorf("unexpected headers param %q", q.Get("headers"))
	}
}
