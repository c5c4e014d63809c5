package prshare

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sammck-go/panelrelay/pkg/logger"
)

type seenRequest struct {
	method string
	uri    string
	header http.Header
	body   string
}

func newVendor(t *testing.T, status int, contentType, reply string) (*httptest.Server, func() seenRequest) {
	var mu sync.Mutex
	var last seenRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		last = seenRequest{method: r.Method, uri: r.URL.RequestURI(), header: r.Header.Clone(), body: string(b)}
		mu.Unlock()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Vendor", "veyon")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	return ts, func() seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func newTestProxy(t *testing.T, vendorURL string) *Proxy {
	p, err := NewProxy(logger.Discard(), vendorURL, nil)
	if err != nil {
		t.Fatalf("NewProxy: %s", err)
	}
	return p
}

func proxyQuery(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/proxy?" + q.Encode()
}

func TestProxyForwardsRequest(t *testing.T) {
	vendor, last := newVendor(t, 200, "application/json", `{"connection-uid":"abc","validUntil":1}`)
	p := newTestProxy(t, strings.TrimPrefix(vendor.URL, "http://"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, proxyQuery(map[string]string{
		"url":     "/api/v1/authentication/10.0.0.5",
		"method":  "post",
		"body":    `{"method":"m"}`,
		"headers": `{"Connection-Uid":"abc"}`,
	}), nil)
	p.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != `{"connection-uid":"abc","validUntil":1}` {
		t.Errorf("body not streamed back: %s", rec.Body)
	}
	if rec.Header().Get("X-Vendor") != "veyon" {
		t.Errorf("vendor headers not copied")
	}
	got := last()
	if got.method != http.MethodPost || got.uri != "/api/v1/authentication/10.0.0.5" {
		t.Errorf("unexpected forwarded request %s %s", got.method, got.uri)
	}
	if got.body != `{"method":"m"}` {
		t.Errorf("unexpected forwarded body %q", got.body)
	}
	if got.header.Get("Connection-Uid") != "abc" {
		t.Errorf("session header not forwarded")
	}
	if p.Stats().Total() != 1 {
		t.Errorf("expected 1 counted request, got %d", p.Stats().Total())
	}
}

func TestProxyTreatsUndefinedAsAbsent(t *testing.T) {
	vendor, last := newVendor(t, 200, "image/jpeg", "\xff\xd8")
	p := newTestProxy(t, vendor.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, proxyQuery(map[string]string{
		"url":     "/api/v1/framebuffer?format=jpeg&width=320",
		"method":  "undefined",
		"body":    "null",
		"headers": "undefined",
	}), nil)
	p.ServeHTTP(rec, req)

	if rec.Code != 200 || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	got := last()
	if got.method != http.MethodGet {
		t.Errorf("expected default GET, got %s", got.method)
	}
	if got.uri != "/api/v1/framebuffer?format=jpeg&width=320" {
		t.Errorf("query not preserved: %s", got.uri)
	}
	if got.body != "" {
		t.Errorf("null body was forwarded: %q", got.body)
	}
}

func TestProxyPassesVendorFailureThrough(t *testing.T) {
	vendor, _ := newVendor(t, 401, "application/json", `{"error":{"message":"Authentication failed","code":6}}`)
	p := newTestProxy(t, vendor.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyQuery(map[string]string{"url": "/api/v1/user"}), nil))
	if rec.Code != 401 || !strings.Contains(rec.Body.String(), `"code":6`) {
		t.Fatalf("vendor failure altered: %d %s", rec.Code, rec.Body)
	}
}

func TestProxyUnreachableVendor(t *testing.T) {
	vendor, _ := newVendor(t, 200, "text/plain", "")
	addr := vendor.URL
	vendor.Close()
	p := newTestProxy(t, addr)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyQuery(map[string]string{"url": "/api/v1/user"}), nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    *int   `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %s", rec.Body)
	}
	if body.Error.Message == "" || body.Error.Code == nil || *body.Error.Code != 0 {
		t.Fatalf("unexpected error body %s", rec.Body)
	}
}

func TestProxyRejectsForeignTargets(t *testing.T) {
	p := newTestProxy(t, "localhost:11080")
	for _, target := range []string{"", "undefined", "http://example.com/x", "//example.com/x"} {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyQuery(map[string]string{"url": target}), nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: expected 400, got %d", target, rec.Code)
		}
	}
}
