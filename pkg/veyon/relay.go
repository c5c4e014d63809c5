package veyon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is one opaque HTTP call forwarded through a Relay
type Request struct {
	Path   string
	Method string
	Body   []byte
	Header map[string]string
}

// Response is what came back from the far side of a Relay, unmodified
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether Status is 2xx
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Relay forwards opaque HTTP requests to the WebAPI. An error return means no
// response was obtained; any response, whatever its status, is returned as-is.
type Relay interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPRelay is a Relay over net/http. In proxy mode requests are encoded as query
// parameters of the relay server's /proxy endpoint; in direct mode they go
// straight to the WebAPI base URL.
type HTTPRelay struct {
	base     *url.URL
	viaProxy bool
	client   *http.Client
	user     string
	pass     string
}

// SetBasicAuth makes every request carry HTTP basic credentials, for relay
// servers that require operator authentication
func (r *HTTPRelay) SetBasicAuth(user, pass string) {
	r.user, r.pass = user, pass
}

// NewProxyRelay creates a Relay that talks to a panelrelay server at relayURL
// (e.g. "http://10.0.0.1:8080")
func NewProxyRelay(relayURL string, client *http.Client) (*HTTPRelay, error) {
	return newHTTPRelay(relayURL, true, client)
}

// NewDirectRelay creates a Relay that talks to a WebAPI base URL
// (e.g. "http://localhost:11080")
func NewDirectRelay(apiURL string, client *http.Client) (*HTTPRelay, error) {
	return newHTTPRelay(apiURL, false, client)
}

func newHTTPRelay(raw string, viaProxy bool, client *http.Client) (*HTTPRelay, error) {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in relay URL %q", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{base: u, viaProxy: viaProxy, client: client}, nil
}

func (r *HTTPRelay) String() string {
	if r.viaProxy {
		return "proxy " + r.base.String()
	}
	return "direct " + r.base.String()
}

// Do implements Relay
func (r *HTTPRelay) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var httpReq *http.Request
	var err error
	if r.viaProxy {
		httpReq, err = r.proxyRequest(ctx, method, req)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, r.base.String()+req.Path, bytes.NewReader(req.Body))
		if err == nil {
			for k, v := range req.Header {
				httpReq.Header.Set(k, v)
			}
			if len(req.Body) > 0 {
				httpReq.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if r.user != "" {
		httpReq.SetBasicAuth(r.user, r.pass)
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (r *HTTPRelay) proxyRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	q := url.Values{}
	q.Set("url", req.Path)
	q.Set("method", method)
	if len(req.Body) > 0 {
		q.Set("body", string(req.Body))
	}
	if len(req.Header) > 0 {
		h, err := json.Marshal(req.Header)
		if err != nil {
			return nil, err
		}
		q.Set("headers", string(h))
	}
	u := *r.base
	u.Path += "/proxy"
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, method, u.String(), nil)
}
