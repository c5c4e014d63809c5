package prshare

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jpillora/sizestr"
	"github.com/sammck-go/panelrelay/pkg/logger"
)

// DefaultVendorAddr is where the Veyon WebAPI listens on the relay host
const DefaultVendorAddr = "localhost:11080"

// hop-by-hop headers are not forwarded in either direction
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Proxy forwards /proxy requests to the vendor API. The target path, method,
// body and headers come from query parameters so that a browser page can
// reach the API without cross-origin restrictions.
type Proxy struct {
	logger.Logger
	base   *url.URL
	client *http.Client
	stats  ConnStats
}

// NewProxy creates a Proxy for the vendor API at vendorAddr (host:port or
// URL). A nil client means http.DefaultClient.
func NewProxy(lg logger.Logger, vendorAddr string, client *http.Client) (*Proxy, error) {
	if vendorAddr == "" {
		vendorAddr = DefaultVendorAddr
	}
	if !strings.Contains(vendorAddr, "://") {
		vendorAddr = "http://" + vendorAddr
	}
	base, err := url.Parse(vendorAddr)
	if err != nil {
		return nil, lg.Errorf("invalid vendor address %q: %s", vendorAddr, err)
	}
	if base.Host == "" {
		return nil, lg.Errorf("missing host in vendor address %q", vendorAddr)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{Logger: lg, base: base, client: client}, nil
}

// Stats returns the proxy's request counters
func (p *Proxy) Stats() *ConnStats {
	return &p.stats
}

// proxyParam reads a query parameter, treating "undefined" and "null" as absent
func proxyParam(q url.Values, name string) string {
	v := q.Get(name)
	if v == "undefined" || v == "null" {
		return ""
	}
	return v
}

// writeJSONError writes the vendor API's error body shape
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"message": message, "code": 0},
	})
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := url.Parse(proxyParam(q, "url"))
	if err != nil || target.Path == "" || target.IsAbs() || target.Host != "" {
		writeJSONError(w, http.StatusBadRequest, "url must be a path on the vendor API")
		return
	}
	method := strings.ToUpper(proxyParam(q, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var headers map[string]string
	if raw := proxyParam(q, "headers"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			writeJSONError(w, http.StatusBadRequest, "headers must be a JSON object of strings")
			return
		}
	}

	var body io.Reader
	fromQuery := false
	if b := proxyParam(q, "body"); b != "" {
		body = strings.NewReader(b)
		fromQuery = true
	} else if r.ContentLength != 0 && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	out, err := http.NewRequestWithContext(r.Context(), method, p.base.Scheme+"://"+p.base.Host+target.RequestURI(), body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for k, v := range headers {
		out.Header.Set(k, v)
	}
	if body != nil && out.Header.Get("Content-Type") == "" {
		if fromQuery {
			out.Header.Set("Content-Type", "application/json")
		} else if ct := r.Header.Get("Content-Type"); ct != "" {
			out.Header.Set("Content-Type", ct)
		}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	id := uuid.NewString()
	p.stats.New()
	p.stats.Open()
	var n int64
	defer func() { p.stats.Close(n) }()

	resp, err := p.client.Do(out)
	if err != nil {
		p.DLogf("%s %s %s failed: %s", id, method, target.Path, err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	n, err = io.Copy(w, resp.Body)
	if err != nil {
		p.DLogf("%s %s %s: copy failed after %s: %s", id, method, target.Path, sizestr.ToString(n), err)
		return
	}
	p.DLogf("%s %s %s -> %d (%s) %s", id, method, target.Path, resp.StatusCode, sizestr.ToString(n), &p.stats)
}
