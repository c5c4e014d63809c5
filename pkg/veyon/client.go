// Package veyon is a client for the subset of the Veyon WebAPI used by the
// panel: authentication, framebuffer capture, user and session info, and
// feature toggles. All calls go through a Relay, and every failure that crosses
// it is reported as an *APIError.
package veyon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sammck-go/panelrelay/pkg/logger"
)

const (
	apiPrefix = "/api/v1"

	// HeaderConnectionUID carries the session token on scoped calls
	HeaderConnectionUID = "Connection-Uid"
)

// Client builds WebAPI requests and parses their responses. It holds no
// per-endpoint state; that lives in Session.
type Client struct {
	logger.Logger
	relay Relay
}

// NewClient creates a Client that speaks through relay
func NewClient(lg logger.Logger, relay Relay) *Client {
	return &Client{Logger: lg, relay: relay}
}

// call issues exactly one request, mapping transport failure to an *APIError
func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	c.TLogf("%s %s", req.Method, req.Path)
	resp, err := c.relay.Do(ctx, req)
	if err != nil {
		return nil, NewAPIError(0, err.Error(), CodeNone)
	}
	return resp, nil
}

func authPath(host string) string {
	return apiPrefix + "/authentication/" + url.PathEscape(host)
}

// AuthMethods lists the authentication method uids the endpoint accepts
func (c *Client) AuthMethods(ctx context.Context, host string) ([]AuthMethod, error) {
	resp, err := c.call(ctx, &Request{Path: authPath(host), Method: http.MethodGet})
	if err != nil {
		return nil, err
	}
	var out struct {
		Methods []AuthMethod `json:"methods"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Methods, nil
}

type authRequest struct {
	Method      AuthMethod  `json:"method"`
	Credentials interface{} `json:"credentials"`
}

type authResponse struct {
	ConnectionUID string          `json:"connection-uid"`
	ValidUntil    json.RawMessage `json:"validUntil"`
}

// parseValidUntil accepts the expiry either as a JSON number or as a decimal string
func parseValidUntil(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Authenticate logs in to host and returns a connected Session. Rejected
// credentials surface as an *APIError, usually with CodeAuthFailed.
func (c *Client) Authenticate(ctx context.Context, host string, method AuthMethod, credentials interface{}) (*Session, error) {
	body, err := json.Marshal(&authRequest{Method: method, Credentials: credentials})
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	resp, err := c.call(ctx, &Request{Path: authPath(host), Method: http.MethodPost, Body: body})
	if err != nil {
		return nil, err
	}
	var ar authResponse
	if err := decodeJSON(resp, &ar); err != nil {
		return nil, err
	}
	validUntil, err := parseValidUntil(ar.ValidUntil)
	if err != nil {
		return nil, &DefectError{HTTPStatus: resp.Status, ContentType: resp.ContentType, Reason: "bad validUntil: " + err.Error()}
	}
	if ar.ConnectionUID == "" {
		return nil, &DefectError{HTTPStatus: resp.Status, ContentType: resp.ContentType, Reason: "missing connection-uid"}
	}
	c.DLogf("Authenticated to %s", host)
	return NewSession(c, ar.ConnectionUID, validUntil, host), nil
}

// scoped issues a request carrying the session token. Only successful
// responses are returned; a CodeInvalidConnection failure invalidates s.
func (c *Client) scoped(ctx context.Context, s *Session, method, path string, body []byte) (*Response, error) {
	if !s.Connected() {
		return nil, ErrClosed
	}
	resp, err := c.call(ctx, &Request{
		Path:   apiPrefix + path,
		Method: method,
		Body:   body,
		Header: map[string]string{HeaderConnectionUID: s.uid},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		err := decodeFailure(resp)
		if IsSessionInvalid(err) {
			c.DLogf("Connection %s is no longer valid", s)
			s.Invalidate(err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) deauthenticate(ctx context.Context, s *Session) error {
	resp, err := c.call(ctx, &Request{
		Path:   authPath(s.host),
		Method: http.MethodDelete,
		Header: map[string]string{HeaderConnectionUID: s.uid},
	})
	if err != nil {
		return err
	}
	return decodeEmpty(resp)
}
