package veyon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ImageFormat is the framebuffer encoding
type ImageFormat string

// Supported framebuffer encodings
const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
)

// FrameOptions controls a framebuffer capture. Zero fields take the defaults
// (jpeg, compression 9, quality 10, 640x480).
type FrameOptions struct {
	Format      ImageFormat
	Compression int
	Quality     int
	Width       int
	Height      int
}

func (o FrameOptions) withDefaults() FrameOptions {
	if o.Format == "" {
		o.Format = FormatJPEG
	}
	if o.Compression == 0 {
		o.Compression = 9
	}
	if o.Quality == 0 {
		o.Quality = 10
	}
	if o.Width == 0 {
		o.Width = 640
	}
	if o.Height == 0 {
		o.Height = 480
	}
	return o
}

func (o FrameOptions) query() string {
	q := url.Values{}
	q.Set("format", string(o.Format))
	q.Set("compression", strconv.Itoa(o.Compression))
	q.Set("quality", strconv.Itoa(o.Quality))
	q.Set("width", strconv.Itoa(o.Width))
	q.Set("height", strconv.Itoa(o.Height))
	return q.Encode()
}

// UserInfo is the logged-on user of an endpoint. Fields may be empty for a
// while after login.
type UserInfo struct {
	FullName string `json:"fullName"`
	Login    string `json:"login"`
}

// SessionInfo describes the desktop session of an endpoint
type SessionInfo struct {
	SessionID            int    `json:"sessionId"`
	SessionUptime        int    `json:"sessionUptime"`
	SessionClientAddress string `json:"sessionClientAddress"`
	SessionHostName      string `json:"sessionHostName"`
}

// Session is one authenticated connection to an endpoint. Host, UID and
// ValidUntil never change; Connected goes from true to false exactly once.
type Session struct {
	client     *Client
	host       string
	uid        string
	validUntil int64
	connected  atomic.Bool

	invalidOnce sync.Once
	invalid     chan struct{}
	err         error
}

// NewSession creates a connected Session from a known token, e.g. one saved
// from an earlier Authenticate.
func NewSession(client *Client, uid string, validUntil int64, host string) *Session {
	s := &Session{
		client:     client,
		host:       host,
		uid:        uid,
		validUntil: validUntil,
		invalid:    make(chan struct{}),
	}
	s.connected.Store(true)
	return s
}

// Host returns the endpoint address
func (s *Session) Host() string { return s.host }

// UID returns the connection uid (session token)
func (s *Session) UID() string { return s.uid }

// ValidUntil returns the advisory expiry in unix seconds
func (s *Session) ValidUntil() int64 { return s.validUntil }

// Expiry returns ValidUntil as a time.Time
func (s *Session) Expiry() time.Time { return time.Unix(s.validUntil, 0) }

// Connected reports whether the Session may still issue calls
func (s *Session) Connected() bool { return s.connected.Load() }

func (s *Session) String() string {
	return fmt.Sprintf("%s[%s]", s.host, s.uid)
}

// Destroy deauthenticates the Session. It marks the Session closed before the
// call is sent, so concurrent users see the closure at once; a failed call is
// logged and returned but does not reopen it. Calling Destroy on a closed
// Session does nothing.
func (s *Session) Destroy(ctx context.Context) error {
	if !s.connected.CompareAndSwap(true, false) {
		return nil
	}
	err := s.client.deauthenticate(ctx, s)
	if err != nil {
		s.client.WLogf("Deauthentication of %s failed, ignoring: %s", s, err)
	}
	return err
}

// Invalidate marks the Session closed without contacting the endpoint and
// records err as the reason. Scoped calls invalidate the Session themselves
// when the endpoint rejects the token. Only the first reason is kept.
func (s *Session) Invalidate(err error) {
	s.connected.Store(false)
	s.invalidOnce.Do(func() {
		s.err = err
		close(s.invalid)
	})
}

// Invalidated returns a channel closed once the Session has been invalidated.
// A destroyed Session is never invalidated.
func (s *Session) Invalidated() <-chan struct{} {
	return s.invalid
}

// Err returns the error the Session was invalidated with, or nil
func (s *Session) Err() error {
	select {
	case <-s.invalid:
		return s.err
	default:
		return nil
	}
}

// CaptureFrame fetches the current screen image
func (s *Session) CaptureFrame(ctx context.Context, opts FrameOptions) ([]byte, error) {
	resp, err := s.client.scoped(ctx, s, http.MethodGet, "/framebuffer?"+opts.withDefaults().query(), nil)
	if err != nil {
		return nil, err
	}
	return decodeImage(resp)
}

// User reads the logged-on user
func (s *Session) User(ctx context.Context) (*UserInfo, error) {
	resp, err := s.client.scoped(ctx, s, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, err
	}
	info := &UserInfo{}
	if err := decodeJSON(resp, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Info reads the desktop session info
func (s *Session) Info(ctx context.Context) (*SessionInfo, error) {
	resp, err := s.client.scoped(ctx, s, http.MethodGet, "/session", nil)
	if err != nil {
		return nil, err
	}
	info := &SessionInfo{}
	if err := decodeJSON(resp, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Features lists the endpoint's features, each bound to this Session
func (s *Session) Features(ctx context.Context) (Features, error) {
	resp, err := s.client.scoped(ctx, s, http.MethodGet, "/feature", nil)
	if err != nil {
		return nil, err
	}
	var raw []featureDescriptor
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	features := make(Features, 0, len(raw))
	for _, d := range raw {
		features = append(features, &Feature{
			UID:       d.UID,
			ParentUID: d.ParentUID,
			Name:      FeatureName(d.Name),
			Active:    d.Active,
			session:   s,
		})
	}
	return features, nil
}

// FeatureStatus reads whether feature uid is active
func (s *Session) FeatureStatus(ctx context.Context, uid string) (bool, error) {
	resp, err := s.client.scoped(ctx, s, http.MethodGet, "/feature/"+url.PathEscape(uid), nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

type featureUpdate struct {
	Active    bool        `json:"active"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// SetFeatureStatus switches feature uid on or off. args is forwarded to the
// endpoint verbatim.
func (s *Session) SetFeatureStatus(ctx context.Context, uid string, active bool, args interface{}) error {
	body, err := json.Marshal(&featureUpdate{Active: active, Arguments: args})
	if err != nil {
		return fmt.Errorf("encode feature arguments: %w", err)
	}
	resp, err := s.client.scoped(ctx, s, http.MethodPut, "/feature/"+url.PathEscape(uid), body)
	if err != nil {
		return err
	}
	return decodeEmpty(resp)
}
