package prshare

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sammck-go/panelrelay/pkg/logger"
)

// DefaultReconnectDelay is the first wait before redialing the relay
const DefaultReconnectDelay = 2 * time.Second

// SubscriberConfig is the configuration of a message Subscriber
type SubscriberConfig struct {
	// Server is the relay URL, e.g. http://10.0.0.1:8080
	Server string

	// Auth is the operator "user:pass", if the relay requires one
	Auth string

	// MaxRetryCount limits consecutive failed dials; negative means forever
	MaxRetryCount int

	// MaxRetryInterval caps the reconnect backoff, default 5 minutes
	MaxRetryInterval time.Duration
}

// MessageHandler receives relayed messages. It is called from the
// Subscriber's goroutine, one message at a time.
type MessageHandler func(m *Message)

// Subscriber keeps a websocket subscription to the relay's message hub,
// redialing with backoff whenever it drops
type Subscriber struct {
	ShutdownHelper
	config  *SubscriberConfig
	server  string
	header  http.Header
	handler MessageHandler
	dialer  websocket.Dialer

	// Sleep waits between dials; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error

	conn *websocket.Conn
}

// NewSubscriber creates a Subscriber that delivers to handler
func NewSubscriber(lg logger.Logger, config *SubscriberConfig, handler MessageHandler) (*Subscriber, error) {
	server := config.Server
	if !strings.HasPrefix(server, "http") && !strings.HasPrefix(server, "ws") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, lg.Errorf("missing host in relay URL %q", config.Server)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if config.MaxRetryInterval < time.Second {
		config.MaxRetryInterval = 5 * time.Minute
	}

	header := http.Header{}
	if user, pass := ParseAuth(config.Auth); user != "" {
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		header.Set("Authorization", "Basic "+token)
	}
	c := &Subscriber{
		config:  config,
		server:  u.String(),
		header:  header,
		handler: handler,
		dialer: websocket.Dialer{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 45 * time.Second,
		},
		Sleep: sleepContext,
	}
	c.InitShutdownHelper(lg, c)
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// URL returns the websocket URL being dialed
func (c *Subscriber) URL() string {
	return c.server
}

// Run subscribes until ctx is done, the Subscriber is closed, or the retry
// limit is reached
func (c *Subscriber) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := c.DoOnceActivate(
		func() error {
			c.ShutdownOnContext(subCtx)
			go c.connectionLoop(subCtx)
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	return c.WaitShutdown()
}

func (c *Subscriber) connectionLoop(ctx context.Context) {
	var connerr error
	b := &backoff.Backoff{Min: DefaultReconnectDelay, Max: c.config.MaxRetryInterval}
	for !c.IsStartedShutdown() {
		if connerr != nil {
			attempt := int(b.Attempt())
			maxAttempt := c.config.MaxRetryCount
			d := b.Duration()
			msg := fmt.Sprintf("Connection error: %s", connerr)
			if attempt > 0 {
				msg += fmt.Sprintf(" (Attempt: %d", attempt)
				if maxAttempt > 0 {
					msg += fmt.Sprintf("/%d", maxAttempt)
				}
				msg += ")"
			}
			c.DLogf(msg)
			if maxAttempt >= 0 && attempt >= maxAttempt {
				c.StartShutdown(connerr)
				return
			}
			c.ILogf("Retrying in %s...", d)
			connerr = nil
			if err := c.Sleep(ctx, d); err != nil {
				c.StartShutdown(err)
				return
			}
		}
		conn, _, err := c.dialer.DialContext(ctx, c.server, c.header)
		if err != nil {
			connerr = err
			continue
		}
		c.Lock.Lock()
		if c.started {
			c.Lock.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.Lock.Unlock()
		c.ILogf("Connected to %s", c.server)
		b.Reset()

		connerr = c.readLoop(conn)

		c.Lock.Lock()
		c.conn = nil
		c.Lock.Unlock()
		conn.Close()
		c.ILogf("Disconnected")
	}
}

// readLoop delivers messages until the connection fails
func (c *Subscriber) readLoop(conn *websocket.Conn) error {
	for {
		m := &Message{}
		if err := conn.ReadJSON(m); err != nil {
			return err
		}
		c.handler(m)
	}
}

// HandleOnceShutdown closes the live connection, if any
func (c *Subscriber) HandleOnceShutdown(completionErr error) error {
	c.Lock.Lock()
	conn := c.conn
	c.Lock.Unlock()
	if conn != nil {
		conn.Close()
	}
	return completionErr
}
