// Package prshare is the relay server and its message subscriber client. The
// relay forwards browser and panel requests to the local Veyon WebAPI and
// fans out chat messages posted by endpoints to subscribed panels.
package prshare

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"
	"github.com/sammck-go/panelrelay/pkg/logger"
	"github.com/tomasen/realip"
)

// BuildVersion is reported by /version
var BuildVersion = "0.0.0-src"

// DefaultPort is the relay's listening port
const DefaultPort = 8080

// maxMessageSize bounds a posted message body
const maxMessageSize = 64 * 1024

// ServerConfig is the configuration of the relay server
type ServerConfig struct {
	// VendorAddr is the Veyon WebAPI address, default localhost:11080
	VendorAddr string

	// StaticDir, if set, is served at / with index.html as the default page
	StaticDir string

	// Auth is an optional "user:pass" required on operator routes. pass may
	// be a bcrypt hash.
	Auth string

	// PublicHost is the host:port endpoints use to reach the relay. It is
	// substituted into the message page.
	PublicHost string

	// TrustProxyHeaders takes a message sender's address from X-Real-Ip or
	// X-Forwarded-For instead of the connection's peer address
	TrustProxyHeaders bool

	Debug bool
}

// Server is the relay service
type Server struct {
	ShutdownHelper
	config      *ServerConfig
	httpServer  *HTTPServer
	proxy       *Proxy
	hub         *Hub
	operator    *Operator
	httpHandler http.Handler
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer creates a relay Server
func NewServer(lg logger.Logger, config *ServerConfig) (*Server, error) {
	proxy, err := NewProxy(lg.Fork("proxy"), config.VendorAddr, nil)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:     config,
		httpServer: NewHTTPServer(lg.Fork("http")),
		proxy:      proxy,
		hub:        NewHub(lg.Fork("hub")),
		operator:   NewOperator(config.Auth),
	}
	s.InitShutdownHelper(lg, s)
	s.httpHandler = s.routes()
	return s, nil
}

// Hub returns the server's message hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpHandler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/proxy", s.operator.Wrap(s.proxy))
	r.HandleFunc("/message", s.handleMessagePage).Methods(http.MethodGet)
	r.HandleFunc("/message", s.handleMessagePost).Methods(http.MethodPost)
	r.Handle("/ws", s.operator.Wrap(http.HandlerFunc(s.handleWebsocket)))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK\n"))
	})
	r.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(BuildVersion))
	})
	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(s.operator.Wrap(http.FileServer(http.Dir(s.config.StaticDir))))
	}

	var h http.Handler = r
	if s.config.Debug {
		h = requestlog.Wrap(h)
	}
	return h
}

// Run serves on host:port until ctx is done or the server is closed
func (s *Server) Run(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	err := s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)
			s.AddShutdownChild(s.httpServer)
			if s.operator != nil {
				s.ILogf("Operator authentication enabled")
			}
			if s.config.StaticDir != "" {
				s.ILogf("Serving %s", s.config.StaticDir)
			}
			bound, err := s.httpServer.Listen(addr)
			if err != nil {
				return err
			}
			s.ILogf("Listening on http://%s/, forwarding to %s", bound, s.proxy.base.Host)
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	err = s.httpServer.ListenAndServe(ctx, addr, s.httpHandler)
	s.StartShutdown(err)
	return s.WaitShutdown()
}

// HandleOnceShutdown disconnects subscribers and stops the HTTP server
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.hub.Close()
	err := s.httpServer.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

func (s *Server) publicHost(r *http.Request) string {
	if s.config.PublicHost != "" {
		return s.config.PublicHost
	}
	return r.Host
}

func (s *Server) handleMessagePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderMessagePage(w, r.URL.Query().Get("text"), s.publicHost(r)); err != nil {
		s.DLogf("Message page render failed: %s", err)
	}
}

// handleMessagePost always answers 200; the message is dropped if the body
// cannot be read
func (s *Server) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		s.DLogf("Reading message body failed: %s", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	m := &Message{Address: s.senderAddress(r), Text: string(body)}
	n := s.hub.Broadcast(m)
	s.DLogf("Message from %s delivered to %d subscriber(s)", m.Address, n)
	w.WriteHeader(http.StatusOK)
}

// senderAddress is the IP address a message is attributed to
func (s *Server) senderAddress(r *http.Request) string {
	if s.config.TrustProxyHeaders {
		if ip := realip.FromRequest(r); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.DLogf("Failed to upgrade to websocket: %s", err)
		return
	}
	s.hub.Serve(r.Context(), conn)
}
