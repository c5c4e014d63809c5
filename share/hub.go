package prshare

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sammck-go/panelrelay/pkg/logger"
)

const (
	hubSendBuffer   = 16
	hubWriteTimeout = 10 * time.Second
)

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan *Message
}

// Hub fans relayed Messages out to every connected websocket subscriber.
// Delivery is best-effort: a subscriber whose buffer is full misses the
// message.
type Hub struct {
	logger.Logger
	mu      sync.Mutex
	clients map[string]*hubClient
	closed  bool
}

// NewHub creates an empty Hub
func NewHub(lg logger.Logger) *Hub {
	return &Hub{Logger: lg, clients: make(map[string]*hubClient)}
}

// Len returns the number of connected subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues m for every subscriber and returns how many accepted it
func (h *Hub) Broadcast(m *Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.clients {
		select {
		case c.send <- m:
			n++
		default:
			h.DLogf("Subscriber %s is slow, dropping message from %s", c.id, m.Address)
		}
	}
	return n
}

func (h *Hub) add(conn *websocket.Conn) (*hubClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &hubClient{id: uuid.NewString(), conn: conn, send: make(chan *Message, hubSendBuffer)}
	h.clients[c.id] = c
	return c, true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Serve runs one subscriber until it disconnects, ctx is done, or the Hub is
// closed. conn is closed on return.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	c, ok := h.add(conn)
	if !ok {
		conn.Close()
		return
	}
	h.DLogf("Subscriber %s connected from %s", c.id, conn.RemoteAddr())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for m := range c.send {
			conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteJSON(m); err != nil {
				h.DLogf("Write to subscriber %s failed: %s", c.id, err)
				conn.Close()
				for range c.send {
				}
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.SetReadDeadline(time.Now().Add(time.Second))
	}()

	stop := context.AfterFunc(ctx, func() { h.remove(c) })
	defer stop()

	// subscribers never send; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	<-writerDone
	conn.Close()
	h.DLogf("Subscriber %s disconnected", c.id)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
