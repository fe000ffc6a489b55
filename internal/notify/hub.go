package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultSubscriberBuffer = 16
	defaultWriteTimeout     = 5 * time.Second
)

// Hub is a Channel that pushes messages to connected WebSocket clients.
// Clients that fall behind by more than the buffer are disconnected.
type Hub struct {
	// OriginPatterns are passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string

	bufferSize   int
	writeTimeout time.Duration

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	msgs  chan []byte
	close func(code websocket.StatusCode, reason string)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		bufferSize:   defaultSubscriberBuffer,
		writeTimeout: defaultWriteTimeout,
		subscribers:  make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and reports disconnects.
	ctx := conn.CloseRead(r.Context())

	s := &subscriber{
		msgs: make(chan []byte, h.bufferSize),
		close: func(code websocket.StatusCode, reason string) {
			conn.Close(code, reason)
		},
	}
	h.add(s)
	defer h.remove(s)

	for {
		select {
		case msg := <-s.msgs:
			if err := h.write(ctx, conn, msg); err != nil {
				slog.Debug("websocket subscriber dropped", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// Send queues msg for every connected subscriber without blocking.
func (h *Hub) Send(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subscribers {
		select {
		case s.msgs <- data:
		default:
			go s.close(websocket.StatusPolicyViolation, "connection too slow")
		}
	}
	return nil
}

// Stop disconnects every subscriber.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subscribers {
		go s.close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	slog.Info("websocket subscriber connected", "subscribers", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	n := len(h.subscribers)
	h.mu.Unlock()
	slog.Info("websocket subscriber disconnected", "subscribers", n)
}
