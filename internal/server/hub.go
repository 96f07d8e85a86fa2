package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/conn"
)

// Hub tracks every live WebSocket connection so shutdown can close them and
// wait for their handlers to finish.
type Hub struct {
	mutex   sync.Mutex
	clients map[*conn.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewHub creates an empty Hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*conn.Conn]struct{}),
		log:     logger,
	}
}

// Track registers c. It returns false once Shutdown has started.
func (h *Hub) Track(c *conn.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return false
	}

	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.log.Info("Client registered", "conn", c.ID(), "addr", c.Addr(), "clients", len(h.clients))
	return true
}

// Untrack removes c. Calling it for an unknown connection is a no-op.
func (h *Hub) Untrack(c *conn.Conn) {
	h.mutex.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.log.Info("Client unregistered", "conn", c.ID(), "addr", c.Addr(), "clients", count)
		h.wg.Done()
	}
}

// ClientCount returns the number of tracked connections.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	h.closed = true
	clients := make([]*conn.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if err := client.CloseWithCode(websocket.CloseGoingAway, "server shutting down"); err != nil && !conn.IsExpectedClose(err) {
			h.log.Warn("Error closing client connection", "conn", client.ID(), "addr", client.Addr(), "error", err)
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown closes every tracked connection and waits for their handlers to
// untrack them. It returns context.DeadlineExceeded when timeout elapses
// first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached, some handlers may still be running")
		return context.DeadlineExceeded
	}
}
