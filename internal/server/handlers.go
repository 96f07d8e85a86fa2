package server

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Roomchat server is running!")
}

// StatusHandler reports connection and room counts as JSON.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Health()); err != nil {
		s.log.Error("Error writing health response", "error", err)
	}
}

// ChatHandler upgrades the request and runs a room chat session on it.
func (s *Server) ChatHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	_ = s.ServeChat(ws, r.RemoteAddr)
}

// EchoHandler upgrades the request and echoes every JSON frame back.
func (s *Server) EchoHandler(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	_ = s.ServeEcho(ws, r.RemoteAddr)
}

// upgrade validates that the request uses the GET method and switches it to
// the WebSocket protocol. Failures have already been answered when ok is false.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (ws *websocket.Conn, ok bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return nil, false
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return nil, false
	}
	return ws, true
}

// TestPageHandler serves an HTML page for trying the room chat protocol from
// a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

//go:embed testpage.html
var testPageHTML string
