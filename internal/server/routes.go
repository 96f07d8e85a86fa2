package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for the health checks, both WebSocket endpoints, and the test page.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", s.StatusHandler)
	mux.HandleFunc("/chat", s.ChatHandler)
	mux.HandleFunc("/echo", s.EchoHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
