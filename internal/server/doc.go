// Package server implements the HTTP and WebSocket frontend of the room chat
// service.
//
// A Server owns the room registry and the hub of live connections. The
// net/http handlers in this package and the fiber frontend in fiberapp both
// upgrade requests and pass the socket to Server.ServeChat or
// Server.ServeEcho, so the chat protocol is identical on either transport.
package server
