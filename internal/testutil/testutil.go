// Package testutil provides common helpers for the roomchat tests: dialing
// WebSocket endpoints, exchanging JSON frames with deadlines, and asserting
// HTTP responses.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header the helpers send by default. It matches
// the server's default allow-list.
const TestOrigin = "http://localhost:8080"

// ReadTimeout bounds every helper read.
const ReadTimeout = 2 * time.Second

// Event is a decoded server frame in its loosest form.
type Event map[string]any

// String returns field key, or "" when it is missing or not a string.
func (e Event) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Bool returns field key, and whether it was a JSON boolean.
func (e Event) Bool(key string) (value, ok bool) {
	value, ok = e[key].(bool)
	return value, ok
}

// Strings returns field key as a string slice.
func (e Event) Strings(key string) []string {
	raw, _ := e[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// WebSocketURL turns an httptest server URL into a ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the default test origin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An empty
// origin sends none.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	conn, _, err := DialWebSocket(url, origin)
	return conn, err
}

// DialWebSocket is ConnectWebSocketWithOrigin that also returns the
// handshake status code, or 0 when no response was received.
func DialWebSocket(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// MustConnect dials url and registers the connection for cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJSON writes v as one text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send %v: %v", v, err)
	}
}

// SendRaw writes data as one frame of the given type.
func SendRaw(t *testing.T, conn *websocket.Conn, messageType int, data []byte) {
	t.Helper()
	if err := conn.WriteMessage(messageType, data); err != nil {
		t.Fatalf("Failed to send raw frame: %v", err)
	}
}

// ReadEvent reads the next frame and decodes it, failing the test after
// ReadTimeout.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Event %q is not JSON: %v", data, err)
	}
	return ev
}

// ReadUntil reads events until one has the given action and returns it.
// Events with other actions are skipped.
func ReadUntil(t *testing.T, conn *websocket.Conn, action string) Event {
	t.Helper()
	for {
		ev := ReadEvent(t, conn)
		if ev.String("action") == action {
			return ev
		}
	}
}

// ExpectNoMessage fails if a frame arrives within wait. A timed-out gorilla
// connection cannot be read again, so this must be the last read on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed fails unless the peer closes the connection within
// ReadTimeout. It returns the close code, or -1 when the connection ended
// without a close frame.
func ExpectClosed(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr.Code
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("Connection was not closed: %v", err)
		}
		return -1
	}
}

// JoinedNick reads the connecting event every new chat connection gets and
// returns the assigned nickname.
func JoinedNick(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ev := ReadEvent(t, conn)
	if ev.String("action") != "connecting" {
		t.Fatalf("Expected connecting event, got %v", ev)
	}
	return ev.String("user")
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}
