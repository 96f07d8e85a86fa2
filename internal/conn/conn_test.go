package conn

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pair starts a server that wraps every upgraded socket in a Conn and hands
// it to the test, and dials it once.
func pair(t *testing.T, opts Options) (*Conn, *websocket.Conn) {
	t.Helper()

	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	accepted := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		opts.Addr = r.RemoteAddr
		accepted <- New(ws, opts)
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-accepted:
		t.Cleanup(func() { _ = c.Close() })
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not accept the connection")
		return nil, nil
	}
}

func readClient(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Client read failed: %v", err)
	}
	return string(data)
}

func TestConnSendEncodesJSON(t *testing.T) {
	c, client := pair(t, Options{ID: "c1"})

	if c.ID() != "c1" {
		t.Errorf("Expected ID c1, got %q", c.ID())
	}

	if err := c.Send(map[string]string{"action": "left"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := readClient(t, client); got != `{"action":"left"}` {
		t.Errorf("Unexpected frame %s", got)
	}

	if err := c.Send([]byte(`{"raw":true}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := readClient(t, client); got != `{"raw":true}` {
		t.Errorf("Raw bytes should pass through, got %s", got)
	}
}

func TestConnReceive(t *testing.T) {
	c, client := pair(t, Options{})

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"action":"user_list"}`)); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}
	data, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != `{"action":"user_list"}` {
		t.Errorf("Unexpected data %s", data)
	}
}

func TestConnRejectsBinaryFrames(t *testing.T) {
	c, client := pair(t, Options{})

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}

	_, err := c.Receive()
	if !errors.Is(err, ErrUnsupportedFrame) {
		t.Fatalf("Expected ErrUnsupportedFrame, got %v", err)
	}
	if IsExpectedClose(err) {
		t.Errorf("A binary frame is not an ordinary close")
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("Expected close 1003, got %v", err)
	}
}

func TestConnReadLimit(t *testing.T) {
	c, client := pair(t, Options{MaxMessageSize: 16})

	if err := client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}
	_, err := c.Receive()
	if !errors.Is(err, websocket.ErrReadLimit) {
		t.Fatalf("Expected ErrReadLimit, got %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Connection should be closed after an oversized frame")
	}
}

func TestConnCloseUnblocksReceive(t *testing.T) {
	c, _ := pair(t, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !IsExpectedClose(err) {
			t.Errorf("Expected an ordinary close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive was not unblocked by Close")
	}

	err := c.Send(map[string]string{"late": "message"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestConnPeerCloseIsExpected(t *testing.T) {
	c, client := pair(t, Options{})

	err := client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		t.Fatalf("Client close failed: %v", err)
	}

	_, err = c.Receive()
	if err == nil || !IsExpectedClose(err) {
		t.Fatalf("Expected an ordinary close, got %v", err)
	}
}

func TestConnSendBufferFullClosesConnection(t *testing.T) {
	// The client never reads, so the pump blocks and the queue fills.
	c, _ := pair(t, Options{SendBuffer: 1, WriteWait: 200 * time.Millisecond})

	payload := strings.Repeat("y", 64*1024)
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = c.Send([]byte(`"` + payload + `"`))
	}
	if !errors.Is(err, ErrSendBufferFull) && !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected the queue to overflow, got %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection should close once its queue overflows")
	}
}

func TestIsExpectedClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"closed channel", &ChannelError{Op: "send", Err: ErrClosed}, true},
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, true},
		{"wrapped EOF", &ChannelError{Op: "receive", Err: io.EOF}, true},
		{"close sent", websocket.ErrCloseSent, true},
		{"closed network text", errors.New("read tcp: use of closed network connection"), true},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, false},
		{"unsupported frame", &ChannelError{Op: "receive", Err: ErrUnsupportedFrame}, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpectedClose(tt.err); got != tt.want {
				t.Errorf("IsExpectedClose(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSanitizeOptions(t *testing.T) {
	opts := sanitizeOptions(Options{PongWait: 10 * time.Second})
	if opts.ID == "" {
		t.Error("Expected a generated ID")
	}
	if opts.SendBuffer != defaultSendBuffer {
		t.Errorf("Expected default send buffer, got %d", opts.SendBuffer)
	}
	if opts.PingInterval != 9*time.Second {
		t.Errorf("Expected ping at 9/10 of pong wait, got %v", opts.PingInterval)
	}

	opts = sanitizeOptions(Options{})
	if opts.PingInterval != 0 || opts.PongWait != 0 {
		t.Errorf("Keepalive should be off by default, got %+v", opts)
	}
}

// recyclableSocket stands in for a pooled socket: once released, any use by
// the Conn is recorded as a violation.
type recyclableSocket struct {
	mu        sync.Mutex
	released  bool
	violation string

	writing chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newRecyclableSocket() *recyclableSocket {
	return &recyclableSocket{
		writing: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (s *recyclableSocket) touch(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released && s.violation == "" {
		s.violation = op
	}
}

func (s *recyclableSocket) release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

func (s *recyclableSocket) ReadMessage() (int, []byte, error) {
	<-s.closed
	return 0, nil, net.ErrClosed
}

// WriteMessage blocks like a write to a stalled peer until the socket closes.
func (s *recyclableSocket) WriteMessage(int, []byte) error {
	s.touch("WriteMessage")
	select {
	case s.writing <- struct{}{}:
	default:
	}
	<-s.closed
	s.touch("WriteMessage")
	return net.ErrClosed
}

func (s *recyclableSocket) WriteControl(int, []byte, time.Time) error {
	s.touch("WriteControl")
	return nil
}

func (s *recyclableSocket) SetReadLimit(int64)                {}
func (s *recyclableSocket) SetReadDeadline(time.Time) error   { return nil }
func (s *recyclableSocket) SetPongHandler(func(string) error) {}

func (s *recyclableSocket) SetWriteDeadline(time.Time) error {
	s.touch("SetWriteDeadline")
	return nil
}

func (s *recyclableSocket) Close() error {
	s.touch("Close")
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestConnWaitOutlastsWritePump(t *testing.T) {
	sock := newRecyclableSocket()
	c := New(sock, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	for i := 0; i < 5; i++ {
		if err := c.Send([]byte(`{"n":1}`)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	select {
	case <-sock.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("Write pump never started writing")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}

	sock.release()
	_ = c.Send([]byte(`{"late":true}`))
	_ = c.Close()
	time.Sleep(50 * time.Millisecond)

	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.violation != "" {
		t.Errorf("Socket used after Wait returned: %s", sock.violation)
	}
}
