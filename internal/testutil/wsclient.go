package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one decoded server frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v or fails the test.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decoding %s payload %s: %v", f.Event, f.Data, err)
	}
}

// WSClient is a websocket test client speaking the JSON envelope protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test. The
// connection is closed when the test ends.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// WSURL converts an http:// test server URL into the ws:// URL for path.
func WSURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// Send writes {"event": event, "data": data}. A nil data omits the field.
func (c *WSClient) Send(event string, data any) {
	c.t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("encoding %s frame: %v", event, err)
	}
	c.SendRaw(raw)
}

// SendRaw writes raw as a single text frame.
func (c *WSClient) SendRaw(raw []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.t.Fatalf("sending %s: %v", raw, err)
	}
}

// Next reads the next frame or fails the test after timeout.
func (c *WSClient) Next(timeout time.Duration) Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.t.Fatalf("decoding frame %s: %v", raw, err)
	}
	return f
}

// Expect reads the next frame and fails the test unless it is event.
func (c *WSClient) Expect(event string, timeout time.Duration) Frame {
	c.t.Helper()
	f := c.Next(timeout)
	if f.Event != event {
		c.t.Fatalf("expected %q frame, got %q: %s", event, f.Event, f.Data)
	}
	return f
}

// ExpectSilence fails the test if a frame arrives within d. A timed-out
// websocket cannot be read again, so this must be the client's last read.
func (c *WSClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, raw, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no frame, got %s", raw)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		c.t.Fatalf("expected read timeout, got %v", err)
	}
}

// Close sends a close frame and closes the connection.
func (c *WSClient) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}
