package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/game/engine"
	chessengine "github.com/cory-johannsen/duel/internal/game/engine/chess"
	"github.com/cory-johannsen/duel/internal/game/room"
	"github.com/cory-johannsen/duel/internal/gateway"
	"github.com/cory-johannsen/duel/internal/testutil"
)

const wait = 2 * time.Second

type harness struct {
	srv      *httptest.Server
	hub      *gateway.Hub
	registry *room.Registry
}

func newHarness(t *testing.T, origins ...string) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := gateway.NewHub(logger)
	registry := room.NewRegistry(chessengine.New())
	svc := room.NewService(registry, hub, nil, logger)
	hub.Attach(svc)

	gw := gateway.NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		config.GatewayConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    time.Second,
			PingInterval:    time.Second,
			SendBuffer:      16,
			MaxMessageBytes: 4096,
			AllowedOrigins:  origins,
		},
		hub, registry, logger,
	)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &harness{srv: srv, hub: hub, registry: registry}
}

func (h *harness) dial(t *testing.T) *testutil.WSClient {
	return testutil.NewWSClient(t, testutil.WSURL(h.srv.URL, "/ws"))
}

func TestRootAndHealthz(t *testing.T) {
	h := newHarness(t)
	for path, want := range map[string]string{"/": gateway.Banner, "/healthz": "ok"} {
		resp, err := http.Get(h.srv.URL + path)
		require.NoError(t, err)
		body := make([]byte, 64)
		n, _ := resp.Body.Read(body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body[:n]), path)
	}
}

func TestRoomView_NotFound(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/rooms/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var ev room.ErrorEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	assert.Equal(t, room.ReasonRoomNotFound, ev.Reason)
	assert.Equal(t, 0, h.registry.Len(), "lookup must not create a room")
}

func TestRoomView_UnoccupiedRoomNotFound(t *testing.T) {
	h := newHarness(t)
	h.registry.GetOrCreate("pending")

	resp, err := http.Get(h.srv.URL + "/rooms/pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocket_TwoPlayerGame(t *testing.T) {
	h := newHarness(t)
	white := h.dial(t)
	black := h.dial(t)

	white.Send("join", map[string]string{"roomKey": "g1"})
	var init struct {
		RoomKey string      `json:"roomKey"`
		Game    string      `json:"game"`
		Seat    engine.Seat `json:"seat"`
		Side    string      `json:"side"`
		Phase   string      `json:"phase"`
		Snap    struct {
			FEN  string `json:"fen"`
			Turn string `json:"turn"`
		} `json:"snapshot"`
	}
	white.Expect(room.EventInit, wait).Decode(t, &init)
	assert.Equal(t, "g1", init.RoomKey)
	assert.Equal(t, chessengine.Name, init.Game)
	assert.Equal(t, engine.First, init.Seat)
	assert.Equal(t, "w", init.Side)
	assert.Equal(t, "waiting", init.Phase)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", init.Snap.FEN)

	black.Send("join", map[string]string{"roomKey": "g1"})
	black.Expect(room.EventInit, wait).Decode(t, &init)
	assert.Equal(t, engine.Second, init.Seat)
	assert.Equal(t, "b", init.Side)
	black.Expect(room.EventOpponentJoined, wait)

	var joined room.PlayerJoinedEvent
	white.Expect(room.EventPlayerJoined, wait).Decode(t, &joined)
	assert.Equal(t, engine.Second, joined.Seat)
	white.Expect(room.EventOpponentJoined, wait)

	white.Send("move", map[string]string{"roomKey": "g1", "from": "e2", "to": "e4"})
	for _, c := range []*testutil.WSClient{white, black} {
		var mv room.MoveEvent
		c.Expect(room.EventMove, wait).Decode(t, &mv)
		assert.Equal(t, room.MoveEvent{From: "e2", To: "e4"}, mv)
	}

	// Out of turn: white may not move twice.
	white.Send("move", map[string]string{"roomKey": "g1", "from": "d2", "to": "d4"})
	var rejected room.ErrorEvent
	white.Expect(room.EventError, wait).Decode(t, &rejected)
	assert.Equal(t, room.ErrorEvent{Reason: room.ReasonInvalidMove, Message: "Invalid move"}, rejected)

	third := h.dial(t)
	third.Send("join", map[string]string{"roomKey": "g1"})
	third.Expect(room.EventError, wait).Decode(t, &rejected)
	assert.Equal(t, room.ReasonRoomFull, rejected.Reason)
	assert.Equal(t, "Game room is full", rejected.Message)

	resp, err := http.Get(h.srv.URL + "/rooms/g1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var view struct {
		Phase     string `json:"phase"`
		Occupants int    `json:"occupants"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "ready", view.Phase)
	assert.Equal(t, 2, view.Occupants)

	black.ExpectSilence(100 * time.Millisecond)
}

func TestWebsocket_FoolsMateEndsGame(t *testing.T) {
	h := newHarness(t)
	white, black := h.dial(t), h.dial(t)
	white.Send("join", map[string]string{"roomKey": "mate"})
	white.Expect(room.EventInit, wait)
	black.Send("join", map[string]string{"roomKey": "mate"})
	black.Expect(room.EventInit, wait)
	black.Expect(room.EventOpponentJoined, wait)
	white.Expect(room.EventPlayerJoined, wait)
	white.Expect(room.EventOpponentJoined, wait)

	moves := []struct {
		by       *testutil.WSClient
		from, to string
	}{
		{white, "f2", "f3"}, {black, "e7", "e5"}, {white, "g2", "g4"}, {black, "d8", "h4"},
	}
	for _, m := range moves {
		m.by.Send("move", map[string]string{"roomKey": "mate", "from": m.from, "to": m.to})
		white.Expect(room.EventMove, wait)
		black.Expect(room.EventMove, wait)
	}
	for _, c := range []*testutil.WSClient{white, black} {
		var over struct {
			Winner engine.Seat `json:"winner"`
			Side   string      `json:"side"`
			Reason string      `json:"reason"`
		}
		c.Expect(room.EventGameOver, wait).Decode(t, &over)
		assert.Equal(t, engine.Second, over.Winner)
		assert.Equal(t, "b", over.Side)
		assert.Equal(t, "checkmate", over.Reason)
	}

	white.Send("move", map[string]string{"roomKey": "mate", "from": "a2", "to": "a3"})
	white.Expect(room.EventError, wait)
}

func TestWebsocket_DisconnectNotifiesOpponent(t *testing.T) {
	h := newHarness(t)
	a, b := h.dial(t), h.dial(t)
	a.Send("join", map[string]string{"roomKey": "g2"})
	a.Expect(room.EventInit, wait)
	b.Send("join", map[string]string{"roomKey": "g2"})
	b.Expect(room.EventInit, wait)
	b.Expect(room.EventOpponentJoined, wait)
	var joined room.PlayerJoinedEvent
	a.Expect(room.EventPlayerJoined, wait).Decode(t, &joined)
	a.Expect(room.EventOpponentJoined, wait)

	a.Close()
	var left room.PlayerLeftEvent
	b.Expect(room.EventPlayerLeft, wait).Decode(t, &left)
	assert.NotEmpty(t, left.ConnectionID)

	b.Send("leave", nil)
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, wait, 10*time.Millisecond)

	// A fresh room carries no memory of the old one.
	c := h.dial(t)
	c.Send("join", map[string]string{"roomKey": "g2"})
	var fresh struct {
		Seat  engine.Seat `json:"seat"`
		Phase string      `json:"phase"`
	}
	c.Expect(room.EventInit, wait).Decode(t, &fresh)
	assert.Equal(t, engine.First, fresh.Seat)
	assert.Equal(t, "waiting", fresh.Phase)
}

// seatedPair joins two fresh clients to key and returns them with the
// second client's connection id, as announced to the first.
func (h *harness) seatedPair(t *testing.T, key string) (*testutil.WSClient, *testutil.WSClient, string) {
	t.Helper()
	a, b := h.dial(t), h.dial(t)
	a.Send("join", map[string]string{"roomKey": key})
	a.Expect(room.EventInit, wait)
	b.Send("join", map[string]string{"roomKey": key})
	b.Expect(room.EventInit, wait)
	b.Expect(room.EventOpponentJoined, wait)
	var joined room.PlayerJoinedEvent
	a.Expect(room.EventPlayerJoined, wait).Decode(t, &joined)
	a.Expect(room.EventOpponentJoined, wait)
	return a, b, joined.ConnectionID
}

func TestWebsocket_ServerSideCloseReleasesSeat(t *testing.T) {
	h := newHarness(t)
	a, _, id := h.seatedPair(t, "g3")

	sess, ok := h.hub.Get(id)
	require.True(t, ok)
	require.True(t, sess.Close())
	assert.False(t, sess.Close())

	var left room.PlayerLeftEvent
	a.Expect(room.EventPlayerLeft, wait).Decode(t, &left)
	assert.Equal(t, id, left.ConnectionID)
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, wait, 10*time.Millisecond)

	rm, ok := h.registry.Get("g3")
	require.True(t, ok)
	assert.Equal(t, 1, rm.Len())
}

func TestWebsocket_ClosedSessionCannotTakeSeat(t *testing.T) {
	h := newHarness(t)
	a, b, id := h.seatedPair(t, "g4")
	b.Send("leave", nil)
	a.Expect(room.EventPlayerLeft, wait)

	sess, ok := h.hub.Get(id)
	require.True(t, ok)
	sess.Close()
	h.hub.Dispatch(sess, []byte(`{"event":"join","data":{"roomKey":"late"}}`))

	_, ok = h.registry.Get("late")
	assert.False(t, ok)
	_, seated := h.registry.FindByConnection(id)
	assert.False(t, seated)
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, wait, 10*time.Millisecond)
	assert.Equal(t, 1, h.registry.Len())
}

func TestWebsocket_BadRequests(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	for _, raw := range []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"resign","data":{}}`,
		`{"event":"join","data":{}}`,
		`{"event":"join","data":"g1"}`,
		`{"event":"move","data":{"roomKey":"g1","from":"e2"}}`,
	} {
		c.SendRaw([]byte(raw))
		var ev room.ErrorEvent
		c.Expect(room.EventError, wait).Decode(t, &ev)
		assert.Equal(t, room.ReasonBadRequest, ev.Reason, raw)
	}

	c.Send("move", map[string]string{"roomKey": "nowhere", "from": "e2", "to": "e4"})
	var ev room.ErrorEvent
	c.Expect(room.EventError, wait).Decode(t, &ev)
	assert.Equal(t, room.ErrorEvent{Reason: room.ReasonRoomNotFound, Message: "Game room does not exist"}, ev)
	assert.Equal(t, 0, h.registry.Len())
}

func TestWebsocket_AlreadySeated(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.Send("join", map[string]string{"roomKey": "one"})
	c.Expect(room.EventInit, wait)
	c.Send("join", map[string]string{"roomKey": "two"})
	var ev room.ErrorEvent
	c.Expect(room.EventError, wait).Decode(t, &ev)
	assert.Equal(t, room.ReasonAlreadySeated, ev.Reason)
	assert.Equal(t, 1, h.registry.Len())
}

func TestWebsocket_OriginRestriction(t *testing.T) {
	h := newHarness(t, "https://play.example")
	url := testutil.WSURL(h.srv.URL, "/ws")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, h.hub.Len())

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://play.example"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, wait, 10*time.Millisecond)
}

func TestHub_SendToUnknownSession(t *testing.T) {
	hub := gateway.NewHub(zaptest.NewLogger(t))
	err := hub.Send("ghost", room.OpponentJoinedEvent{})
	assert.Error(t, err)
}
