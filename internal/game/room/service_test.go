package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/duel/internal/game/engine"
)

func TestService_FirstJoinWaits(t *testing.T) {
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))

	evs := box.take("c1")
	require.Len(t, evs, 1)
	init, ok := evs[0].(InitEvent)
	require.True(t, ok)
	assert.Equal(t, "g1", init.RoomKey)
	assert.Equal(t, "counter", init.Game)
	assert.Equal(t, engine.First, init.Seat)
	assert.Equal(t, "a", init.Side)
	assert.Equal(t, Waiting, init.Phase)
	assert.Equal(t, "0", init.Snapshot)

	r, ok := svc.Registry().Get("g1")
	require.True(t, ok)
	assert.Equal(t, Waiting, r.Phase())
}

func TestService_SecondJoinReadiesRoom(t *testing.T) {
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	box.take("c1")
	require.NoError(t, svc.Join("c2", "g1"))

	c2 := box.take("c2")
	require.Len(t, c2, 2)
	init := c2[0].(InitEvent)
	assert.Equal(t, engine.Second, init.Seat)
	assert.Equal(t, "b", init.Side)
	assert.Equal(t, OpponentJoinedEvent{}, c2[1])

	c1 := box.take("c1")
	require.Len(t, c1, 2)
	assert.Equal(t, PlayerJoinedEvent{ConnectionID: "c2", Seat: engine.Second, Side: "b"}, c1[0])
	assert.Equal(t, OpponentJoinedEvent{}, c1[1])

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, Ready, r.Phase())
}

func TestService_ThirdJoinRejected(t *testing.T) {
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	require.NoError(t, svc.Join("c2", "g1"))
	box.take("c1")
	box.take("c2")

	err := svc.Join("c3", "g1")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, []Event{ErrorEvent{Reason: ReasonRoomFull, Message: "Game room is full"}}, box.take("c3"))
	assert.Empty(t, box.take("c1"))
	assert.Empty(t, box.take("c2"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, Ready, r.Phase())
	_, seated := svc.Registry().FindByConnection("c3")
	assert.False(t, seated)
}

func TestService_MoveBroadcastsToBoth(t *testing.T) {
	svc, box := readyRoom(t)
	require.NoError(t, svc.Move("c1", "g1", engine.Move{From: "e2", To: "e4"}))

	want := []Event{MoveEvent{From: "e2", To: "e4"}}
	assert.Equal(t, want, box.take("c1"))
	assert.Equal(t, want, box.take("c2"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, engine.State("1"), r.State())
}

func TestService_RejectedMoveReachesOnlySender(t *testing.T) {
	svc, box := readyRoom(t)
	err := svc.Move("c2", "g1", step("bad"))
	assert.ErrorIs(t, err, ErrInvalidMove)

	assert.Equal(t, []Event{ErrorEvent{Reason: ReasonInvalidMove, Message: "Invalid move"}}, box.take("c2"))
	assert.Empty(t, box.take("c1"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, engine.State("0"), r.State())
	assert.Equal(t, Ready, r.Phase())
}

func TestService_AdapterPanicIsInvalidMove(t *testing.T) {
	svc, box := readyRoom(t)
	err := svc.Move("c1", "g1", step("panic"))
	assert.ErrorIs(t, err, ErrInvalidMove)
	assert.Equal(t, []string{EventError}, box.names("c1"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, engine.State("0"), r.State())
}

func TestService_WinConcludesRoom(t *testing.T) {
	svc, box, spy := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	require.NoError(t, svc.Join("c2", "g1"))
	box.take("c1")
	box.take("c2")

	require.NoError(t, svc.Move("c1", "g1", step("f3")))
	require.NoError(t, svc.Move("c2", "g1", step("e5")))
	require.NoError(t, svc.Move("c1", "g1", step("win")))

	want := []Event{
		MoveEvent{From: "x", To: "f3"},
		MoveEvent{From: "x", To: "e5"},
		MoveEvent{From: "x", To: "win"},
		GameOverEvent{Winner: engine.First, Side: "a", Reason: "won"},
	}
	assert.Equal(t, want, box.take("c1"))
	assert.Equal(t, want, box.take("c2"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, Concluded, r.Phase())
	assert.Equal(t, engine.First, r.Outcome().Winner)
	frozen := r.State()

	for _, conn := range []string{"c1", "c2"} {
		err := svc.Move(conn, "g1", step("next"))
		assert.ErrorIs(t, err, ErrInvalidMove)
		assert.Equal(t, []string{EventError}, box.names(conn))
	}
	assert.Equal(t, frozen, r.State())

	recs := spy.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "g1", recs[0].RoomKey)
	assert.Equal(t, "counter", recs[0].Game)
	assert.Len(t, recs[0].Moves, 3)
	assert.Equal(t, "c1", recs[0].ConnFor(engine.First))
	assert.Equal(t, "c2", recs[0].ConnFor(engine.Second))
	assert.Equal(t, frozen, recs[0].FinalState)
}

func TestService_DrawConcludesRoom(t *testing.T) {
	svc, box := readyRoom(t)
	require.NoError(t, svc.Move("c1", "g1", step("draw")))

	evs := box.take("c2")
	require.Len(t, evs, 2)
	assert.Equal(t, GameOverEvent{Draw: true, Reason: "agreed"}, evs[1])
}

func TestService_DisconnectAnnouncesAndDestroys(t *testing.T) {
	svc, box := readyRoom(t)
	require.NoError(t, svc.Move("c1", "g1", step("e4")))
	box.take("c1")
	box.take("c2")

	svc.Disconnect("c1")
	assert.Equal(t, []Event{PlayerLeftEvent{ConnectionID: "c1"}}, box.take("c2"))
	assert.Empty(t, box.take("c1"))
	r, ok := svc.Registry().Get("g1")
	require.True(t, ok)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, Ready, r.Phase())

	svc.Disconnect("c2")
	_, ok = svc.Registry().Get("g1")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Registry().Len())

	require.NoError(t, svc.Join("c4", "g1"))
	evs := box.take("c4")
	require.Len(t, evs, 1)
	init := evs[0].(InitEvent)
	assert.Equal(t, engine.First, init.Seat)
	assert.Equal(t, Waiting, init.Phase)
	assert.Equal(t, "0", init.Snapshot)
}

func TestService_DisconnectUnseatedIsNoop(t *testing.T) {
	svc, box, _ := newTestService()
	assert.False(t, svc.Leave("ghost"))
	svc.Disconnect("ghost")
	assert.Empty(t, box.take("ghost"))
	assert.Equal(t, 0, svc.Registry().Len())
}

func TestService_MoveToMissingRoom(t *testing.T) {
	svc, box, _ := newTestService()
	err := svc.Move("c1", "nowhere", step("e4"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, []Event{ErrorEvent{Reason: ReasonRoomNotFound, Message: "Game room does not exist"}}, box.take("c1"))
	assert.Equal(t, 0, svc.Registry().Len())
}

func TestService_MoveToUnoccupiedRoomIsNotFound(t *testing.T) {
	svc, box, _ := newTestService()
	pending := svc.Registry().GetOrCreate("g1")

	err := svc.Move("c1", "g1", step("e4"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, []Event{ErrorEvent{Reason: ReasonRoomNotFound, Message: "Game room does not exist"}}, box.take("c1"))
	assert.Equal(t, engine.State("0"), pending.State())
}

func TestService_MoveWhileWaiting(t *testing.T) {
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	box.take("c1")

	err := svc.Move("c1", "g1", step("e4"))
	assert.ErrorIs(t, err, ErrInvalidMove)
	assert.Equal(t, []string{EventError}, box.names("c1"))
}

func TestService_MoveByOutsider(t *testing.T) {
	svc, box := readyRoom(t)
	err := svc.Move("c9", "g1", step("e4"))
	assert.ErrorIs(t, err, ErrInvalidMove)
	assert.Equal(t, []string{EventError}, box.names("c9"))
	assert.Empty(t, box.take("c1"))
	assert.Empty(t, box.take("c2"))
}

func TestService_AlreadySeated(t *testing.T) {
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	box.take("c1")

	assert.ErrorIs(t, svc.Join("c1", "g1"), ErrAlreadySeated)
	assert.ErrorIs(t, svc.Join("c1", "g2"), ErrAlreadySeated)
	assert.Equal(t, []string{EventError, EventError}, box.names("c1"))

	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, 1, r.Len())
	_, ok := svc.Registry().Get("g2")
	assert.False(t, ok, "rejected join must not leave an empty room behind")
}

func TestService_LateJoinerTakesFreeSeat(t *testing.T) {
	svc, box := readyRoom(t)
	svc.Leave("c1")
	box.take("c2")

	require.NoError(t, svc.Join("c3", "g1"))
	evs := box.take("c3")
	require.Len(t, evs, 2)
	init := evs[0].(InitEvent)
	assert.Equal(t, engine.First, init.Seat)
	assert.Equal(t, Ready, init.Phase)

	c2 := box.take("c2")
	require.Len(t, c2, 2)
	assert.Equal(t, PlayerJoinedEvent{ConnectionID: "c3", Seat: engine.First, Side: "a"}, c2[0])

	// The replacement plays the departed seat.
	require.NoError(t, svc.Move("c3", "g1", step("win")))
	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, engine.First, r.Outcome().Winner)
}

func TestService_DeliveryFailureDoesNotAbort(t *testing.T) {
	box := newInbox()
	svc := NewService(NewRegistry(counterAdapter{}), box, nil, zaptest.NewLogger(t))
	require.NoError(t, svc.Join("c1", "g1"))
	require.NoError(t, svc.Join("c2", "g1"))
	box.take("c1")
	box.take("c2")

	box.mu.Lock()
	box.fail["c1"] = true
	box.mu.Unlock()

	require.NoError(t, svc.Move("c2", "g1", step("e5")))
	assert.Equal(t, []Event{MoveEvent{From: "x", To: "e5"}}, box.take("c2"))
	r, _ := svc.Registry().Get("g1")
	assert.Equal(t, engine.State("1"), r.State())
}

func TestService_ConcludedRoomStillAcceptsDepartures(t *testing.T) {
	svc, box := readyRoom(t)
	require.NoError(t, svc.Move("c1", "g1", step("win")))
	box.take("c1")
	box.take("c2")

	assert.True(t, svc.Leave("c2"))
	assert.Equal(t, []Event{PlayerLeftEvent{ConnectionID: "c2"}}, box.take("c1"))
	assert.True(t, svc.Leave("c1"))
	assert.Equal(t, 0, svc.Registry().Len())
}

func readyRoom(t *testing.T) (*Service, *inbox) {
	t.Helper()
	svc, box, _ := newTestService()
	require.NoError(t, svc.Join("c1", "g1"))
	require.NoError(t, svc.Join("c2", "g1"))
	box.take("c1")
	box.take("c2")
	return svc, box
}
