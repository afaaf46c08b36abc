package state

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/tetris"
	"github.com/wfunc/tetrisserver/timer"
)

type fakePlayer struct {
	id, name string
}

func (p fakePlayer) GetID() string   { return p.id }
func (p fakePlayer) GetName() string { return p.name }

type sentMessage struct {
	msgID uint16
	data  []byte
}

// fakeRoom records broadcasts and owns a real state machine.
type fakeRoom struct {
	players []Player
	sm      *BaseStateMachine

	mu   sync.Mutex
	sent []sentMessage
}

func newFakeRoom(ids ...string) *fakeRoom {
	r := &fakeRoom{}
	for _, id := range ids {
		r.players = append(r.players, fakePlayer{id: id, name: "name-" + id})
	}
	r.sm = NewBaseStateMachine(NewWaitingState(r))
	return r
}

func (r *fakeRoom) GetID() string                    { return "room-1" }
func (r *fakeRoom) GetName() string                  { return "Test Room" }
func (r *fakeRoom) GetPlayers() []Player             { return r.players }
func (r *fakeRoom) ChangeState(newState State) error { return r.sm.ChangeState(newState) }

func (r *fakeRoom) Broadcast(msgID uint16, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{msgID: msgID, data: data})
	return nil
}

func (r *fakeRoom) count(msgID uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.msgID == msgID {
			n++
		}
	}
	return n
}

func (r *fakeRoom) last(t *testing.T, msgID uint16, v any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].msgID == msgID {
			require.NoError(t, json.Unmarshal(r.sent[i].data, v))
			return
		}
	}
	t.Fatalf("no message %d was broadcast", msgID)
}

// stallingRoom holds the first snapshot send after armed is set until
// release is closed.
type stallingRoom struct {
	*fakeRoom
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newStallingRoom(ids ...string) *stallingRoom {
	return &stallingRoom{
		fakeRoom: newFakeRoom(ids...),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (r *stallingRoom) Broadcast(msgID uint16, data []byte) error {
	if msgID == network.MsgTypeGameStateUpdate && r.armed.CompareAndSwap(true, false) {
		close(r.entered)
		<-r.release
	}
	return r.fakeRoom.Broadcast(msgID, data)
}

type countingObserver struct {
	NopObserver
	mu         sync.Mutex
	lines      int
	penalties  int
	eliminated int
	finished   int
}

func (o *countingObserver) LinesCleared(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines += n
}

func (o *countingObserver) PenaltySent(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.penalties += n
}

func (o *countingObserver) PlayerEliminated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.eliminated++
}

func (o *countingObserver) MatchFinished(MatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func startMatch(t *testing.T, room *fakeRoom, clock timer.Clock, obs Observer) *PlayingState {
	t.Helper()
	ps := NewPlayingState(room, MatchConfig{Seed: 7, Clock: clock, Observer: obs})
	require.NoError(t, room.ChangeState(ps))
	return ps
}

// almostFull returns a grid whose bottom n rows are full except column 0.
func almostFull(n int) tetris.Grid {
	var g tetris.Grid
	for r := tetris.Rows - n; r < tetris.Rows; r++ {
		for c := 1; c < tetris.Cols; c++ {
			g[r][c] = tetris.PenaltyCode
		}
	}
	return g
}

// rig replaces id's engine with one over g holding a vertical I in column 0.
func rig(t *testing.T, ps *PlayingState, id string, g tetris.Grid) *contender {
	t.Helper()
	c := ps.byID[id]
	require.NotNil(t, c)
	c.engine = tetris.NewEngineWithGrid(g)
	require.True(t, c.engine.Spawn(tetris.PieceI))
	c.engine.Apply(tetris.ActionRotate)
	for i := 0; i < tetris.SpawnCol; i++ {
		c.engine.Apply(tetris.ActionLeft)
	}
	return c
}

func action(t *testing.T, ps *PlayingState, id string, a tetris.Action) {
	t.Helper()
	data, _ := json.Marshal(map[string]string{"action": string(a)})
	require.NoError(t, ps.HandleAction(fakePlayer{id: id}, data))
}

func isPenaltyRow(row tetris.Row) bool {
	for _, c := range row {
		if c != tetris.PenaltyCode {
			return false
		}
	}
	return true
}

func TestPlayingStateEnterSpawnsEveryMember(t *testing.T) {
	room := newFakeRoom("a", "b")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	assert.Equal(t, IDPlaying, room.sm.GetCurrentState().GetID())
	assert.Equal(t, 1, room.count(network.MsgTypeGameStarted))

	var start gameStartMessage
	room.last(t, network.MsgTypeGameStarted, &start)
	assert.Equal(t, uint64(7), start.Seed)
	require.Len(t, start.Players, 2)
	assert.Equal(t, "a", start.Players[0].ID)

	snap := ps.Snapshot()
	require.Len(t, snap, 2)
	for _, s := range snap {
		require.NotNil(t, s.State.CurrentPiece)
		assert.Equal(t, 1, s.State.PieceIndex)
		assert.Len(t, s.State.Next, DefaultPreview)
	}
	// same seed, same pieces
	assert.Equal(t, snap[0].State.CurrentPiece.Type, snap[1].State.CurrentPiece.Type)
	assert.Equal(t, snap[0].State.Next, snap[1].State.Next)
}

func TestGravityWaitsForFallInterval(t *testing.T) {
	clock := timer.NewManualClock(time.Now())
	room := newFakeRoom("a", "b")
	ps := startMatch(t, room, clock, nil)
	before := room.count(network.MsgTypeGameStateUpdate)

	clock.Advance(time.Second)
	ps.OnUpdate()
	assert.Equal(t, before, room.count(network.MsgTypeGameStateUpdate), "no snapshot when nothing moved")
	p, _ := ps.byID["a"].engine.ActivePiece()
	assert.Equal(t, 0, p.Row)

	clock.Advance(time.Millisecond)
	ps.OnUpdate()
	assert.Equal(t, before+1, room.count(network.MsgTypeGameStateUpdate), "one consolidated snapshot per pass")
	for _, id := range []string{"a", "b"} {
		p, _ := ps.byID[id].engine.ActivePiece()
		assert.Equal(t, 1, p.Row, "player %s", id)
	}
}

func TestTwoLineClearPenalisesEveryOpponent(t *testing.T) {
	obs := &countingObserver{}
	room := newFakeRoom("a", "b", "c", "d")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), obs)

	a := rig(t, ps, "a", almostFull(2))
	action(t, ps, "a", tetris.ActionDrop)

	assert.Equal(t, 2, a.engine.LinesCleared())
	g := a.engine.Grid()
	for r := range g {
		assert.False(t, isPenaltyRow(g[r]), "clearing player must not be penalised")
	}
	for _, id := range []string{"b", "c", "d"} {
		g := ps.byID[id].engine.Grid()
		assert.True(t, isPenaltyRow(g[tetris.Rows-1]), "player %s", id)
		assert.False(t, isPenaltyRow(g[tetris.Rows-2]), "player %s gets exactly one line", id)
		assert.True(t, ps.byID[id].engine.Alive())
	}
	assert.Equal(t, 2, obs.lines)
	assert.Equal(t, 3, obs.penalties)
	assert.False(t, ps.Finished())
}

func TestSingleLineClearSendsNoPenalty(t *testing.T) {
	room := newFakeRoom("a", "b", "c", "d")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	a := rig(t, ps, "a", almostFull(1))
	action(t, ps, "a", tetris.ActionDrop)

	assert.Equal(t, 1, a.engine.LinesCleared())
	for _, id := range []string{"b", "c", "d"} {
		assert.Equal(t, tetris.Grid{}, ps.byID[id].engine.Grid(), "player %s", id)
	}
}

func TestGravityLockPenaltyEliminatesAndEndsMatch(t *testing.T) {
	clock := timer.NewManualClock(time.Now())
	obs := &countingObserver{}
	room := newFakeRoom("a", "b")
	var recorded []MatchResult
	ps := NewPlayingState(room, MatchConfig{
		Seed:     1,
		Clock:    clock,
		Observer: obs,
		OnFinish: func(r MatchResult) { recorded = append(recorded, r) },
	})
	require.NoError(t, room.ChangeState(ps))

	a := rig(t, ps, "a", almostFull(2))
	for i := 0; i < tetris.Rows-4; i++ {
		require.False(t, a.engine.Apply(tetris.ActionDown).Locked)
	}

	// b's floor sits right under its piece so one penalty line crushes it
	var bg tetris.Grid
	bg[2][tetris.SpawnCol] = tetris.PenaltyCode
	bg[2][tetris.SpawnCol+1] = tetris.PenaltyCode
	b := ps.byID["b"]
	b.engine = tetris.NewEngineWithGrid(bg)
	require.True(t, b.engine.Spawn(tetris.PieceO))

	clock.Advance(1001 * time.Millisecond)
	ps.OnUpdate()

	assert.False(t, b.engine.Alive())
	assert.True(t, a.engine.Alive())
	assert.True(t, ps.Finished())
	assert.Equal(t, IDFinished, room.sm.GetCurrentState().GetID())

	var over gameOverMessage
	room.last(t, network.MsgTypeGameEnd, &over)
	require.NotNil(t, over.Winner)
	assert.Equal(t, "a", over.Winner.ID)

	require.Len(t, recorded, 1)
	assert.Equal(t, "a", recorded[0].WinnerID)
	assert.Equal(t, OutcomeWinner, recorded[0].Standings[0].Outcome)
	assert.Equal(t, OutcomeEliminated, recorded[0].Standings[1].Outcome)
	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, 1, obs.eliminated)

	fs, ok := room.sm.GetCurrentState().(*FinishedState)
	require.True(t, ok)
	assert.Equal(t, "a", fs.Result().WinnerID)
}

func TestForfeitDeclaresSurvivorWinner(t *testing.T) {
	room := newFakeRoom("a", "b")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	ps.Forfeit("a")

	assert.Equal(t, IDFinished, room.sm.GetCurrentState().GetID())
	var over gameOverMessage
	room.last(t, network.MsgTypeGameEnd, &over)
	require.NotNil(t, over.Winner)
	assert.Equal(t, "b", over.Winner.ID)
	assert.Equal(t, "name-b", over.Winner.Name)
	assert.Equal(t, OutcomeForfeit, over.Standings[0].Outcome)

	// later input is ignored and no second result is announced
	ps.Forfeit("b")
	action(t, ps, "b", tetris.ActionLeft)
	assert.Equal(t, 1, room.count(network.MsgTypeGameEnd))
}

func TestLeaveCountsAsElimination(t *testing.T) {
	room := newFakeRoom("a", "b", "c")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	ps.PlayerLeft("b")
	assert.False(t, ps.Finished(), "two players are still alive")
	assert.False(t, ps.byID["b"].engine.Alive())

	ps.PlayerLeft("c")
	assert.True(t, ps.Finished())

	fs := room.sm.GetCurrentState().(*FinishedState)
	assert.Equal(t, "a", fs.Result().WinnerID)
	assert.Equal(t, OutcomeLeft, fs.Result().Standings[1].Outcome)
}

func TestSoloMatchEndsWithoutWinner(t *testing.T) {
	room := newFakeRoom("a")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	ps.OnUpdate()
	assert.False(t, ps.Finished(), "a lone survivor keeps playing")

	ps.Forfeit("a")
	require.True(t, ps.Finished())
	fs := room.sm.GetCurrentState().(*FinishedState)
	assert.Empty(t, fs.Result().WinnerID)

	var over gameOverMessage
	room.last(t, network.MsgTypeGameEnd, &over)
	assert.Nil(t, over.Winner)
}

func TestHandleActionErrors(t *testing.T) {
	room := newFakeRoom("a", "b")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)

	err := ps.HandleAction(fakePlayer{id: "a"}, []byte(`{"action":"hold"}`))
	assert.ErrorIs(t, err, ErrUnknownAction)

	assert.Error(t, ps.HandleAction(fakePlayer{id: "a"}, []byte(`not json`)))

	// unknown players are ignored
	assert.NoError(t, ps.HandleAction(fakePlayer{id: "zz"}, []byte(`{"action":"left"}`)))
}

func TestDirectActionBroadcastsSnapshot(t *testing.T) {
	room := newFakeRoom("a", "b")
	ps := startMatch(t, room, timer.NewManualClock(time.Now()), nil)
	before := room.count(network.MsgTypeGameStateUpdate)

	action(t, ps, "a", tetris.ActionLeft)
	action(t, ps, "a", tetris.ActionLeft)

	assert.Equal(t, before+2, room.count(network.MsgTypeGameStateUpdate))
	var snap []PlayerSnapshot
	room.last(t, network.MsgTypeGameStateUpdate, &snap)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].PlayerID)
	assert.Equal(t, tetris.SpawnCol-2, snap[0].State.CurrentPiece.Col)
}

func TestConcurrentTicksAndActions(t *testing.T) {
	clock := timer.NewManualClock(time.Now())
	room := newFakeRoom("a", "b", "c")
	ps := startMatch(t, room, clock, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				action(t, ps, id, tetris.ActionRotate)
				action(t, ps, id, tetris.ActionDown)
			}
		}(id)
	}
	for i := 0; i < 50; i++ {
		clock.Advance(time.Second)
		ps.OnUpdate()
	}
	wg.Wait()
	assert.NotEmpty(t, ps.Snapshot())
}

// blockUnder replaces id's engine with an O piece at spawn and one locked
// cell in the piece's left column at row.
func blockUnder(t *testing.T, ps *PlayingState, id string, row int) *contender {
	t.Helper()
	var g tetris.Grid
	g[row][tetris.SpawnCol] = tetris.PenaltyCode
	c := ps.byID[id]
	c.engine = tetris.NewEngineWithGrid(g)
	require.True(t, c.engine.Spawn(tetris.PieceO))
	return c
}

func hasCode(g tetris.Grid, code int) bool {
	for _, row := range g {
		for _, cell := range row {
			if cell == code {
				return true
			}
		}
	}
	return false
}

func TestPenaltyFromLaterMemberLandsAfterEarlierGravity(t *testing.T) {
	start := time.Now()
	clock := timer.NewManualClock(start)
	room := newFakeRoom("a", "b", "c")
	ps := startMatch(t, room, clock, nil)

	// b falls onto rows 1-2 first, then the raised cell reaches row 2
	b := blockUnder(t, ps, "b", 3)
	c := rig(t, ps, "c", almostFull(2))
	for i := 0; i < tetris.Rows-4; i++ {
		require.False(t, c.engine.Apply(tetris.ActionDown).Locked)
	}

	clock.Advance(1001 * time.Millisecond)
	ps.OnUpdate()

	assert.Equal(t, 2, c.engine.LinesCleared())
	assert.Equal(t, clock.Now(), b.lastFall, "b's gravity step ran before c's lock")
	assert.False(t, b.engine.Alive(), "penalty crushed b's lowered piece")
	assert.False(t, hasCode(b.engine.Grid(), tetris.PieceO.Code()), "b's piece was never locked")
	assert.True(t, ps.byID["a"].engine.Alive())
	assert.False(t, ps.Finished())
}

func TestPenaltyFromEarlierMemberEliminatesBeforeLaterGravity(t *testing.T) {
	start := time.Now()
	clock := timer.NewManualClock(start)
	room := newFakeRoom("a", "b", "c")
	ps := startMatch(t, room, clock, nil)

	a := rig(t, ps, "a", almostFull(2))
	for i := 0; i < tetris.Rows-4; i++ {
		require.False(t, a.engine.Apply(tetris.ActionDown).Locked)
	}
	// b rests on the cell below, one penalty row pushes it into the piece
	b := blockUnder(t, ps, "b", 2)

	clock.Advance(1001 * time.Millisecond)
	ps.OnUpdate()

	assert.Equal(t, 2, a.engine.LinesCleared())
	assert.False(t, b.engine.Alive())
	assert.Equal(t, start, b.lastFall, "eliminated b gets no gravity step in the same pass")
	assert.False(t, hasCode(b.engine.Grid(), tetris.PieceO.Code()), "b's piece was never locked")
	assert.Equal(t, clock.Now(), ps.byID["c"].lastFall)
	assert.False(t, ps.Finished())
}

func TestStalledSnapshotSendDoesNotBlockActions(t *testing.T) {
	clock := timer.NewManualClock(time.Now())
	room := newStallingRoom("a", "b")
	ps := NewPlayingState(room, MatchConfig{Seed: 7, Clock: clock})
	require.NoError(t, room.ChangeState(ps))

	room.armed.Store(true)
	clock.Advance(1001 * time.Millisecond)
	tick := make(chan struct{})
	go func() {
		defer close(tick)
		ps.OnUpdate()
	}()
	select {
	case <-room.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never sent its snapshot")
	}

	done := make(chan error, 1)
	go func() {
		done <- ps.HandleAction(fakePlayer{id: "b"}, []byte(`{"action":"left"}`))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("action waited on a stalled snapshot send")
	}
	assert.Equal(t, tetris.SpawnCol-1, ps.Snapshot()[1].State.CurrentPiece.Col)

	close(room.release)
	select {
	case <-tick:
	case <-time.After(time.Second):
		t.Fatal("tick did not finish after the send was released")
	}

	var snap []PlayerSnapshot
	room.last(t, network.MsgTypeGameStateUpdate, &snap)
	assert.Equal(t, tetris.SpawnCol-1, snap[1].State.CurrentPiece.Col, "queued snapshot follows the stalled one")
}
