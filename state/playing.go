package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/tetris"
	"github.com/wfunc/tetrisserver/timer"
)

// DefaultPreview is the number of upcoming pieces included in snapshots.
const DefaultPreview = 5

// Outcomes recorded per contender.
const (
	OutcomeWinner     = "winner"
	OutcomeEliminated = "eliminated"
	OutcomeForfeit    = "forfeit"
	OutcomeLeft       = "left"
	OutcomeSurvived   = "survived"
)

// MatchConfig parameterises a PlayingState.
type MatchConfig struct {
	Seed     uint64
	Preview  int
	Clock    timer.Clock
	Observer Observer
	// OnFinish is called once, after game.over has been broadcast and the
	// room has moved to FinishedState.
	OnFinish func(MatchResult)
}

// Standing is one contender's final line in a MatchResult.
type Standing struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Lines    int    `json:"lines"`
	Level    int    `json:"level"`
	Outcome  string `json:"outcome"`
}

// MatchResult describes a finished match.
type MatchResult struct {
	RoomID     string        `json:"roomId"`
	RoomName   string        `json:"roomName"`
	WinnerID   string        `json:"winnerId,omitempty"`
	WinnerName string        `json:"winnerName,omitempty"`
	Standings  []Standing    `json:"standings"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

// PlayerSnapshot is one entry of a game.stateUpdate message.
type PlayerSnapshot struct {
	PlayerID    string       `json:"playerId"`
	Name        string       `json:"name"`
	State       tetris.State `json:"state"`
	DisplayGrid tetris.Grid  `json:"displayGrid"`
}

type winnerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type gameOverMessage struct {
	Winner    *winnerInfo `json:"winner"`
	Standings []Standing  `json:"standings"`
}

type gameStartMessage struct {
	Seed    uint64       `json:"seed"`
	Players []playerInfo `json:"players"`
}

type playerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type actionMessage struct {
	Action string `json:"action"`
}

type outgoing struct {
	msgID uint16
	data  []byte
}

// outbox queues a match's messages in the order they were produced. One
// caller at a time drains it, so a slow room send delays only the drainer.
// A queued snapshot that has not gone out yet is replaced by a newer one.
type outbox struct {
	mu      sync.Mutex
	queue   []outgoing
	sending bool
}

func (o *outbox) push(m outgoing) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.queue); n > 0 && m.msgID == network.MsgTypeGameStateUpdate &&
		o.queue[n-1].msgID == network.MsgTypeGameStateUpdate {
		o.queue[n-1] = m
		return
	}
	o.queue = append(o.queue, m)
}

// claim makes the caller the drainer unless another caller already is.
func (o *outbox) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sending || len(o.queue) == 0 {
		return false
	}
	o.sending = true
	return true
}

func (o *outbox) pop() (outgoing, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		o.sending = false
		return outgoing{}, false
	}
	m := o.queue[0]
	o.queue = o.queue[1:]
	return m, true
}

// contender is one member's game inside a match. mu guards engine and
// sequencer so snapshot reads never race a mutator.
type contender struct {
	id        string
	name      string
	mu        sync.Mutex
	engine    *tetris.Engine
	sequencer *tetris.Sequencer
	lastFall  time.Time
	outcome   string
}

func (c *contender) snapshot(preview int) PlayerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.engine.Snapshot()
	st.Next = c.sequencer.Peek(preview)
	return PlayerSnapshot{
		PlayerID:    c.id,
		Name:        c.name,
		State:       st,
		DisplayGrid: c.engine.RenderedGrid(),
	}
}

func (c *contender) standing() Standing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Standing{
		PlayerID: c.id,
		Name:     c.name,
		Score:    c.engine.Score(),
		Lines:    c.engine.LinesCleared(),
		Level:    c.engine.Level(),
		Outcome:  c.outcome,
	}
}

// PlayingState runs one match. Every member present at OnEnter becomes a
// contender with its own engine and a sequencer seeded with the match seed.
// OnUpdate is the gravity pass driven by the room's ticker; HandleAction
// applies player input immediately. mu serialises both. Messages are queued
// under mu and sent after it is released.
type PlayingState struct {
	RoomStateBase
	cfg MatchConfig
	out outbox

	mu         sync.Mutex
	contenders []*contender
	byID       map[string]*contender
	startedAt  time.Time
	finished   bool
}

func NewPlayingState(room RoomContext, cfg MatchConfig) *PlayingState {
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Preview <= 0 {
		cfg.Preview = DefaultPreview
	}
	return &PlayingState{
		RoomStateBase: RoomStateBase{
			ID:   IDPlaying,
			Room: room,
		},
		cfg:  cfg,
		byID: make(map[string]*contender),
	}
}

// OnEnter 创建每个玩家的引擎并生成第一个方块
func (s *PlayingState) OnEnter() {
	s.mu.Lock()
	defer s.flush()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	s.startedAt = now

	players := s.Room.GetPlayers()
	infos := make([]playerInfo, 0, len(players))
	for _, p := range players {
		c := &contender{
			id:        p.GetID(),
			name:      p.GetName(),
			engine:    tetris.NewEngine(),
			sequencer: tetris.NewSequencer(s.cfg.Seed),
			lastFall:  now,
		}
		c.engine.Spawn(c.sequencer.Next())
		s.contenders = append(s.contenders, c)
		s.byID[c.id] = c
		infos = append(infos, playerInfo{ID: c.id, Name: c.name})
	}

	logger.Log.Infof("房间 %s 开始游戏, players=%d seed=%d", s.Room.GetID(), len(s.contenders), s.cfg.Seed)
	s.cfg.Observer.MatchStarted(s.Room.GetID(), len(s.contenders))

	s.enqueue(network.MsgTypeGameStarted, gameStartMessage{Seed: s.cfg.Seed, Players: infos})
	s.enqueueSnapshot()
}

func (s *PlayingState) OnExit() {
	logger.Log.Debugf("房间 %s 退出游戏状态", s.Room.GetID())
}

// OnUpdate applies gravity to every alive contender whose fall interval has
// elapsed, in join order, and broadcasts one snapshot if anything moved.
func (s *PlayingState) OnUpdate() {
	start := time.Now()
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}

	now := s.cfg.Clock.Now()
	changed := false
	for _, c := range s.contenders {
		if s.gravity(c, now) {
			changed = true
		}
	}
	if changed {
		s.enqueueSnapshot()
	}
	result := s.checkOver()
	s.mu.Unlock()

	s.flush()
	s.cfg.Observer.TickProcessed(time.Since(start))
	s.finish(result)
}

// gravity moves c down one row if its fall interval has elapsed.
func (s *PlayingState) gravity(c *contender, now time.Time) bool {
	c.mu.Lock()
	if !c.engine.Alive() || now.Sub(c.lastFall) <= c.engine.FallInterval() {
		c.mu.Unlock()
		return false
	}
	c.lastFall = now
	res := c.engine.Apply(tetris.ActionDown)
	c.mu.Unlock()

	if res.Locked {
		s.afterLock(c, res)
	}
	return true
}

// afterLock spawns c's next piece and sends penalty lines for a multi-line clear.
func (s *PlayingState) afterLock(c *contender, res tetris.Result) {
	c.mu.Lock()
	spawned := c.engine.Spawn(c.sequencer.Next())
	c.mu.Unlock()

	if res.LinesCleared > 0 {
		s.cfg.Observer.LinesCleared(res.LinesCleared)
	}
	if !spawned {
		s.eliminated(c, OutcomeEliminated)
	}

	if res.LinesCleared < 2 {
		return
	}
	penalty := res.LinesCleared - 1
	for _, o := range s.contenders {
		if o == c {
			continue
		}
		o.mu.Lock()
		if !o.engine.Alive() {
			o.mu.Unlock()
			continue
		}
		survived := o.engine.AddPenaltyLines(penalty)
		o.mu.Unlock()

		s.cfg.Observer.PenaltySent(penalty)
		if !survived {
			s.eliminated(o, OutcomeEliminated)
		}
	}
}

func (s *PlayingState) eliminated(c *contender, outcome string) {
	if c.outcome == "" {
		c.outcome = outcome
	}
	logger.Log.Infof("房间 %s 玩家 %s 出局 (%s)", s.Room.GetID(), c.id, outcome)
	s.cfg.Observer.PlayerEliminated()
}

// HandleAction applies a game.action payload immediately. Input for unknown
// players, eliminated players or a finished match is ignored.
func (s *PlayingState) HandleAction(player Player, actionData []byte) error {
	var msg actionMessage
	if err := json.Unmarshal(actionData, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal action data: %w", err)
	}
	action, err := tetris.ParseAction(msg.Action)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}

	s.mu.Lock()
	c, ok := s.byID[player.GetID()]
	if s.finished || !ok {
		s.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	if !c.engine.Alive() {
		c.mu.Unlock()
		s.mu.Unlock()
		return nil
	}
	res := c.engine.Apply(action)
	c.mu.Unlock()

	if res.Locked {
		s.afterLock(c, res)
	}
	s.enqueueSnapshot()
	result := s.checkOver()
	s.mu.Unlock()

	s.flush()
	s.finish(result)
	return nil
}

// Forfeit eliminates playerID on a self-reported game over. The winner is
// still decided by the server's own survivor check.
func (s *PlayingState) Forfeit(playerID string) {
	s.retire(playerID, OutcomeForfeit)
}

// PlayerLeft eliminates a contender who left the room mid-match.
func (s *PlayingState) PlayerLeft(playerID string) {
	s.retire(playerID, OutcomeLeft)
}

func (s *PlayingState) retire(playerID, outcome string) {
	s.mu.Lock()
	c, ok := s.byID[playerID]
	if s.finished || !ok {
		s.mu.Unlock()
		return
	}

	c.mu.Lock()
	wasAlive := c.engine.Alive()
	c.engine.Eliminate()
	c.mu.Unlock()

	if wasAlive {
		s.eliminated(c, outcome)
		s.enqueueSnapshot()
	}
	result := s.checkOver()
	s.mu.Unlock()

	s.flush()
	s.finish(result)
}

// checkOver marks the match finished once at most one contender of a
// multi-player match, or none of a solo match, is alive. Called with mu held.
func (s *PlayingState) checkOver() *MatchResult {
	if s.finished {
		return nil
	}

	var alive []*contender
	for _, c := range s.contenders {
		c.mu.Lock()
		if c.engine.Alive() {
			alive = append(alive, c)
		}
		c.mu.Unlock()
	}

	switch {
	case len(s.contenders) == 0:
	case len(s.contenders) == 1 && len(alive) == 0:
	case len(s.contenders) > 1 && len(alive) <= 1:
	default:
		return nil
	}

	s.finished = true
	result := MatchResult{
		RoomID:    s.Room.GetID(),
		RoomName:  s.Room.GetName(),
		StartedAt: s.startedAt,
		Duration:  s.cfg.Clock.Now().Sub(s.startedAt),
	}
	if len(alive) == 1 && len(s.contenders) > 1 {
		w := alive[0]
		w.outcome = OutcomeWinner
		result.WinnerID, result.WinnerName = w.id, w.name
	}
	for _, c := range s.contenders {
		if c.outcome == "" {
			c.outcome = OutcomeSurvived
		}
		result.Standings = append(result.Standings, c.standing())
	}
	return &result
}

// finish announces the result and moves the room on. It runs without mu so
// the state machine can call OnExit.
func (s *PlayingState) finish(result *MatchResult) {
	if result == nil {
		return
	}

	msg := gameOverMessage{Standings: result.Standings}
	if result.WinnerID != "" {
		for _, st := range result.Standings {
			if st.PlayerID == result.WinnerID {
				msg.Winner = &winnerInfo{ID: st.PlayerID, Name: st.Name, Score: st.Score}
			}
		}
	}
	s.enqueue(network.MsgTypeGameEnd, msg)
	s.flush()

	s.cfg.Observer.MatchFinished(*result)

	if err := s.Room.ChangeState(NewFinishedState(s.Room, *result)); err != nil {
		logger.Log.Errorf("房间 %s 无法切换到结束状态: %v", s.Room.GetID(), err)
	}
	if s.cfg.OnFinish != nil {
		s.cfg.OnFinish(*result)
	}
}

// Finished reports whether the match has ended.
func (s *PlayingState) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Snapshot returns the current per-contender snapshot in join order.
func (s *PlayingState) Snapshot() []PlayerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *PlayingState) snapshotLocked() []PlayerSnapshot {
	out := make([]PlayerSnapshot, 0, len(s.contenders))
	for _, c := range s.contenders {
		out = append(out, c.snapshot(s.cfg.Preview))
	}
	return out
}

func (s *PlayingState) enqueueSnapshot() {
	s.enqueue(network.MsgTypeGameStateUpdate, s.snapshotLocked())
}

func (s *PlayingState) enqueue(msgID uint16, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("Error marshalling message %d: %v", msgID, err)
		return
	}
	s.out.push(outgoing{msgID: msgID, data: data})
}

// flush sends queued messages. Must not be called with mu held.
func (s *PlayingState) flush() {
	if !s.out.claim() {
		return
	}
	for {
		m, ok := s.out.pop()
		if !ok {
			return
		}
		if err := s.Room.Broadcast(m.msgID, m.data); err != nil {
			logger.Log.Debugf("broadcast %s to room %s: %v", network.MsgName(m.msgID), s.Room.GetID(), err)
		}
	}
}
