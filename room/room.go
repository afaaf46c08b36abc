// room/room.go
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/session"
	"github.com/wfunc/tetrisserver/state"
	"github.com/wfunc/tetrisserver/timer"
)

// DefaultMaxPlayers is the room capacity.
const DefaultMaxPlayers = 4

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomClosed      = errors.New("room is closed")
	ErrAlreadyInRoom   = errors.New("player is already in a room")
	ErrMatchInProgress = errors.New("match already in progress")
	ErrNotHost         = errors.New("only the host can start the game")
	ErrNoPlayers       = errors.New("room has no players")
)

// Options configures every room created by a Manager.
type Options struct {
	MaxPlayers   int
	TickInterval time.Duration
	Preview      int
	Clock        timer.Clock
	Observer     state.Observer
	// OnMatchEnd runs on the goroutine that ended the match.
	OnMatchEnd func(r *Room, result state.MatchResult)
}

func (o Options) withDefaults() Options {
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second / 30
	}
	if o.Preview <= 0 {
		o.Preview = state.DefaultPreview
	}
	if o.Clock == nil {
		o.Clock = timer.SystemClock{}
	}
	if o.Observer == nil {
		o.Observer = state.NopObserver{}
	}
	return o
}

// Room 是游戏房间的核心结构
type Room struct {
	ID           string
	Name         string
	MaxPlayers   int
	CreatedAt    time.Time
	StateMachine *state.BaseStateMachine

	opts        Options
	broadcaster Broadcaster

	playerMutex sync.RWMutex
	members     []*session.Session // join order
	hostID      string

	matchMutex sync.Mutex
	loopDone   chan struct{}
	closeChan  chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewRoom 创建一个新房间, 初始为等待状态
func NewRoom(id, name string, opts Options, broadcaster Broadcaster) *Room {
	opts = opts.withDefaults()
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	room := &Room{
		ID:          id,
		Name:        name,
		MaxPlayers:  opts.MaxPlayers,
		CreatedAt:   time.Now(),
		opts:        opts,
		broadcaster: broadcaster,
		closeChan:   make(chan struct{}),
	}

	room.StateMachine = state.NewBaseStateMachine(state.NewWaitingState(room))
	// a running match cannot be restarted
	room.StateMachine.AddTransition(state.IDPlaying, state.IDPlaying, func() bool { return false })
	return room
}

// --- 实现 state.RoomContext 接口 ---

func (r *Room) GetID() string {
	return r.ID
}

func (r *Room) GetName() string {
	return r.Name
}

// GetPlayers returns the members in join order.
func (r *Room) GetPlayers() []state.Player {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	players := make([]state.Player, 0, len(r.members))
	for _, s := range r.members {
		players = append(players, s)
	}
	return players
}

func (r *Room) ChangeState(newState state.State) error {
	return r.StateMachine.ChangeState(newState)
}

// Broadcast sends a message to all players in the room.
func (r *Room) Broadcast(msgID uint16, data []byte) error {
	return r.broadcaster.BroadcastToRoom(r.ID, msgID, data)
}

// --- 房间核心逻辑 ---

// AddPlayer adds s to the room. Adding a current member is a no-op that
// succeeds; a full room rejects the player.
func (r *Room) AddPlayer(s *session.Session) bool {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()

	for _, m := range r.members {
		if m.ID == s.ID {
			return true
		}
	}
	if len(r.members) >= r.MaxPlayers {
		return false
	}

	r.members = append(r.members, s)
	if r.hostID == "" {
		r.hostID = s.ID
	}
	return true
}

// RemovePlayer removes a member and returns how many remain. If the host
// left, the earliest remaining member becomes host.
func (r *Room) RemovePlayer(sessionID string) int {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()

	for i, m := range r.members {
		if m.ID == sessionID {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			break
		}
	}
	if r.hostID == sessionID {
		r.hostID = ""
		if len(r.members) > 0 {
			r.hostID = r.members[0].ID
		}
	}
	return len(r.members)
}

// GetPlayer 获取单个玩家
func (r *Room) GetPlayer(sessionID string) (*session.Session, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	for _, m := range r.members {
		if m.ID == sessionID {
			return m, true
		}
	}
	return nil, false
}

// GetSessions returns the members in join order (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	sessions := make([]*session.Session, len(r.members))
	copy(sessions, r.members)
	return sessions
}

func (r *Room) PlayerCount() int {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	return len(r.members)
}

// Host returns the current host, if the room has members.
func (r *Room) Host() (*session.Session, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	for _, m := range r.members {
		if m.ID == r.hostID {
			return m, true
		}
	}
	return nil, false
}

func (r *Room) IsHost(sessionID string) bool {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	return sessionID != "" && r.hostID == sessionID
}

// CurrentState returns the active lifecycle state.
func (r *Room) CurrentState() state.State {
	return r.StateMachine.GetCurrentState()
}

// Status is the lifecycle state ID: waiting, playing or finished.
func (r *Room) Status() string {
	return r.CurrentState().GetID()
}

// StartMatch moves the room to playing with a fresh engine per member and
// starts the tick loop. It waits for the previous match's loop to exit.
func (r *Room) StartMatch(seed uint64) error {
	r.matchMutex.Lock()
	defer r.matchMutex.Unlock()

	select {
	case <-r.closeChan:
		return ErrRoomClosed
	default:
	}
	if r.Status() == state.IDPlaying {
		return ErrMatchInProgress
	}
	if r.PlayerCount() == 0 {
		return ErrNoPlayers
	}
	if r.loopDone != nil {
		<-r.loopDone
	}

	playing := state.NewPlayingState(r, state.MatchConfig{
		Seed:     seed,
		Preview:  r.opts.Preview,
		Clock:    r.opts.Clock,
		Observer: r.opts.Observer,
		OnFinish: func(result state.MatchResult) {
			if r.opts.OnMatchEnd != nil {
				r.opts.OnMatchEnd(r, result)
			}
		},
	})
	if err := r.ChangeState(playing); err != nil {
		if errors.Is(err, state.ErrTransitionNotAllowed) {
			return ErrMatchInProgress
		}
		return err
	}

	done := make(chan struct{})
	r.loopDone = done
	r.wg.Add(1)
	go r.loop(playing, done)
	return nil
}

// loop 是比赛的主循环, 以固定频率驱动 PlayingState.OnUpdate
func (r *Room) loop(playing *state.PlayingState, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.CurrentState() != state.State(playing) {
				return
			}
			playing.OnUpdate()
		case <-r.closeChan:
			return
		}
	}
}

// Close 关闭房间, 停止主循环并等待当前 tick 完成
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
	r.wg.Wait()
}
