package room

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/session"
)

// Summary is one entry of the room list.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HostName    string `json:"hostName"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	Status      string `json:"status"`
}

// PlayerInfo is a member as shown to other members.
type PlayerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsReady bool   `json:"isReady"`
	IsHost  bool   `json:"isHost"`
}

// Info is the full room view sent on room.joined.
type Info struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	HostID     string       `json:"hostId"`
	Players    []PlayerInfo `json:"players"`
	MaxPlayers int          `json:"maxPlayers"`
	Status     string       `json:"status"`
}

// Players returns the member list in join order.
func (r *Room) Players() []PlayerInfo {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	out := make([]PlayerInfo, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, PlayerInfo{
			ID:      m.ID,
			Name:    m.GetName(),
			IsReady: m.Ready(),
			IsHost:  m.ID == r.hostID,
		})
	}
	return out
}

func (r *Room) Info() Info {
	info := Info{
		ID:         r.ID,
		Name:       r.Name,
		Players:    r.Players(),
		MaxPlayers: r.MaxPlayers,
		Status:     r.Status(),
	}
	if host, ok := r.Host(); ok {
		info.HostID = host.ID
	}
	return info
}

func (r *Room) Summary() Summary {
	sum := Summary{
		ID:          r.ID,
		Name:        r.Name,
		PlayerCount: r.PlayerCount(),
		MaxPlayers:  r.MaxPlayers,
		Status:      r.Status(),
	}
	if host, ok := r.Host(); ok {
		sum.HostName = host.GetName()
	}
	return sum
}

// LeaveResult describes a completed leave.
type LeaveResult struct {
	Room *Room
	// Empty is true when the room was deleted because nobody is left.
	Empty bool
}

// Manager is the room directory: rooms by ID and the room of every player.
// It never calls into a room's state while holding its own lock.
type Manager struct {
	rooms       map[string]*Room
	playerRooms map[string]string // sessionID -> roomID
	mutex       sync.RWMutex
	opts        Options
	broadcaster Broadcaster
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(opts Options) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		playerRooms: make(map[string]string),
		opts:        opts.withDefaults(),
	}
}

// SetBroadcaster sets the broadcaster handed to rooms created afterwards.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.broadcaster = b
}

// CreateRoom creates a room with host as its only member.
func (m *Manager) CreateRoom(name string, host *session.Session) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, in := m.playerRooms[host.ID]; in {
		return nil, ErrAlreadyInRoom
	}

	room := NewRoom(uuid.NewString(), name, m.opts, m.broadcaster)
	room.AddPlayer(host)
	m.rooms[room.ID] = room
	m.playerRooms[host.ID] = room.ID

	logger.Log.Infof("Session %s created room %s (%s)", host.ID, room.ID, name)
	return room, nil
}

// JoinRoom adds s to roomID. Joining the room s is already in succeeds
// without change.
func (m *Manager) JoinRoom(roomID string, s *session.Session) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return nil, ErrRoomNotFound
	}
	if current, in := m.playerRooms[s.ID]; in {
		if current == roomID {
			return room, nil
		}
		return nil, ErrAlreadyInRoom
	}
	if !room.AddPlayer(s) {
		return nil, ErrRoomFull
	}
	m.playerRooms[s.ID] = roomID

	logger.Log.Infof("Session %s joined room %s", s.ID, roomID)
	return room, nil
}

// Leave removes sessionID from its room and tells the room's state the
// player left. An emptied room is then deleted and closed.
func (m *Manager) Leave(sessionID string) (LeaveResult, bool) {
	m.mutex.Lock()
	roomID, in := m.playerRooms[sessionID]
	if !in {
		m.mutex.Unlock()
		return LeaveResult{}, false
	}
	delete(m.playerRooms, sessionID)
	res := m.detachLocked(roomID, sessionID)
	m.mutex.Unlock()

	m.departed(res, sessionID)
	return res, true
}

// MoveResult describes a completed Move.
type MoveResult struct {
	Room *Room
	// Left is set when the player gave up another room to join Room.
	Left *LeaveResult
}

// Move puts s in roomID. The current room, if any, is only left once the
// target has taken s, all under one lock, so a full or missing target
// leaves s where it was. Moving into the room s is already in is a no-op.
func (m *Manager) Move(roomID string, s *session.Session) (MoveResult, error) {
	m.mutex.Lock()
	target, exists := m.rooms[roomID]
	if !exists {
		m.mutex.Unlock()
		return MoveResult{}, ErrRoomNotFound
	}
	currentID, in := m.playerRooms[s.ID]
	if in && currentID == roomID {
		m.mutex.Unlock()
		return MoveResult{Room: target}, nil
	}
	if !target.AddPlayer(s) {
		m.mutex.Unlock()
		return MoveResult{}, ErrRoomFull
	}
	m.playerRooms[s.ID] = roomID
	if !in {
		m.mutex.Unlock()
		logger.Log.Infof("Session %s joined room %s", s.ID, roomID)
		return MoveResult{Room: target}, nil
	}
	res := m.detachLocked(currentID, s.ID)
	m.mutex.Unlock()

	m.departed(res, s.ID)
	logger.Log.Infof("Session %s moved from room %s to %s", s.ID, currentID, roomID)
	return MoveResult{Room: target, Left: &res}, nil
}

// detachLocked removes sessionID from roomID and deletes the room if it
// emptied. Called with mutex held.
func (m *Manager) detachLocked(roomID, sessionID string) LeaveResult {
	room := m.rooms[roomID]
	empty := room.RemovePlayer(sessionID) == 0
	if empty {
		delete(m.rooms, roomID)
	}
	return LeaveResult{Room: room, Empty: empty}
}

// departed tells the room's state the player is gone and closes an emptied
// room. Called without mutex.
func (m *Manager) departed(res LeaveResult, sessionID string) {
	res.Room.CurrentState().PlayerLeft(sessionID)
	if res.Empty {
		res.Room.Close()
		logger.Log.Infof("Room %s removed, last player %s left", res.Room.ID, sessionID)
	} else {
		logger.Log.Infof("Session %s left room %s", sessionID, res.Room.ID)
	}
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// RoomOf returns the room sessionID is in.
func (m *Manager) RoomOf(sessionID string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	roomID, in := m.playerRooms[sessionID]
	if !in {
		return nil, false
	}
	room, exists := m.rooms[roomID]
	return room, exists
}

// List returns room summaries, oldest room first.
func (m *Manager) List() []Summary {
	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mutex.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	out := make([]Summary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Summary())
	}
	return out
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// CloseAll stops every room's loop. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for id, room := range m.rooms {
		rooms = append(rooms, room)
		delete(m.rooms, id)
	}
	m.playerRooms = make(map[string]string)
	m.mutex.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
