// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/room"
	"github.com/wfunc/tetrisserver/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToRoomExcept(roomID, exceptID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToSessions(sessionIDs []string, msgID uint16, data []byte) error
}

// SendCounter is told about every outbound message. Metrics implement it.
type SendCounter interface {
	IncMessagesSent(msgID uint16)
}

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
	counter        SendCounter
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager, counter SendCounter) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
		counter:        counter,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	return b.BroadcastToRoomExcept(roomID, "", msgID, data)
}

// BroadcastToRoomExcept sends to every member of roomID other than exceptID.
func (b *RoomBroadcaster) BroadcastToRoomExcept(roomID, exceptID string, msgID uint16, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	for _, s := range r.GetSessions() {
		if s.ID == exceptID {
			continue
		}
		b.send(s, msgID, data)
	}
	return nil
}

// BroadcastToAll sends to every connected session.
func (b *RoomBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		b.send(s, msgID, data)
	}
	return nil
}

func (b *RoomBroadcaster) BroadcastToSessions(sessionIDs []string, msgID uint16, data []byte) error {
	for _, id := range sessionIDs {
		if s, ok := b.sessionManager.Get(id); ok {
			b.send(s, msgID, data)
		}
	}
	return nil
}

// send drops failures; a broken connection is torn down by its own read loop.
func (b *RoomBroadcaster) send(s *session.Session, msgID uint16, data []byte) {
	if err := s.Send(msgID, data); err != nil {
		logger.Log.Debugf("send %d to session %s: %v", msgID, s.ID, err)
		return
	}
	if b.counter != nil {
		b.counter.IncMessagesSent(msgID)
	}
}
