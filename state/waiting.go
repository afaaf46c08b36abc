package state

import "github.com/wfunc/tetrisserver/logger"

// WaitingState is the lobby: members join, leave and toggle ready until the
// host starts a match. Game input is ignored.
type WaitingState struct {
	RoomStateBase
}

// NewWaitingState creates a new waiting state.
func NewWaitingState(room RoomContext) *WaitingState {
	return &WaitingState{
		RoomStateBase: RoomStateBase{
			ID:   IDWaiting,
			Room: room,
		},
	}
}

func (s *WaitingState) OnEnter() {
	logger.Log.Debugf("房间 %s 进入等待状态", s.Room.GetID())
}
