package state

import "github.com/wfunc/tetrisserver/logger"

// FinishedState holds the result of the last match until the host starts a rematch.
type FinishedState struct {
	RoomStateBase
	result MatchResult
}

func NewFinishedState(room RoomContext, result MatchResult) *FinishedState {
	return &FinishedState{
		RoomStateBase: RoomStateBase{
			ID:   IDFinished,
			Room: room,
		},
		result: result,
	}
}

func (s *FinishedState) OnEnter() {
	logger.Log.Infof("房间 %s 游戏结束, winner=%q", s.Room.GetID(), s.result.WinnerID)
}

// Result returns the outcome of the match that ended.
func (s *FinishedState) Result() MatchResult {
	return s.result
}
