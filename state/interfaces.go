// state/interfaces.go
package state

import "time"

// Player defines the minimal interface for a player entity that a state needs to interact with.
type Player interface {
	GetID() string
	GetName() string
}

// RoomContext defines the interface that a Room must implement to be managed by the state machine.
// This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	GetName() string
	// GetPlayers returns the members in join order.
	GetPlayers() []Player
	ChangeState(newState State) error
	Broadcast(msgID uint16, data []byte) error
}

// Observer receives match events. Metrics implement it.
type Observer interface {
	MatchStarted(roomID string, players int)
	TickProcessed(d time.Duration)
	LinesCleared(lines int)
	PenaltySent(lines int)
	PlayerEliminated()
	MatchFinished(result MatchResult)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) MatchStarted(string, int)    {}
func (NopObserver) TickProcessed(time.Duration) {}
func (NopObserver) LinesCleared(int)            {}
func (NopObserver) PenaltySent(int)             {}
func (NopObserver) PlayerEliminated()           {}
func (NopObserver) MatchFinished(MatchResult)   {}
