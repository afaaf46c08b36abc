package network

// Inbound message IDs (client -> server).
const (
	MsgTypeHeartbeat   = 1
	MsgTypeRegister    = 10
	MsgTypeRoomList    = 100
	MsgTypeJoinRoom    = 101
	MsgTypeLeaveRoom   = 102
	MsgTypeCreateRoom  = 103
	MsgTypePlayerReady = 104
	MsgTypeGameStart   = 200
	MsgTypeGameAction  = 201
	MsgTypeGameOver    = 202
	MsgTypeGridUpdate  = 203
	MsgTypePieceMove   = 204
	MsgTypeAttack      = 205
)

// Outbound message IDs (server -> client).
const (
	MsgTypePlayerRegistered = 11
	MsgTypeRoomListResult   = 110
	MsgTypeRoomJoined       = 111
	MsgTypePlayersUpdated   = 112
	MsgTypePlayerLeft       = 113
	MsgTypeGameStarted      = 303
	MsgTypeGameStateUpdate  = 304
	MsgTypeGameEnd          = 305
	MsgTypeOpponentGrid     = 306
	MsgTypeOpponentPiece    = 307
	MsgTypeAttackRelay      = 308
	MsgTypeError            = 500
)

var msgNames = map[uint16]string{
	MsgTypeHeartbeat:        "heartbeat",
	MsgTypeRegister:         "register",
	MsgTypeRoomList:         "room.list",
	MsgTypeJoinRoom:         "room.join",
	MsgTypeLeaveRoom:        "room.leave",
	MsgTypeCreateRoom:       "room.create",
	MsgTypePlayerReady:      "player.ready",
	MsgTypeGameStart:        "game.start",
	MsgTypeGameAction:       "game.action",
	MsgTypeGameOver:         "game.over",
	MsgTypeGridUpdate:       "game.gridUpdate",
	MsgTypePieceMove:        "game.pieceMove",
	MsgTypeAttack:           "game.attack",
	MsgTypePlayerRegistered: "player.registered",
	MsgTypeRoomListResult:   "room.list",
	MsgTypeRoomJoined:       "room.joined",
	MsgTypePlayersUpdated:   "room.playersUpdated",
	MsgTypePlayerLeft:       "room.playerLeft",
	MsgTypeGameStarted:      "game.start",
	MsgTypeGameStateUpdate:  "game.stateUpdate",
	MsgTypeGameEnd:          "game.over",
	MsgTypeOpponentGrid:     "game.opponentGrid",
	MsgTypeOpponentPiece:    "game.opponentPiece",
	MsgTypeAttackRelay:      "game.attack",
	MsgTypeError:            "error",
}

// MsgName returns the event name of a message ID, used as a metrics label.
func MsgName(msgID uint16) string {
	if name, ok := msgNames[msgID]; ok {
		return name
	}
	return "unknown"
}
