package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/room"
	"github.com/wfunc/tetrisserver/session"
)

const maxNameLength = 24

var (
	ErrNameRequired = errors.New("name is required")
	ErrNameTooLong  = fmt.Errorf("name is longer than %d characters", maxNameLength)
)

type registerRequest struct {
	Name string `json:"name"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type readyRequest struct {
	IsReady bool `json:"isReady"`
}

type playerRegistered struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type playerLeft struct {
	PlayerID string `json:"playerId"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	sess.Touch(s.clock.Now())
	s.monitor.IncMessagesReceived(packet.MsgID)
	defer func() {
		s.monitor.ObserveMessageLatency(time.Since(start))
	}()

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		return
	case network.MsgTypeRegister:
		s.handleRegister(sess, packet)
		return
	case network.MsgTypeRoomList:
		s.handleRoomList(sess)
		return
	}

	if !sess.Registered() {
		logger.Log.Debugf("Session %s sent %s before registering", sess.ID, network.MsgName(packet.MsgID))
		return
	}

	switch packet.MsgID {
	case network.MsgTypeCreateRoom:
		s.handleCreateRoom(sess, packet)
	case network.MsgTypeJoinRoom:
		s.handleJoinRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.leaveRoom(sess)
	case network.MsgTypePlayerReady:
		s.handleReady(sess, packet)
	case network.MsgTypeGameStart:
		s.handleGameStart(sess)
	case network.MsgTypeGameAction:
		s.handleGameAction(sess, packet)
	case network.MsgTypeGameOver:
		s.handleGameOver(sess)
	case network.MsgTypeGridUpdate:
		s.relay(sess, network.MsgTypeOpponentGrid, packet.Data)
	case network.MsgTypePieceMove:
		s.relay(sess, network.MsgTypeOpponentPiece, packet.Data)
	case network.MsgTypeAttack:
		s.relay(sess, network.MsgTypeAttackRelay, packet.Data)
	default:
		logger.Log.Debugf("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) handleRegister(sess *session.Session, packet *network.Packet) {
	var req registerRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		logger.Log.Debugf("Session %s: bad register payload: %v", sess.ID, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		s.sendError(sess, ErrNameRequired)
		return
	case utf8.RuneCountInString(name) > maxNameLength:
		s.sendError(sess, ErrNameTooLong)
		return
	}

	sess.Register(name)
	logger.Log.Infof("Player registered: %s (%s)", name, sess.ID)
	s.send(sess, network.MsgTypePlayerRegistered, playerRegistered{ID: sess.ID, Name: name})

	if r, ok := s.roomManager.RoomOf(sess.ID); ok {
		s.sendToRoom(r.ID, network.MsgTypePlayersUpdated, r.Players())
		s.broadcastRoomList()
	}
}

func (s *GameServer) handleRoomList(sess *session.Session) {
	s.send(sess, network.MsgTypeRoomListResult, s.roomManager.List())
}

func (s *GameServer) handleCreateRoom(sess *session.Session, packet *network.Packet) {
	var req createRoomRequest
	if len(packet.Data) > 0 {
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			logger.Log.Debugf("Session %s: bad room.create payload: %v", sess.ID, err)
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = sess.GetName() + "'s room"
	}

	// 创建新房间前先离开当前房间
	s.leaveRoom(sess)

	r, err := s.roomManager.CreateRoom(name, sess)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	s.monitor.SetActiveRooms(s.roomManager.Count())
	s.send(sess, network.MsgTypeRoomJoined, r.Info())
	s.broadcastRoomList()
}

func (s *GameServer) handleJoinRoom(sess *session.Session, packet *network.Packet) {
	var req joinRoomRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		logger.Log.Debugf("Session %s: bad room.join payload: %v", sess.ID, err)
		return
	}

	res, err := s.roomManager.Move(req.RoomID, sess)
	if err != nil {
		s.sendError(sess, err)
		return
	}
	if res.Left != nil {
		sess.SetReady(false)
		s.notifyLeft(sess, *res.Left)
	}
	r := res.Room
	s.send(sess, network.MsgTypeRoomJoined, r.Info())
	s.sendToRoom(r.ID, network.MsgTypePlayersUpdated, r.Players())
	s.broadcastRoomList()
}

// leaveRoom removes sess from its room, if any, and notifies the rest.
func (s *GameServer) leaveRoom(sess *session.Session) {
	res, ok := s.roomManager.Leave(sess.ID)
	if !ok {
		return
	}
	sess.SetReady(false)
	s.notifyLeft(sess, res)
	s.broadcastRoomList()
}

// notifyLeft tells the remaining members of the room sess left.
func (s *GameServer) notifyLeft(sess *session.Session, res room.LeaveResult) {
	if !res.Empty {
		s.sendToRoom(res.Room.ID, network.MsgTypePlayersUpdated, res.Room.Players())
		s.sendToRoom(res.Room.ID, network.MsgTypePlayerLeft, playerLeft{PlayerID: sess.ID})
	}
	s.monitor.SetActiveRooms(s.roomManager.Count())
}

func (s *GameServer) handleReady(sess *session.Session, packet *network.Packet) {
	var req readyRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		logger.Log.Debugf("Session %s: bad player.ready payload: %v", sess.ID, err)
		return
	}
	sess.SetReady(req.IsReady)

	if r, ok := s.roomManager.RoomOf(sess.ID); ok {
		s.sendToRoom(r.ID, network.MsgTypePlayersUpdated, r.Players())
	}
}

func (s *GameServer) handleGameStart(sess *session.Session) {
	r, ok := s.roomManager.RoomOf(sess.ID)
	if !ok {
		return
	}
	if !r.IsHost(sess.ID) {
		s.sendError(sess, room.ErrNotHost)
		return
	}

	if err := r.StartMatch(rand.Uint64()); err != nil {
		if errors.Is(err, room.ErrMatchInProgress) {
			logger.Log.Debugf("Room %s: start ignored, match in progress", r.ID)
			return
		}
		s.sendError(sess, err)
		return
	}
	logger.Log.Infof("Game starting in room %s (%s) with %d players", r.ID, r.Name, r.PlayerCount())
	s.broadcastRoomList()
}

func (s *GameServer) handleGameAction(sess *session.Session, packet *network.Packet) {
	r, ok := s.roomManager.RoomOf(sess.ID)
	if !ok {
		logger.Log.Debugf("Session %s sent game action but is not in a room", sess.ID)
		return
	}
	if !s.limiter.Allow(context.Background(), sess.ID) {
		s.monitor.IncRateLimited()
		return
	}
	if err := r.CurrentState().HandleAction(sess, packet.Data); err != nil {
		logger.Log.Debugf("Error handling action in room %s: %v", r.ID, err)
	}
}

// handleGameOver treats a self-reported game over as a forfeit.
func (s *GameServer) handleGameOver(sess *session.Session) {
	r, ok := s.roomManager.RoomOf(sess.ID)
	if !ok {
		return
	}
	r.CurrentState().Forfeit(sess.ID)
}

// relay forwards a cosmetic payload to the other members of the sender's
// room, tagged with the sender's ID. The payload is not validated.
func (s *GameServer) relay(sess *session.Session, msgID uint16, data []byte) {
	r, ok := s.roomManager.RoomOf(sess.ID)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		logger.Log.Debugf("Session %s: bad %s payload: %v", sess.ID, network.MsgName(msgID), err)
		return
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	id, _ := json.Marshal(sess.ID)
	fields["playerId"] = id

	out, err := json.Marshal(fields)
	if err != nil {
		return
	}
	s.broadcaster.BroadcastToRoomExcept(r.ID, sess.ID, msgID, out)
}

func (s *GameServer) send(sess *session.Session, msgID uint16, v any) {
	if err := sess.SendJSON(msgID, v); err != nil {
		logger.Log.Debugf("send %s to session %s: %v", network.MsgName(msgID), sess.ID, err)
		return
	}
	s.monitor.IncMessagesSent(msgID)
}

func (s *GameServer) sendError(sess *session.Session, err error) {
	s.send(sess, network.MsgTypeError, errorMessage{Message: err.Error()})
}

func (s *GameServer) sendToRoom(roomID string, msgID uint16, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("marshal %s: %v", network.MsgName(msgID), err)
		return
	}
	s.broadcaster.BroadcastToRoom(roomID, msgID, data)
}

func (s *GameServer) broadcastRoomList() {
	data, err := json.Marshal(s.roomManager.List())
	if err != nil {
		logger.Log.Errorf("marshal room list: %v", err)
		return
	}
	s.broadcaster.BroadcastToAll(network.MsgTypeRoomListResult, data)
}
