package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/models"
	"github.com/wfunc/tetrisserver/room"
	"github.com/wfunc/tetrisserver/services"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
	stopOnce sync.Once
}

// NewServer creates a new RPC server with its own service registry.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Register exposes rcvr's exported methods under its type name.
func (s *Server) Register(rcvr any) error {
	return s.rpc.Register(rcvr)
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	})
}

// GameService is the struct that exposes RPC methods.
type GameService struct {
	rooms *room.Manager
	stats *services.StatsService
}

// NewGameService creates a new GameService.
func NewGameService(rooms *room.Manager, stats *services.StatsService) *GameService {
	return &GameService{rooms: rooms, stats: stats}
}

type ListRoomsArgs struct {
	// Status filters by room status when set ("waiting", "playing", "finished").
	Status string
}

type ListRoomsReply struct {
	Rooms []room.Summary
}

// ListRooms returns the open rooms, oldest first.
func (gs *GameService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	for _, sum := range gs.rooms.List() {
		if args.Status == "" || sum.Status == args.Status {
			reply.Rooms = append(reply.Rooms, sum)
		}
	}
	return nil
}

type LeaderboardArgs struct {
	Limit int
}

type LeaderboardReply struct {
	Entries []models.LeaderboardEntry
}

// Leaderboard 查询排行榜
func (gs *GameService) Leaderboard(args *LeaderboardArgs, reply *LeaderboardReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	entries, err := gs.stats.Leaderboard(ctx, args.Limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}
