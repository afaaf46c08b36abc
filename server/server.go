package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wfunc/tetrisserver/broadcast"
	"github.com/wfunc/tetrisserver/config"
	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/monitor"
	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/persistence"
	"github.com/wfunc/tetrisserver/ratelimit"
	"github.com/wfunc/tetrisserver/room"
	tetris_rpc "github.com/wfunc/tetrisserver/rpc"
	"github.com/wfunc/tetrisserver/services"
	"github.com/wfunc/tetrisserver/session"
	"github.com/wfunc/tetrisserver/state"
	"github.com/wfunc/tetrisserver/timer"
)

var ErrServerClosed = errors.New("server closed")

type GameServer struct {
	cfg            *config.Config
	upgrader       websocket.Upgrader
	handler        http.Handler
	roomManager    *room.Manager
	sessionManager *session.Manager
	broadcaster    broadcast.Broadcaster
	stats          *services.StatsService
	db             persistence.Database
	monitor        *monitor.Monitor
	limiter        ratelimit.Limiter
	clock          timer.Clock
	timers         *timer.TimerManager
	rpcServer      *tetris_rpc.Server
	httpServer     *http.Server

	mutex        sync.Mutex
	closing      bool
	conns        sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewGameServer wires rooms, sessions, broadcasting, stats and the admin
// RPC service. The RPC listener is bound here when an address is configured.
// Nil collaborators get in-process defaults.
func NewGameServer(cfg *config.Config, db persistence.Database, mon *monitor.Monitor, limiter ratelimit.Limiter) (*GameServer, error) {
	if db == nil {
		db = persistence.NewMemory()
	}
	if mon == nil {
		reg := prometheus.NewRegistry()
		mon = monitor.NewMonitor(cfg.Metrics.Namespace, reg, reg)
	}
	if limiter == nil {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	s := &GameServer{
		cfg:            cfg,
		sessionManager: session.NewManager(),
		stats:          services.NewStatsService(db),
		db:             db,
		monitor:        mon,
		limiter:        limiter,
		clock:          timer.SystemClock{},
		shutdownChan:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	s.roomManager = room.NewRoomManager(room.Options{
		MaxPlayers:   cfg.Game.MaxPlayers,
		TickInterval: cfg.Game.TickInterval(),
		Preview:      cfg.Game.Preview,
		Clock:        s.clock,
		Observer:     mon,
		OnMatchEnd:   s.onMatchEnd,
	})

	// 初始化广播器
	b := broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager, mon)
	s.broadcaster = b
	s.roomManager.SetBroadcaster(b)

	if cfg.Server.RPCAddress != "" {
		rpcServer, err := tetris_rpc.NewServer(cfg.Server.RPCAddress)
		if err != nil {
			return nil, err
		}
		if err := rpcServer.Register(tetris_rpc.NewGameService(s.roomManager, s.stats)); err != nil {
			rpcServer.Stop()
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	s.handler = s.routes()
	return s, nil
}

// Handler serves the websocket endpoint and the HTTP API.
func (s *GameServer) Handler() http.Handler {
	return s.handler
}

// Start runs the RPC listener and idle sweep, then serves HTTP until
// Shutdown.
func (s *GameServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}

	s.mutex.Lock()
	if s.closing {
		s.mutex.Unlock()
		return ErrServerClosed
	}
	s.startSweep()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.HTTPAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mutex.Unlock()

	logger.Log.Infof("Game server listening on %s", s.cfg.Server.HTTPAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) startSweep() {
	timeout := s.cfg.Server.HeartbeatTimeout
	interval := s.cfg.Server.SweepInterval
	if timeout <= 0 || interval <= 0 {
		return
	}
	s.timers = timer.NewTimerManager(s.clock, time.Second)
	s.timers.AddTimer(interval, interval, s.sweepIdle)
}

// sweepIdle closes sessions silent for longer than the heartbeat timeout.
// Their read loops then tear them down.
func (s *GameServer) sweepIdle() {
	for _, sess := range s.sessionManager.Idle(s.clock.Now(), s.cfg.Server.HeartbeatTimeout) {
		logger.Log.Infof("Closing idle session %s", sess.ID)
		sess.Close()
	}
}

// Shutdown stops accepting connections, closes every session, waits for
// their teardown and for pending match results to be saved.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mutex.Lock()
		s.closing = true
		srv := s.httpServer
		s.mutex.Unlock()
		close(s.shutdownChan)

		if srv != nil {
			err = srv.Shutdown(ctx)
		}
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}
		if s.timers != nil {
			s.timers.Stop()
		}

		for _, sess := range s.sessionManager.All() {
			sess.Close()
		}
		s.conns.Wait()

		s.roomManager.CloseAll()
		s.stats.Close()
		if c, ok := s.limiter.(io.Closer); ok {
			c.Close()
		}
		logger.Log.Info("Game server stopped.")
	})
	return err
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn))
}

// handleConnection owns the session for the lifetime of conn. Whatever ends
// the read loop, the deferred teardown leaves the room and drops the session.
func (s *GameServer) handleConnection(conn network.Connection) {
	s.mutex.Lock()
	if s.closing {
		s.mutex.Unlock()
		conn.Close()
		return
	}
	s.conns.Add(1)
	s.mutex.Unlock()
	defer s.conns.Done()

	if timeout := s.cfg.Server.HeartbeatTimeout; timeout > 0 {
		conn.SetHeartbeat(2 * timeout)
	}
	sess := session.NewSession(uuid.NewString(), conn)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())
		s.teardown(sess)
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) teardown(sess *session.Session) {
	s.leaveRoom(sess)
	s.limiter.Forget(sess.ID)
	s.sessionManager.Remove(sess.ID)
	sess.Close()
	s.monitor.DecOnlinePlayers()
}

// onMatchEnd runs on whichever goroutine ended the match.
func (s *GameServer) onMatchEnd(r *room.Room, result state.MatchResult) {
	logger.Log.Infof("Match in room %s finished, winner %q", r.ID, result.WinnerName)
	s.stats.RecordMatchAsync(result)
	s.broadcastRoomList()
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originAllowed(s.cfg.Server.AllowedOrigins, origin)
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
