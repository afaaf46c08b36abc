package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wfunc/tetrisserver/logger"
)

const readyTimeout = 2 * time.Second

func (s *GameServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(s.cfg.Server.AllowedOrigins)))

	r.GET("/ws", func(ctx *gin.Context) {
		s.handleWebSocket(ctx.Writer, ctx.Request)
	})

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", s.handleReadiness)

	r.GET("/metrics", gin.WrapH(s.monitor.MetricsHandler()))
	r.GET("/debug/vars", gin.WrapH(s.monitor.VarsHandler()))

	api := r.Group("/api")
	{
		api.GET("/rooms", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.roomManager.List())
		})
		api.GET("/leaderboard", s.handleLeaderboard)
		api.GET("/matches", s.handleRecentMatches)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || originAllowed(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	return cfg
}

func (s *GameServer) handleReadiness(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx.Request.Context(), readyTimeout)
	defer cancel()

	if err := s.db.Ping(c); err != nil {
		logger.Log.Warnf("readiness check failed: %v", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *GameServer) handleLeaderboard(ctx *gin.Context) {
	entries, err := s.stats.Leaderboard(ctx.Request.Context(), queryLimit(ctx))
	if err != nil {
		logger.Log.Errorf("leaderboard: %v", err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "leaderboard unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, entries)
}

func (s *GameServer) handleRecentMatches(ctx *gin.Context) {
	matches, err := s.stats.RecentMatches(ctx.Request.Context(), queryLimit(ctx))
	if err != nil {
		logger.Log.Errorf("recent matches: %v", err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "matches unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, matches)
}

// queryLimit reads ?limit=; anything unparsable means the service default.
func queryLimit(ctx *gin.Context) int {
	n, err := strconv.Atoi(ctx.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}
