package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wfunc/tetrisserver/config"
	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/monitor"
	"github.com/wfunc/tetrisserver/persistence"
	"github.com/wfunc/tetrisserver/ratelimit"
	"github.com/wfunc/tetrisserver/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := pflag.String("config", ".", "directory containing config.yaml")
	pflag.Parse()

	// 配置加载前先用默认日志
	_ = logger.Init("info", false)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		logger.Log.Fatalf("Failed to initialise logger: %v", err)
	}
	defer logger.Sync()

	mon := monitor.NewDefaultMonitor(cfg.Metrics.Namespace)

	// Initialize Database
	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if cfg.Database.Enabled {
		logger.Log.Infof("Database connection successful (%s).", cfg.Database.Driver)
	} else {
		logger.Log.Info("Database disabled, match results kept in memory.")
	}

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg, db, mon, ratelimit.New(cfg.RateLimit))
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)

	select {
	case sig := <-sigCh:
		logger.Log.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Log.Errorf("Server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gameServer.Shutdown(ctx); err != nil {
		logger.Log.Errorf("Shutdown: %v", err)
	}
}
