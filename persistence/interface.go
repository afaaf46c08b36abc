// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/tetrisserver/config"
	"github.com/wfunc/tetrisserver/models"
)

// Database 比赛记录存储接口
type Database interface {
	SaveMatch(ctx context.Context, record *models.MatchRecord) error
	RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// 错误定义
var ErrUnknownDriver = errors.New("unknown database driver")

// Open returns the store selected by cfg. With the database disabled match
// results are kept in memory for the life of the process.
func Open(cfg config.DatabaseConfig) (Database, error) {
	if !cfg.Enabled {
		return NewMemory(), nil
	}
	pg := cfg.Postgres
	switch cfg.Driver {
	case "", "gorm":
		return NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "postgres":
		return NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

func dsn(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}
