// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/tetrisserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn(host, port, user, password, dbname)), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormMatchRecord{},
		&models.GormPlayerResult{},
	)
}

// SaveMatch stores the match and one row per player in a transaction.
func (p *GormPostgreSQL) SaveMatch(ctx context.Context, record *models.MatchRecord) error {
	row := models.NewGormMatchRecord(record)
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if err != nil {
		return err
	}
	record.ID = row.ID
	record.CreatedAt = row.CreatedAt
	return nil
}

func (p *GormPostgreSQL) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	var rows []models.GormMatchRecord
	err := p.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.MatchRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Record())
	}
	return out, nil
}

func (p *GormPostgreSQL) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := p.db.WithContext(ctx).
		Model(&models.GormPlayerResult{}).
		Select(`name,
            SUM(CASE WHEN won THEN 1 ELSE 0 END) AS wins,
            COUNT(*) AS matches,
            MAX(score) AS best_score,
            SUM(lines) AS total_lines`).
		Group("name").
		Order("wins DESC, best_score DESC, name ASC").
		Limit(limit).
		Scan(&entries).Error
	return entries, err
}

func (p *GormPostgreSQL) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn in a transaction bound to ctx.
func (p *GormPostgreSQL) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return p.db.WithContext(ctx).Transaction(fn)
}
