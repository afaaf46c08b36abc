// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormMatchRecord 比赛记录表
type GormMatchRecord struct {
	gorm.Model
	RoomID     string             `gorm:"index;not null"`
	RoomName   string             `gorm:"not null"`
	WinnerID   string             `gorm:"index"`
	WinnerName string
	StartedAt  time.Time
	DurationMs int64              `gorm:"default:0"`
	Results    []GormPlayerResult `gorm:"foreignKey:MatchID"`
}

func (GormMatchRecord) TableName() string { return "match_records" }

// GormPlayerResult 每个玩家一行, 用于排行榜聚合
type GormPlayerResult struct {
	gorm.Model
	MatchID  uint   `gorm:"index;not null"`
	PlayerID string `gorm:"not null"`
	Name     string `gorm:"index;not null"`
	Score    int    `gorm:"default:0"`
	Lines    int    `gorm:"default:0"`
	Level    int    `gorm:"default:1"`
	Outcome  string `gorm:"not null"`
	Won      bool   `gorm:"default:false"`
}

func (GormPlayerResult) TableName() string { return "player_results" }

// NewGormMatchRecord converts a record for insertion.
func NewGormMatchRecord(r *MatchRecord) *GormMatchRecord {
	g := &GormMatchRecord{
		RoomID:     r.RoomID,
		RoomName:   r.RoomName,
		WinnerID:   r.WinnerID,
		WinnerName: r.WinnerName,
		StartedAt:  r.StartedAt,
		DurationMs: r.DurationMs,
	}
	for _, p := range r.Players {
		g.Results = append(g.Results, GormPlayerResult{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Score:    p.Score,
			Lines:    p.Lines,
			Level:    p.Level,
			Outcome:  p.Outcome,
			Won:      p.Won(),
		})
	}
	return g
}

// Record converts back to the API model.
func (g *GormMatchRecord) Record() MatchRecord {
	r := MatchRecord{
		ID:         g.ID,
		RoomID:     g.RoomID,
		RoomName:   g.RoomName,
		WinnerID:   g.WinnerID,
		WinnerName: g.WinnerName,
		StartedAt:  g.StartedAt,
		DurationMs: g.DurationMs,
		CreatedAt:  g.CreatedAt,
	}
	for _, p := range g.Results {
		r.Players = append(r.Players, PlayerStanding{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Score:    p.Score,
			Lines:    p.Lines,
			Level:    p.Level,
			Outcome:  p.Outcome,
		})
	}
	return r
}
