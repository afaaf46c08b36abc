// models/models.go
package models

import (
	"time"
)

// MatchRecord 一局比赛的结果
type MatchRecord struct {
	ID         uint             `json:"id,omitempty"`
	RoomID     string           `json:"room_id"`
	RoomName   string           `json:"room_name"`
	WinnerID   string           `json:"winner_id,omitempty"`
	WinnerName string           `json:"winner_name,omitempty"`
	Players    []PlayerStanding `json:"players"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMs int64            `json:"duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

// PlayerStanding 玩家在一局比赛中的成绩
type PlayerStanding struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Lines    int    `json:"lines"`
	Level    int    `json:"level"`
	Outcome  string `json:"outcome"` // winner/eliminated/forfeit/left/survived
}

// Won reports whether this standing is the match winner.
func (p PlayerStanding) Won() bool {
	return p.Outcome == OutcomeWinner
}

// OutcomeWinner marks the winning standing.
const OutcomeWinner = "winner"

// LeaderboardEntry aggregates results per player name.
type LeaderboardEntry struct {
	Name       string `json:"name"`
	Wins       int    `json:"wins"`
	Matches    int    `json:"matches"`
	BestScore  int    `json:"best_score"`
	TotalLines int    `json:"total_lines"`
}
