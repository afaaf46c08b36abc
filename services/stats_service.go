// services/stats_service.go
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/logger"
	"github.com/wfunc/tetrisserver/models"
	"github.com/wfunc/tetrisserver/persistence"
	"github.com/wfunc/tetrisserver/state"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	saveTimeout = 5 * time.Second
)

var ErrServiceClosed = errors.New("stats service closed")

// StatsService records finished matches and answers leaderboard queries.
type StatsService struct {
	db persistence.Database

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewStatsService(db persistence.Database) *StatsService {
	return &StatsService{db: db}
}

// NewMatchRecord converts a match result into its persisted form.
func NewMatchRecord(res state.MatchResult) *models.MatchRecord {
	r := &models.MatchRecord{
		RoomID:     res.RoomID,
		RoomName:   res.RoomName,
		WinnerID:   res.WinnerID,
		WinnerName: res.WinnerName,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
		Players:    make([]models.PlayerStanding, 0, len(res.Standings)),
	}
	for _, s := range res.Standings {
		r.Players = append(r.Players, models.PlayerStanding{
			PlayerID: s.PlayerID,
			Name:     s.Name,
			Score:    s.Score,
			Lines:    s.Lines,
			Level:    s.Level,
			Outcome:  s.Outcome,
		})
	}
	return r
}

// RecordMatch 保存比赛结果
func (s *StatsService) RecordMatch(ctx context.Context, res state.MatchResult) (*models.MatchRecord, error) {
	record := NewMatchRecord(res)
	if err := s.db.SaveMatch(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordMatchAsync saves the result in the background. Close waits for
// pending saves.
func (s *StatsService) RecordMatchAsync(res state.MatchResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logger.Log.Warnf("Dropping result of room %s: %v", res.RoomID, ErrServiceClosed)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		record, err := s.RecordMatch(ctx, res)
		if err != nil {
			logger.Log.Errorf("Failed to save result of room %s: %v", res.RoomID, err)
			return
		}
		logger.Log.Infof("Saved match %d of room %s (winner %q)", record.ID, record.RoomID, record.WinnerName)
	}()
}

// Leaderboard 获取排行榜
func (s *StatsService) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	entries, err := s.db.Leaderboard(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return entries, nil
}

// RecentMatches returns the latest matches, newest first.
func (s *StatsService) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	matches, err := s.db.RecentMatches(ctx, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []models.MatchRecord{}
	}
	return matches, nil
}

// Close stops accepting results and waits for in-flight saves.
func (s *StatsService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
