package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/tetrisserver/models"
)

// Memory keeps match records in process memory.
type Memory struct {
	mu      sync.RWMutex
	records []models.MatchRecord
	nextID  uint
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) SaveMatch(_ context.Context, record *models.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	record.CreatedAt = time.Now()
	m.nextID++

	stored := *record
	stored.Players = append([]models.PlayerStanding(nil), record.Players...)
	m.records = append(m.records, stored)
	return nil
}

func (m *Memory) RecentMatches(_ context.Context, limit int) ([]models.MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.MatchRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	byName := make(map[string]*models.LeaderboardEntry)
	for _, r := range m.records {
		for _, p := range r.Players {
			e, ok := byName[p.Name]
			if !ok {
				e = &models.LeaderboardEntry{Name: p.Name, BestScore: p.Score}
				byName[p.Name] = e
			}
			e.Matches++
			e.TotalLines += p.Lines
			if p.Won() {
				e.Wins++
			}
			if p.Score > e.BestScore {
				e.BestScore = p.Score
			}
		}
	}
	m.mu.RUnlock()

	out := make([]models.LeaderboardEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		return a.Name < b.Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
