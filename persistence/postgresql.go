// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/tetrisserver/models"
)

// PostgreSQL 数据库实现 (database/sql + lib/pq)
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn(host, port, user, password, dbname))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables creates the same tables the gorm store migrates.
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS match_records (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            room_id TEXT NOT NULL,
            room_name TEXT NOT NULL,
            winner_id TEXT,
            winner_name TEXT,
            started_at TIMESTAMPTZ,
            duration_ms BIGINT DEFAULT 0
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS player_results (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            deleted_at TIMESTAMPTZ,
            match_id BIGINT NOT NULL,
            player_id TEXT NOT NULL,
            name TEXT NOT NULL,
            score BIGINT DEFAULT 0,
            lines BIGINT DEFAULT 0,
            level BIGINT DEFAULT 1,
            outcome TEXT NOT NULL,
            won BOOLEAN DEFAULT false
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_match_records_room_id ON match_records(room_id);
        CREATE INDEX IF NOT EXISTS idx_player_results_match_id ON player_results(match_id);
        CREATE INDEX IF NOT EXISTS idx_player_results_name ON player_results(name);
    `)
	return err
}

// SaveMatch 保存比赛记录
func (p *PostgreSQL) SaveMatch(ctx context.Context, record *models.MatchRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
        INSERT INTO match_records (room_id, room_name, winner_id, winner_name, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`,
		record.RoomID, record.RoomName, record.WinnerID, record.WinnerName, record.StartedAt, record.DurationMs,
	).Scan(&id, &createdAt)
	if err != nil {
		return err
	}

	for _, pl := range record.Players {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO player_results (match_id, player_id, name, score, lines, level, outcome, won)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, pl.PlayerID, pl.Name, pl.Score, pl.Lines, pl.Level, pl.Outcome, pl.Won(),
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	record.ID = uint(id)
	record.CreatedAt = createdAt
	return nil
}

func (p *PostgreSQL) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT id, room_id, room_name, COALESCE(winner_id, ''), COALESCE(winner_name, ''),
               started_at, duration_ms, created_at
        FROM match_records
        WHERE deleted_at IS NULL
        ORDER BY created_at DESC, id DESC
        LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MatchRecord
	for rows.Next() {
		var r models.MatchRecord
		var id int64
		if err := rows.Scan(&id, &r.RoomID, &r.RoomName, &r.WinnerID, &r.WinnerName,
			&r.StartedAt, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ID = uint(id)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		players, err := p.players(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Players = players
	}
	return out, nil
}

func (p *PostgreSQL) players(ctx context.Context, matchID uint) ([]models.PlayerStanding, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT player_id, name, score, lines, level, outcome
        FROM player_results
        WHERE match_id = $1 AND deleted_at IS NULL
        ORDER BY id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlayerStanding
	for rows.Next() {
		var s models.PlayerStanding
		if err := rows.Scan(&s.PlayerID, &s.Name, &s.Score, &s.Lines, &s.Level, &s.Outcome); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgreSQL) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT name,
               SUM(CASE WHEN won THEN 1 ELSE 0 END) AS wins,
               COUNT(*) AS matches,
               MAX(score) AS best_score,
               SUM(lines) AS total_lines
        FROM player_results
        WHERE deleted_at IS NULL
        GROUP BY name
        ORDER BY wins DESC, best_score DESC, name ASC
        LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Wins, &e.Matches, &e.BestScore, &e.TotalLines); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgreSQL) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
