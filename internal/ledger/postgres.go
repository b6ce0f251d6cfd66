package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/transcript"
)

// postgresSchema is applied when the service is opened with migrate=true.
// Otherwise the tables must already exist.
var postgresSchema = []string{
	`
CREATE TABLE IF NOT EXISTS game_records (
    id BIGSERIAL PRIMARY KEY,
    game_id TEXT NOT NULL,
    seq BIGINT NOT NULL,
    round INTEGER NOT NULL DEFAULT 0,
    phase TEXT NOT NULL,
    kind TEXT NOT NULL,
    participant TEXT NOT NULL DEFAULT '',
    envelope_b64 TEXT NOT NULL DEFAULT '',
    ts_ms BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (game_id, seq)
)`,
	`
CREATE TABLE IF NOT EXISTS game_summaries (
    game_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    winner TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    rounds INTEGER NOT NULL DEFAULT 0,
    liberal INTEGER NOT NULL DEFAULT 0,
    fascist INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ,
    summary_json JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_game_summaries_recent ON game_summaries(started_at DESC)`,
}

type PostgresService struct {
	db          *sql.DB
	recentLimit int
}

func NewPostgresService(dsn string, migrate bool) (*PostgresService, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.LedgerOpen)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if migrate {
		for _, stmt := range postgresSchema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
	}

	var schemaReady bool
	if err := db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.tables
    WHERE table_schema = 'public'
      AND table_name = 'game_records'
)`).Scan(&schemaReady); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !schemaReady {
		_ = db.Close()
		return nil, fmt.Errorf("ledger schema not initialized: missing table game_records (set SH_LEDGER_MIGRATE=true)")
	}

	return &PostgresService{
		db:          db,
		recentLimit: envIntOrDefault("SH_LEDGER_RECENT_LIMIT", defaultRecentLimit),
	}, nil
}

func (s *PostgresService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresService) AppendRecord(rec transcript.Record) {
	if strings.TrimSpace(rec.GameID) == "" {
		return
	}
	item, err := newRecordItem(rec)
	if err != nil {
		log.Printf("[Ledger] encode record failed: game=%s seq=%d err=%v", rec.GameID, rec.Seq, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.LedgerWrite)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO game_records (
    game_id, seq, round, phase, kind, participant, envelope_b64, ts_ms
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (game_id, seq) DO NOTHING
`, rec.GameID, int64(item.Seq), item.Round, item.Phase, item.Kind, item.Participant, item.EnvelopeB64, item.TimeMs)
	if err != nil {
		log.Printf("[Ledger] append record failed: game=%s seq=%d err=%v", rec.GameID, rec.Seq, err)
	}
}

func (s *PostgresService) UpsertGame(ctx context.Context, g GameSummary) error {
	if strings.TrimSpace(g.GameID) == "" {
		return ErrNotFound
	}
	if g.Details == nil {
		g.Details = map[string]any{}
	}
	details, err := json.Marshal(g.Details)
	if err != nil {
		return err
	}
	if g.StartedAt.IsZero() {
		g.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO game_summaries (
    game_id, status, winner, reason, rounds, liberal, fascist, error,
    started_at, ended_at, summary_json
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)
ON CONFLICT (game_id) DO UPDATE
SET
    status = EXCLUDED.status,
    winner = EXCLUDED.winner,
    reason = EXCLUDED.reason,
    rounds = EXCLUDED.rounds,
    liberal = EXCLUDED.liberal,
    fascist = EXCLUDED.fascist,
    error = EXCLUDED.error,
    ended_at = EXCLUDED.ended_at,
    summary_json = EXCLUDED.summary_json,
    updated_at = NOW()
`, g.GameID, string(g.Status), g.Winner, g.Reason, g.Rounds, g.Liberal, g.Fascist, g.Error,
		g.StartedAt, nullableTime(g.EndedAt), string(details)); err != nil {
		return err
	}

	if s.recentLimit > 0 {
		if _, err := tx.ExecContext(ctx, `
WITH expired AS (
    SELECT game_id FROM game_summaries
    WHERE status <> 'running'
    ORDER BY started_at DESC, game_id DESC
    OFFSET $1
), dropped AS (
    DELETE FROM game_records WHERE game_id IN (SELECT game_id FROM expired)
)
DELETE FROM game_summaries WHERE game_id IN (SELECT game_id FROM expired)
`, s.recentLimit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresService) ListRecent(ctx context.Context, limit int) ([]GameSummary, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, status, winner, reason, rounds, liberal, fascist, error,
       started_at, ended_at, summary_json, updated_at
FROM game_summaries
ORDER BY started_at DESC, game_id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]GameSummary, 0, limit)
	for rows.Next() {
		var g GameSummary
		var status string
		var ended sql.NullTime
		var details []byte
		if err := rows.Scan(&g.GameID, &status, &g.Winner, &g.Reason, &g.Rounds, &g.Liberal, &g.Fascist, &g.Error,
			&g.StartedAt, &ended, &details, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Status = Status(status)
		if ended.Valid {
			t := ended.Time
			g.EndedAt = &t
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &g.Details)
		}
		if g.Details == nil {
			g.Details = map[string]any{}
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (s *PostgresService) GetGameRecords(ctx context.Context, gameID string) ([]RecordItem, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, round, phase, kind, participant, envelope_b64, ts_ms
FROM game_records
WHERE game_id = $1
ORDER BY seq ASC
`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]RecordItem, 0, 128)
	for rows.Next() {
		var it RecordItem
		var seq int64
		if err := rows.Scan(&seq, &it.Round, &it.Phase, &it.Kind, &it.Participant, &it.EnvelopeB64, &it.TimeMs); err != nil {
			return nil, err
		}
		it.Seq = uint64(seq)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}
