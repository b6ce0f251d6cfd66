package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"secrethitler-lite/internal/timeouts"
	"secrethitler-lite/transcript"
)

const defaultLocalDBName = "secrethitler.db"

type SQLiteService struct {
	db          *sql.DB
	recentLimit int
}

func NewSQLiteServiceFromEnv() (*SQLiteService, error) {
	dbPath, err := localDatabasePathFromEnv()
	if err != nil {
		return nil, err
	}
	return NewSQLiteService(dbPath)
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.LedgerOpen)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteService{
		db:          db,
		recentLimit: envIntOrDefault("SH_LEDGER_RECENT_LIMIT", defaultRecentLimit),
	}, nil
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) AppendRecord(rec transcript.Record) {
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
    game_id, seq, round, phase, kind, participant, envelope_b64, ts_ms, created_at_ms
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (game_id, seq) DO NOTHING
`, rec.GameID, int64(item.Seq), item.Round, item.Phase, item.Kind, item.Participant, item.EnvelopeB64, item.TimeMs, time.Now().UnixMilli())
	if err != nil {
		log.Printf("[Ledger] append record failed: game=%s seq=%d err=%v", rec.GameID, rec.Seq, err)
	}
}

func (s *SQLiteService) UpsertGame(ctx context.Context, g GameSummary) error {
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
	now := time.Now().UTC()
	if g.StartedAt.IsZero() {
		g.StartedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO game_summaries (
    game_id, status, winner, reason, rounds, liberal, fascist, error,
    started_at_ms, ended_at_ms, summary_json, updated_at_ms
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (game_id) DO UPDATE
SET
    status = excluded.status,
    winner = excluded.winner,
    reason = excluded.reason,
    rounds = excluded.rounds,
    liberal = excluded.liberal,
    fascist = excluded.fascist,
    error = excluded.error,
    ended_at_ms = excluded.ended_at_ms,
    summary_json = excluded.summary_json,
    updated_at_ms = excluded.updated_at_ms
`, g.GameID, string(g.Status), g.Winner, g.Reason, g.Rounds, g.Liberal, g.Fascist, g.Error,
		g.StartedAt.UnixMilli(), nullableMillis(g.EndedAt), string(details), now.UnixMilli()); err != nil {
		return err
	}

	if s.recentLimit > 0 {
		// Trim finished games past the retention window, records first.
		if _, err := tx.ExecContext(ctx, `
DELETE FROM game_records
WHERE game_id IN (
    SELECT game_id FROM game_summaries
    WHERE status <> 'running'
    ORDER BY started_at_ms DESC, game_id DESC
    LIMIT -1 OFFSET ?
)`, s.recentLimit); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
DELETE FROM game_summaries
WHERE game_id IN (
    SELECT game_id FROM game_summaries
    WHERE status <> 'running'
    ORDER BY started_at_ms DESC, game_id DESC
    LIMIT -1 OFFSET ?
)`, s.recentLimit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteService) ListRecent(ctx context.Context, limit int) ([]GameSummary, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
SELECT game_id, status, winner, reason, rounds, liberal, fascist, error,
       started_at_ms, ended_at_ms, summary_json, updated_at_ms
FROM game_summaries
ORDER BY started_at_ms DESC, game_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]GameSummary, 0, limit)
	for rows.Next() {
		var g GameSummary
		var status string
		var startedMs, updatedMs int64
		var endedMs sql.NullInt64
		var details []byte
		if err := rows.Scan(&g.GameID, &status, &g.Winner, &g.Reason, &g.Rounds, &g.Liberal, &g.Fascist, &g.Error,
			&startedMs, &endedMs, &details, &updatedMs); err != nil {
			return nil, err
		}
		g.Status = Status(status)
		g.StartedAt = time.UnixMilli(startedMs).UTC()
		g.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		if endedMs.Valid {
			t := time.UnixMilli(endedMs.Int64).UTC()
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

func (s *SQLiteService) GetGameRecords(ctx context.Context, gameID string) ([]RecordItem, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, round, phase, kind, participant, envelope_b64, ts_ms
FROM game_records
WHERE game_id = ?
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

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS game_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    round INTEGER NOT NULL DEFAULT 0,
    phase TEXT NOT NULL,
    kind TEXT NOT NULL,
    participant TEXT NOT NULL DEFAULT '',
    envelope_b64 TEXT NOT NULL DEFAULT '',
    ts_ms INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL,
    UNIQUE (game_id, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_game_records_game_seq ON game_records(game_id, seq)`,
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
    started_at_ms INTEGER NOT NULL,
    ended_at_ms INTEGER,
    summary_json TEXT NOT NULL DEFAULT '{}',
    updated_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_game_summaries_recent ON game_summaries(started_at_ms DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func localDatabasePathFromEnv() (string, error) {
	if v := strings.TrimSpace(os.Getenv("SH_LEDGER_PATH")); v != "" {
		return filepath.Clean(v), nil
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, "secrethitler-lite", defaultLocalDBName), nil
}
