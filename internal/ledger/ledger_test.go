package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"secrethitler-lite/transcript"
)

func sampleRecords(gameID string) []transcript.Record {
	return []transcript.Record{
		{GameID: gameID, Seq: 1, Round: 0, Phase: "setup", Kind: transcript.KindEvent, Event: "game_started", Fields: map[string]string{"seating": "Alice,Bob"}, TimeMs: 10},
		{GameID: gameID, Seq: 2, Round: 1, Phase: "nomination", Kind: transcript.KindDecision, Participant: "Alice", External: "I pick Bob.", Decision: "Bob", TimeMs: 20},
		{GameID: gameID, Seq: 3, Round: 1, Phase: "voting", Kind: transcript.KindDecision, Participant: "Bob", Decision: "Ja", TimeMs: 30},
	}
}

func openSQLite(t *testing.T) *SQLiteService {
	t.Helper()
	s, err := NewSQLiteService(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteService err: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openMemory(t *testing.T) *MemoryService {
	t.Helper()
	s, err := NewMemoryService(10)
	if err != nil {
		t.Fatalf("NewMemoryService err: %v", err)
	}
	return s
}

func backends(t *testing.T) map[string]Service {
	return map[string]Service{
		"memory": openMemory(t),
		"sqlite": openSQLite(t),
	}
}

func TestAppendAndGetRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			recs := sampleRecords("g1")
			// Out of order plus a duplicate.
			s.AppendRecord(recs[2])
			s.AppendRecord(recs[0])
			s.AppendRecord(recs[1])
			s.AppendRecord(recs[1])

			items, err := s.GetGameRecords(context.Background(), "g1")
			if err != nil {
				t.Fatalf("GetGameRecords err: %v", err)
			}
			if len(items) != 3 {
				t.Fatalf("expected 3 records, got %d", len(items))
			}
			var seqs []uint64
			for _, it := range items {
				seqs = append(seqs, it.Seq)
			}
			if diff := cmp.Diff([]uint64{1, 2, 3}, seqs); diff != "" {
				t.Fatalf("records not in seq order (-want +got):\n%s", diff)
			}
			if items[1].Kind != "decision" || items[1].Participant != "Alice" || items[1].Phase != "nomination" {
				t.Fatalf("unexpected columns: %+v", items[1])
			}
			rec, err := items[1].Record()
			if err != nil {
				t.Fatalf("Record err: %v", err)
			}
			if rec.Decision != "Bob" || rec.External != "I pick Bob." || rec.GameID != "g1" {
				t.Fatalf("decoded record mismatch: %+v", rec)
			}

			if _, err := s.GetGameRecords(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpsertGameAndListRecent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0).UTC()
			if err := s.UpsertGame(ctx, GameSummary{GameID: "old", Status: StatusRunning, StartedAt: base}); err != nil {
				t.Fatalf("UpsertGame err: %v", err)
			}
			if err := s.UpsertGame(ctx, GameSummary{GameID: "new", Status: StatusRunning, StartedAt: base.Add(time.Minute)}); err != nil {
				t.Fatalf("UpsertGame err: %v", err)
			}
			ended := base.Add(2 * time.Minute)
			err := s.UpsertGame(ctx, GameSummary{
				GameID:    "old",
				Status:    StatusFinished,
				Winner:    "Liberals",
				Reason:    "liberal_policies",
				Rounds:    9,
				Liberal:   5,
				Fascist:   2,
				StartedAt: base,
				EndedAt:   &ended,
				Details:   map[string]any{"total_tokens": 1200},
			})
			if err != nil {
				t.Fatalf("UpsertGame err: %v", err)
			}

			items, err := s.ListRecent(ctx, 10)
			if err != nil {
				t.Fatalf("ListRecent err: %v", err)
			}
			if len(items) != 2 {
				t.Fatalf("expected 2 games, got %d", len(items))
			}
			if items[0].GameID != "new" || items[1].GameID != "old" {
				t.Fatalf("expected newest first, got %s, %s", items[0].GameID, items[1].GameID)
			}
			old := items[1]
			if old.Status != StatusFinished || old.Winner != "Liberals" || old.Rounds != 9 || old.Liberal != 5 {
				t.Fatalf("summary not updated: %+v", old)
			}
			if old.EndedAt == nil || !old.EndedAt.Equal(ended) {
				t.Fatalf("expected ended_at %v, got %v", ended, old.EndedAt)
			}
			if v, ok := old.Details["total_tokens"].(float64); !ok || v != 1200 {
				if iv, ok := old.Details["total_tokens"].(int); !ok || iv != 1200 {
					t.Fatalf("details lost: %#v", old.Details)
				}
			}
		})
	}
}

func TestSQLiteRetentionTrimsFinishedGames(t *testing.T) {
	s := openSQLite(t)
	s.recentLimit = 2
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	for i, id := range []string{"a", "b", "c"} {
		s.AppendRecord(transcript.Record{GameID: id, Seq: 1, Phase: "setup", Kind: transcript.KindEvent, TimeMs: 1})
		if err := s.UpsertGame(ctx, GameSummary{GameID: id, Status: StatusFinished, StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("UpsertGame err: %v", err)
		}
	}
	items, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent err: %v", err)
	}
	if len(items) != 2 || items[0].GameID != "c" || items[1].GameID != "b" {
		t.Fatalf("expected c,b retained, got %+v", items)
	}
	if _, err := s.GetGameRecords(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("records of trimmed game should be gone, got %v", err)
	}
}

func TestMemoryEvictsOldestGame(t *testing.T) {
	s, err := NewMemoryService(2)
	if err != nil {
		t.Fatalf("NewMemoryService err: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		s.AppendRecord(transcript.Record{GameID: id, Seq: 1, Phase: "setup", Kind: transcript.KindEvent})
	}
	if _, err := s.GetGameRecords(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a to be evicted, got %v", err)
	}
	if _, err := s.GetGameRecords(context.Background(), "c"); err != nil {
		t.Fatalf("GetGameRecords err: %v", err)
	}
}

func TestSinkForwardsToService(t *testing.T) {
	s := openMemory(t)
	tape := transcript.NewTape("g7", Sink(s))
	tape.Emit(transcript.Record{Phase: "setup", Kind: transcript.KindEvent, Event: "game_started"})
	tape.Emit(transcript.Record{Phase: "nomination", Kind: transcript.KindDecision, Participant: "Eve"})
	items, err := s.GetGameRecords(context.Background(), "g7")
	if err != nil {
		t.Fatalf("GetGameRecords err: %v", err)
	}
	if len(items) != 2 || items[0].Seq != 1 || items[1].Seq != 2 {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestNewServiceFromEnv(t *testing.T) {
	t.Setenv("SH_LEDGER_PATH", filepath.Join(t.TempDir(), "env.db"))
	for mode, want := range map[string]string{"": ModeMemory, "off": ModeOff, "SQLite": ModeSQLite} {
		s, got, err := NewServiceFromEnv(mode)
		if err != nil {
			t.Fatalf("mode %q err: %v", mode, err)
		}
		if got != want {
			t.Fatalf("mode %q: expected %s, got %s", mode, want, got)
		}
		_ = s.Close()
	}
	if _, _, err := NewServiceFromEnv("mongo"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
