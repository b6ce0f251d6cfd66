package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"secrethitler-lite/transcript"
)

// MemoryService keeps the most recent games in process memory. Older games
// are evicted together with their records.
type MemoryService struct {
	mu    sync.Mutex
	games *lru.Cache[string, *memoryGame]
}

type memoryGame struct {
	summary GameSummary
	records []RecordItem
	seen    map[uint64]struct{}
}

func NewMemoryService(limit int) (*MemoryService, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	cache, err := lru.New[string, *memoryGame](limit)
	if err != nil {
		return nil, err
	}
	return &MemoryService{games: cache}, nil
}

func (s *MemoryService) Close() error {
	s.games.Purge()
	return nil
}

func (s *MemoryService) gameLocked(gameID string) *memoryGame {
	g, ok := s.games.Get(gameID)
	if !ok {
		now := time.Now().UTC()
		g = &memoryGame{
			summary: GameSummary{GameID: gameID, Status: StatusRunning, StartedAt: now, UpdatedAt: now, Details: map[string]any{}},
			seen:    make(map[uint64]struct{}),
		}
		s.games.Add(gameID, g)
	}
	return g
}

func (s *MemoryService) AppendRecord(rec transcript.Record) {
	if strings.TrimSpace(rec.GameID) == "" {
		return
	}
	item, err := newRecordItem(rec)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gameLocked(rec.GameID)
	if _, dup := g.seen[rec.Seq]; dup {
		return
	}
	g.seen[rec.Seq] = struct{}{}
	g.records = append(g.records, item)
}

func (s *MemoryService) UpsertGame(_ context.Context, summary GameSummary) error {
	if strings.TrimSpace(summary.GameID) == "" {
		return ErrNotFound
	}
	if summary.Details == nil {
		summary.Details = map[string]any{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gameLocked(summary.GameID)
	if summary.StartedAt.IsZero() {
		summary.StartedAt = g.summary.StartedAt
	}
	summary.UpdatedAt = time.Now().UTC()
	g.summary = summary
	return nil
}

func (s *MemoryService) ListRecent(_ context.Context, limit int) ([]GameSummary, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	out := make([]GameSummary, 0, s.games.Len())
	for _, g := range s.games.Values() {
		out = append(out, g.summary)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryService) GetGameRecords(_ context.Context, gameID string) ([]RecordItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games.Peek(gameID)
	if !ok || len(g.records) == 0 {
		return nil, ErrNotFound
	}
	out := make([]RecordItem, len(g.records))
	copy(out, g.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
