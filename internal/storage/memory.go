package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	draws   map[string]Draw
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{draws: make(map[string]Draw)}
}

func (s *MemoryStore) SaveEntry(ctx context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *MemoryStore) findDraw(raffleID string, requestID int64) (Draw, bool) {
	for _, draw := range s.draws {
		if draw.RaffleID == raffleID && draw.RequestID == requestID {
			return draw, true
		}
	}
	return Draw{}, false
}

func (s *MemoryStore) SaveDraw(ctx context.Context, draw Draw) (Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draw.RequestedAt.IsZero() {
		draw.RequestedAt = time.Now().UTC()
	}
	if existing, ok := s.findDraw(draw.RaffleID, draw.RequestID); ok {
		existing.RequestedAt = draw.RequestedAt
		s.draws[existing.ID] = existing
		return existing, nil
	}

	if draw.ID == "" {
		draw.ID = uuid.New().String()
	}
	if draw.Status == "" {
		draw.Status = DrawStatusRequested
	}
	s.draws[draw.ID] = draw
	return draw, nil
}

func (s *MemoryStore) CompleteDraw(ctx context.Context, draw Draw) (Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := time.Now().UTC()
	if draw.CompletedAt != nil {
		completed = draw.CompletedAt.UTC()
	}

	existing, ok := s.findDraw(draw.RaffleID, draw.RequestID)
	if !ok {
		existing = draw
		existing.ID = uuid.New().String()
		if existing.RequestedAt.IsZero() {
			existing.RequestedAt = completed
		}
	}
	existing.Status = DrawStatusCompleted
	existing.Winner = draw.Winner
	existing.Prize = draw.Prize
	existing.CompletedAt = &completed
	s.draws[existing.ID] = existing
	return existing, nil
}

func (s *MemoryStore) ListDraws(ctx context.Context, raffleID string, limit int) ([]Draw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Draw
	for _, draw := range s.draws {
		if raffleID == "" || draw.RaffleID == raffleID {
			result = append(result, draw)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Round != result[j].Round {
			return result[i].Round > result[j].Round
		}
		return result[i].RequestID > result[j].RequestID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, raffleID string, round int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Entry
	for _, entry := range s.entries {
		if entry.RaffleID == raffleID && (round == 0 || entry.Round == round) {
			result = append(result, entry)
		}
	}
	return result, nil
}
