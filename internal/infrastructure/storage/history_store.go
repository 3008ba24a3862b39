package storage

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const historyFile = "history.json"

// HistoryStore keeps the newest execution records in a JSON array.
type HistoryStore struct {
	path  string
	limit int
	mu    sync.Mutex
}

var _ ports.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore stores history in dataDir/history.json capped at domain.HistoryLimit.
func NewHistoryStore(dataDir string) *HistoryStore {
	return &HistoryStore{path: filepath.Join(dataDir, historyFile), limit: domain.HistoryLimit}
}

// AppendExecution adds record and evicts the oldest entries beyond the cap.
func (s *HistoryStore) AppendExecution(ctx context.Context, record domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	items = append(items, record)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.Before(items[j].Timestamp) })
	if len(items) > s.limit {
		items = items[len(items)-s.limit:]
	}
	return writeJSONAtomic(s.path, items)
}

// ListExecutions returns up to limit records, newest first. limit <= 0 returns all.
func (s *HistoryStore) ListExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExecutionRecord, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *HistoryStore) load() ([]domain.ExecutionRecord, error) {
	var items []domain.ExecutionRecord
	if _, err := readJSON(s.path, &items); err != nil {
		return nil, err
	}
	return items, nil
}
