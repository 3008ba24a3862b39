package storage

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const schedulesFile = "schedules.json"

// ScheduleStore persists schedules as a JSON array.
type ScheduleStore struct {
	path string
	mu   sync.Mutex
}

var _ ports.ScheduleStore = (*ScheduleStore)(nil)

// NewScheduleStore stores schedules in dataDir/schedules.json.
func NewScheduleStore(dataDir string) *ScheduleStore {
	return &ScheduleStore{path: filepath.Join(dataDir, schedulesFile)}
}

// ListSchedules returns schedules ordered by creation time.
func (s *ScheduleStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// PutSchedule inserts or replaces by id.
func (s *ScheduleStore) PutSchedule(ctx context.Context, schedule domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range items {
		if items[i].ID == schedule.ID {
			items[i] = schedule
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, schedule)
	}
	return writeJSONAtomic(s.path, items)
}

// DeleteSchedule removes by id; unknown ids yield ErrScheduleNotFound.
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}

	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(items) {
		return domain.ErrScheduleNotFound
	}
	return writeJSONAtomic(s.path, kept)
}

func (s *ScheduleStore) load() ([]domain.Schedule, error) {
	var items []domain.Schedule
	if _, err := readJSON(s.path, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Schedule{}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}
