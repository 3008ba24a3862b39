package storage

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const snapshotFile = "snapshot.json"

type snapshotDocument struct {
	Timestamp time.Time                 `json:"timestamp"`
	Proposals map[domain.Protocol][]int `json:"proposals"`
}

// SnapshotStore keeps known proposal numbers per protocol in one JSON file.
type SnapshotStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore stores the snapshot as dataDir/snapshot.json.
func NewSnapshotStore(dataDir string) *SnapshotStore {
	return &SnapshotStore{path: filepath.Join(dataDir, snapshotFile), now: time.Now}
}

// Numbers returns the cached numbers for protocol.
func (s *SnapshotStore) Numbers(ctx context.Context, protocol domain.Protocol) ([]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}
	numbers, ok := doc.Proposals[protocol]
	if !ok {
		return nil, false, nil
	}
	out := make([]int, len(numbers))
	copy(out, numbers)
	return out, true, nil
}

// Save replaces protocol's numbers and restamps the file.
func (s *SnapshotStore) Save(ctx context.Context, protocol domain.Protocol, numbers []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	stored := make([]int, len(numbers))
	copy(stored, numbers)
	doc.Proposals[protocol] = normalizeNumbers(stored)
	doc.Timestamp = s.now().UTC()

	return writeJSONAtomic(s.path, doc)
}

func (s *SnapshotStore) load() (snapshotDocument, error) {
	var doc snapshotDocument
	if _, err := readJSON(s.path, &doc); err != nil {
		return snapshotDocument{}, err
	}
	if doc.Proposals == nil {
		doc.Proposals = map[domain.Protocol][]int{}
	}
	return doc, nil
}

func normalizeNumbers(numbers []int) []int {
	items := make([]domain.Proposal, len(numbers))
	for i, n := range numbers {
		items[i].Number = n
	}
	return domain.SortedNumbers(items)
}
