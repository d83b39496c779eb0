package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// InMemoryStore is a thread-safe in-memory snapshot store.
type InMemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*lifecycle.Snapshot
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snaps: make(map[string]*lifecycle.Snapshot)}
}

// Load returns a cloned snapshot, or (nil, nil) when absent.
func (s *InMemoryStore) Load(_ context.Context, kind, id string) (*lifecycle.Snapshot, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	key := snapKey(kind, id)
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[key]
	if !ok || snap == nil {
		return nil, nil
	}
	return snap.Clone(), nil
}

// SaveIfVersion performs compare-and-set persistence.
func (s *InMemoryStore) SaveIfVersion(_ context.Context, snap *lifecycle.Snapshot, expectedVersion int) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory store not configured")
	}
	cp, err := normalizeSnapshot(snap)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	key := snapKey(cp.Kind, cp.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.snaps[key]
	if !ok {
		if expectedVersion != 0 {
			return 0, ErrVersionMismatch
		}
		cp.Version = 1
	} else {
		if expectedVersion == 0 || current.Version != expectedVersion {
			return 0, ErrVersionMismatch
		}
		cp.Version = expectedVersion + 1
	}
	s.snaps[key] = cp
	return cp.Version, nil
}

// Restore overwrites the stored snapshot with snap as-is, version included,
// when the stored version equals expectedVersion.
func (s *InMemoryStore) Restore(_ context.Context, snap *lifecycle.Snapshot, expectedVersion int) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	cp, err := normalizeSnapshot(snap)
	if err != nil {
		return err
	}
	if cp.Version <= 0 || expectedVersion <= 0 {
		return errors.New("restore requires positive versions")
	}
	key := snapKey(cp.Kind, cp.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.snaps[key]
	if !ok || current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	s.snaps[key] = cp
	return nil
}

// Delete removes a snapshot. Absent entities are a no-op.
func (s *InMemoryStore) Delete(_ context.Context, kind, id string) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	key := snapKey(kind, id)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key)
	return nil
}

// List returns matching snapshots for a kind plus the total match count
// before paging, ordered by id.
func (s *InMemoryStore) List(_ context.Context, kind string, q ListQuery) ([]lifecycle.Snapshot, int, error) {
	if s == nil {
		return nil, 0, errors.New("in-memory store not configured")
	}
	kind = lifecycle.NormalizeKind(kind)

	s.mu.RLock()
	var matched []lifecycle.Snapshot
	for _, snap := range s.snaps {
		if snap.Kind != kind {
			continue
		}
		if matchesQuery(*snap, q) {
			matched = append(matched, *snap.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func snapKey(kind, id string) string {
	kind = lifecycle.NormalizeKind(kind)
	id = strings.TrimSpace(id)
	if kind == "" || id == "" {
		return ""
	}
	return kind + "::" + id
}
