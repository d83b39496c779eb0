// Package store persists entity snapshots with optimistic locking. Writes go
// through compare-and-set on the snapshot version; readers get clones, never
// shared references.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// ErrVersionMismatch indicates compare-and-set failure: the stored version no
// longer matches the expected one. Callers translate it into their own
// conflict taxonomy.
var ErrVersionMismatch = errors.New("snapshot version mismatch")

// ListQuery filters and pages a kind listing.
type ListQuery struct {
	State  string
	Hidden *bool
	Search string
	Offset int
	Limit  int
}

// Store is the snapshot persistence contract.
//
// Load returns (nil, nil) when the entity does not exist. SaveIfVersion
// performs compare-and-set: expectedVersion zero means "create, must not
// exist"; otherwise the stored version must equal expectedVersion, and the
// snapshot is written with expectedVersion+1.
//
// Restore and Delete exist for compensating rollback only. Restore rewrites
// the snapshot exactly as given, version included, when the stored version
// equals expectedVersion, so a mutation that persisted but could not be
// audited is undone without leaving a version gap. Delete removes a snapshot
// unconditionally and undoes a failed create.
type Store interface {
	Load(ctx context.Context, kind, id string) (*lifecycle.Snapshot, error)
	SaveIfVersion(ctx context.Context, snap *lifecycle.Snapshot, expectedVersion int) (int, error)
	Restore(ctx context.Context, snap *lifecycle.Snapshot, expectedVersion int) error
	Delete(ctx context.Context, kind, id string) error
	List(ctx context.Context, kind string, q ListQuery) ([]lifecycle.Snapshot, int, error)
}

func normalizeSnapshot(snap *lifecycle.Snapshot) (*lifecycle.Snapshot, error) {
	if snap == nil {
		return nil, errors.New("snapshot required")
	}
	cp := snap.Clone()
	cp.Kind = lifecycle.NormalizeKind(cp.Kind)
	cp.ID = strings.TrimSpace(cp.ID)
	cp.State = lifecycle.NormalizeState(cp.State)
	if cp.Kind == "" || cp.ID == "" {
		return nil, errors.New("snapshot kind and id required")
	}
	if cp.State == "" {
		return nil, errors.New("snapshot state required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	return cp, nil
}

func matchesQuery(snap lifecycle.Snapshot, q ListQuery) bool {
	if q.State != "" && snap.State != lifecycle.NormalizeState(q.State) {
		return false
	}
	if q.Hidden != nil && snap.Hidden != *q.Hidden {
		return false
	}
	if q.Search != "" && !strings.Contains(
		strings.ToLower(snap.Search),
		strings.ToLower(strings.TrimSpace(q.Search)),
	) {
		return false
	}
	return true
}
