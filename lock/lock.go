// Package lock serializes mutations per entity. Acquisition is non-blocking:
// contention reports busy immediately so UI-facing callers never hang, and
// every handle expires after its TTL to bound the blast radius of a crashed
// holder.
package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// DefaultTTL bounds how long an abandoned handle can block an entity.
const DefaultTTL = 30 * time.Second

// Handle proves ownership of one (kind, object id) lock. It exists only while
// a mutation is in flight and is never persisted.
type Handle struct {
	Kind        string
	ObjectID    string
	HolderToken string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

type entry struct {
	token      string
	acquiredAt time.Time
	expiresAt  time.Time
}

// Table is the in-memory per-entity mutation lock. Granularity is exactly one
// lock per (kind, object id): never a global lock, never per-field.
type Table struct {
	mu         sync.Mutex
	held       map[string]entry
	defaultTTL time.Duration
	clock      func() time.Time
	logger     lifecycle.Logger
}

// Option customizes table behavior.
type Option func(*Table)

// WithDefaultTTL overrides the TTL applied when Acquire receives zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(t *Table) {
		if ttl > 0 {
			t.defaultTTL = ttl
		}
	}
}

// WithClock injects a time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Table) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the table logger.
func WithLogger(logger lifecycle.Logger) Option {
	return func(t *Table) {
		t.logger = lifecycle.NormalizeLogger(logger)
	}
}

// NewTable constructs an empty lock table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		held:       make(map[string]entry),
		defaultTTL: DefaultTTL,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     lifecycle.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Acquire takes the lock for (kind, id) or reports busy without queuing. An
// expired handle left by a crashed holder is replaced, not honored.
func (t *Table) Acquire(kind, id string, ttl time.Duration) (*Handle, error) {
	if t == nil {
		return nil, fmt.Errorf("lock table not configured")
	}
	kind = lifecycle.NormalizeKind(kind)
	key, err := lockKey(kind, id)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.held[key]; ok && current.expiresAt.After(now) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrBusy,
			fmt.Sprintf("mutation in flight for %s/%s", kind, id),
			nil,
			map[string]any{"kind": kind, "entity_id": id, "expires_at": current.expiresAt},
		)
	}

	handle := &Handle{
		Kind:        kind,
		ObjectID:    id,
		HolderToken: uuid.NewString(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	t.held[key] = entry{token: handle.HolderToken, acquiredAt: handle.AcquiredAt, expiresAt: handle.ExpiresAt}
	return handle, nil
}

// Release frees the lock. Releasing an expired, stolen, or already-released
// handle is a no-op, never an error.
func (t *Table) Release(handle *Handle) {
	if t == nil || handle == nil {
		return
	}
	key, err := lockKey(handle.Kind, handle.ObjectID)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.held[key]
	if !ok || current.token != handle.HolderToken {
		return
	}
	delete(t.held, key)
}

// IsHeld reports whether a live handle exists for (kind, id).
func (t *Table) IsHeld(kind, id string) bool {
	if t == nil {
		return false
	}
	key, err := lockKey(lifecycle.NormalizeKind(kind), id)
	if err != nil {
		return false
	}
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.held[key]
	return ok && current.expiresAt.After(now)
}

// Sweep drops expired entries and returns how many were removed.
func (t *Table) Sweep() int {
	if t == nil {
		return 0
	}
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, current := range t.held {
		if !current.expiresAt.After(now) {
			delete(t.held, key)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug("lock sweep removed %d expired handles", removed)
	}
	return removed
}

// Len returns the number of entries currently tracked, live or expired.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

func lockKey(kind, id string) (string, error) {
	if kind == "" || id == "" {
		return "", lifecycle.CloneError(lifecycle.ErrBadRequest, "lock requires kind and entity id", nil, nil)
	}
	return kind + "::" + id, nil
}
