package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// Guard is a transition precondition evaluated after the legality and version
// checks pass. A nil return admits the transition; returning one of the core
// errors rejects it with that error.
type Guard func(ctx context.Context, snap lifecycle.Snapshot, actor lifecycle.Actor, justification string) error

// GuardRegistry resolves named guard references from kind configuration.
type GuardRegistry struct {
	mu     sync.RWMutex
	guards map[string]Guard
}

// NewGuardRegistry constructs a registry preloaded with the built-in guards.
func NewGuardRegistry() *GuardRegistry {
	r := &GuardRegistry{guards: make(map[string]Guard)}
	_ = r.Register("not_self", NotSelf)
	return r
}

// Register stores a guard under a name. Re-registering a name is an error.
func (r *GuardRegistry) Register(name string, guard Guard) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || guard == nil {
		return fmt.Errorf("guard name and implementation required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.guards[name]; exists {
		return fmt.Errorf("guard %s already registered", name)
	}
	r.guards[name] = guard
	return nil
}

// Lookup retrieves a guard by name.
func (r *GuardRegistry) Lookup(name string) (Guard, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guards[strings.TrimSpace(strings.ToLower(name))]
	return g, ok
}

// NotSelf rejects transitions an actor aims at their own record, e.g. a user
// deactivating their own account.
func NotSelf(_ context.Context, snap lifecycle.Snapshot, actor lifecycle.Actor, _ string) error {
	if strings.TrimSpace(actor.ID) != "" && strings.TrimSpace(actor.ID) == strings.TrimSpace(snap.ID) {
		return lifecycle.CloneError(
			lifecycle.ErrForbidden,
			"actors cannot apply this event to their own record",
			nil,
			map[string]any{"kind": snap.Kind, "entity_id": snap.ID, "actor_id": actor.ID},
		)
	}
	return nil
}

// RequireRole builds a guard admitting only actors carrying the given role.
func RequireRole(role string) Guard {
	return func(_ context.Context, snap lifecycle.Snapshot, actor lifecycle.Actor, _ string) error {
		if actor.HasRole(role) {
			return nil
		}
		return lifecycle.CloneError(
			lifecycle.ErrForbidden,
			fmt.Sprintf("role %q required", role),
			nil,
			map[string]any{"kind": snap.Kind, "entity_id": snap.ID, "actor_id": actor.ID},
		)
	}
}
