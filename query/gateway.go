// Package query serves paginated, filtered entity reads. It is purely
// read-only: no lock is taken, and results reflect the latest committed
// snapshots without any linearizability promise against in-flight mutations.
package query

import (
	"context"
	"fmt"
	"strings"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/registry"
	"github.com/goliatone/go-lifecycle/store"
)

const (
	// DefaultPageSize applies when the filter carries no page size.
	DefaultPageSize = 25
	// MaxPageSize bounds a single page regardless of the requested size.
	MaxPageSize = 100
	// DefaultHiddenRole is the role allowed to see hidden entities when the
	// gateway is not configured with another one.
	DefaultHiddenRole = "supervisor"
)

// Filter restricts and pages a kind listing. Hidden selects the visibility
// flag explicitly; when the actor lacks the hidden-viewer role the gateway
// forces visible-only regardless.
type Filter struct {
	State    string
	Hidden   *bool
	Search   string
	Page     int
	PageSize int
}

// Result is one page of snapshots plus the total match count before paging.
type Result struct {
	Results []lifecycle.Snapshot
	Count   int
}

// Gateway answers list queries against the snapshot store.
type Gateway struct {
	registry   *registry.Registry
	store      store.Store
	hiddenRole string
	logger     lifecycle.Logger
}

// Option customizes gateway behavior.
type Option func(*Gateway)

// WithHiddenRole sets the role required to see hidden entities.
func WithHiddenRole(role string) Option {
	return func(g *Gateway) {
		if role = strings.TrimSpace(strings.ToLower(role)); role != "" {
			g.hiddenRole = role
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger lifecycle.Logger) Option {
	return func(g *Gateway) {
		g.logger = lifecycle.NormalizeLogger(logger)
	}
}

// New constructs a gateway over the given registry and store.
func New(reg *registry.Registry, snapshots store.Store, opts ...Option) (*Gateway, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot store required")
	}
	g := &Gateway{
		registry:   reg,
		store:      snapshots,
		hiddenRole: DefaultHiddenRole,
		logger:     lifecycle.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// List returns one page of snapshots for the kind. Actors without the
// hidden-viewer role only ever see visible entities; the state filter must
// name a declared state for the kind.
func (g *Gateway) List(ctx context.Context, kind string, filter Filter, actor lifecycle.Actor) (*Result, error) {
	if g == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "query gateway not configured", nil, nil)
	}
	kind = lifecycle.NormalizeKind(kind)
	if !g.registry.HasKind(kind) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrUnknownEvent,
			fmt.Sprintf("kind %q not configured", kind),
			nil,
			map[string]any{"kind": kind},
		)
	}

	state := lifecycle.NormalizeState(filter.State)
	if state != "" {
		states, err := g.registry.StatesFor(kind)
		if err != nil {
			return nil, err
		}
		if !containsString(states, state) {
			return nil, lifecycle.CloneError(
				lifecycle.ErrBadRequest,
				fmt.Sprintf("state %q not declared for kind %q", state, kind),
				nil,
				map[string]any{"kind": kind, "state": state},
			)
		}
	}

	hidden := filter.Hidden
	if !actor.HasRole(g.hiddenRole) {
		// non-privileged callers are pinned to visible entities
		visible := false
		hidden = &visible
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	snaps, total, err := g.store.List(ctx, kind, store.ListQuery{
		State:  state,
		Hidden: hidden,
		Search: filter.Search,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to list entities", err,
			map[string]any{"kind": kind})
	}
	return &Result{Results: snaps, Count: total}, nil
}

// Get returns one snapshot. Hidden entities are invisible to actors without
// the hidden-viewer role: they get not-found, not forbidden, so existence is
// not leaked.
func (g *Gateway) Get(ctx context.Context, kind, id string, actor lifecycle.Actor) (*lifecycle.Snapshot, error) {
	if g == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "query gateway not configured", nil, nil)
	}
	kind = lifecycle.NormalizeKind(kind)
	id = strings.TrimSpace(id)
	if !g.registry.HasKind(kind) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrUnknownEvent,
			fmt.Sprintf("kind %q not configured", kind),
			nil,
			map[string]any{"kind": kind},
		)
	}
	snap, err := g.store.Load(ctx, kind, id)
	if err != nil {
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to load entity", err,
			map[string]any{"kind": kind, "entity_id": id})
	}
	if snap == nil || (snap.Hidden && !actor.HasRole(g.hiddenRole)) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrNotFound,
			fmt.Sprintf("%s %s not found", kind, id),
			nil,
			map[string]any{"kind": kind, "entity_id": id},
		)
	}
	return snap, nil
}

func containsString(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}
