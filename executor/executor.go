// Package executor applies entity mutations: transitions, plain field
// updates, and creation. Every mutation runs inside the per-entity lock,
// passes the optimistic version check, and commits state and audit as one
// unit, rolling the state write back when the audit append fails.
package executor

import (
	"errors"
	"time"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/lock"
	"github.com/goliatone/go-lifecycle/registry"
	"github.com/goliatone/go-lifecycle/store"
)

// Recorder receives execution telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	MutationExecuted(kind, action, outcome string, elapsed time.Duration)
	LockContention(kind string)
	AuditAppended(action string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) MutationExecuted(string, string, string, time.Duration) {}
func (noopRecorder) LockContention(string)                                  {}
func (noopRecorder) AuditAppended(string, time.Duration)                    {}

// NoopRecorder returns a recorder that drops all telemetry.
func NoopRecorder() Recorder { return noopRecorder{} }

// Executor coordinates the registry, lock table, snapshot store, and audit
// logger for every mutation path.
type Executor struct {
	registry *registry.Registry
	store    store.Store
	audit    *audit.Logger
	locks    *lock.Table
	lockTTL  time.Duration
	clock    func() time.Time
	logger   lifecycle.Logger
	metrics  Recorder
}

// Option customizes executor behavior.
type Option func(*Executor)

// WithLogger sets the diagnostic logger.
func WithLogger(logger lifecycle.Logger) Option {
	return func(e *Executor) {
		e.logger = lifecycle.NormalizeLogger(logger)
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(recorder Recorder) Option {
	return func(e *Executor) {
		if recorder != nil {
			e.metrics = recorder
		}
	}
}

// WithClock injects a time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLockTTL overrides the lock TTL requested for each mutation.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Executor) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// New constructs an executor. All four collaborators are required.
func New(
	reg *registry.Registry,
	snapshots store.Store,
	auditLog *audit.Logger,
	locks *lock.Table,
	opts ...Option,
) (*Executor, error) {
	if reg == nil {
		return nil, errors.New("registry required")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot store required")
	}
	if auditLog == nil {
		return nil, errors.New("audit logger required")
	}
	if locks == nil {
		return nil, errors.New("lock table required")
	}
	e := &Executor{
		registry: reg,
		store:    snapshots,
		audit:    auditLog,
		locks:    locks,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   lifecycle.NormalizeLogger(nil),
		metrics:  noopRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Registry exposes the compiled lifecycle configuration, so transports can
// answer introspection requests from the same instance.
func (e *Executor) Registry() *registry.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

// outcome renders a mutation result for telemetry: "ok" or the error code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := lifecycle.ErrorCode(err); code != "" {
		return code
	}
	return "error"
}
