package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/lock"
	"github.com/goliatone/go-lifecycle/registry"
	"github.com/goliatone/go-lifecycle/store"
)

// flakyAuditStore fails every insert after the first failAfter successes.
type flakyAuditStore struct {
	mu        sync.Mutex
	inner     *audit.MemoryStore
	failAfter int
	inserts   int
}

func (s *flakyAuditStore) Insert(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	s.inserts++
	fail := s.inserts > s.failAfter
	s.mu.Unlock()
	if fail {
		return errors.New("audit store unavailable")
	}
	return s.inner.Insert(ctx, rec)
}

func (s *flakyAuditStore) Select(ctx context.Context, q audit.SelectQuery) ([]audit.Record, error) {
	return s.inner.Select(ctx, q)
}

// brokenStore fails restore writes so the inconsistent path can be observed.
type brokenStore struct {
	*store.InMemoryStore
}

func (s *brokenStore) Restore(context.Context, *lifecycle.Snapshot, int) error {
	return errors.New("disk detached")
}

type fixture struct {
	executor *Executor
	store    store.Store
	audit    *audit.Logger
	auditMem *audit.MemoryStore
	locks    *lock.Table
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg, err := registry.New(registry.DefaultKinds(), registry.NewGuardRegistry())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	auditMem := audit.NewMemoryStore()
	f := &fixture{
		store:    store.NewInMemoryStore(),
		audit:    audit.New(auditMem),
		auditMem: auditMem,
		locks:    lock.NewTable(),
	}
	f.executor, err = New(reg, f.store, f.audit, f.locks, opts...)
	if err != nil {
		t.Fatalf("build executor: %v", err)
	}
	return f
}

func (f *fixture) seed(t *testing.T, kind, id, state string) *lifecycle.Snapshot {
	t.Helper()
	snap := &lifecycle.Snapshot{Kind: kind, ID: id, State: state}
	if _, err := f.store.SaveIfVersion(context.Background(), snap, 0); err != nil {
		t.Fatalf("seed %s/%s: %v", kind, id, err)
	}
	snap.Version = 1
	return snap
}

func (f *fixture) auditCount(t *testing.T, kind, id string) int {
	t.Helper()
	page, err := f.audit.Query(context.Background(), audit.Filter{Kind: kind, ObjectID: id})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	return len(page.Records)
}

func TestExecuteHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	snap, err := f.executor.Execute(ctx, TransitionRequest{
		Kind:            "batch",
		ID:              "b1",
		Event:           "start",
		ExpectedVersion: 1,
		Actor:           lifecycle.Actor{ID: "u1", Name: "Dana"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if snap.State != "running" {
		t.Fatalf("expected running, got %q", snap.State)
	}
	if snap.Version != 2 {
		t.Fatalf("expected version 2, got %d", snap.Version)
	}

	page, err := f.audit.Query(ctx, audit.Filter{Kind: "batch", ObjectID: "b1"})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(page.Records))
	}
	rec := page.Records[0]
	if rec.Action != audit.ActionTransition || rec.Event != "start" {
		t.Fatalf("unexpected audit record %+v", rec)
	}
	if rec.FromState != "planned" || rec.ToState != "running" {
		t.Fatalf("audit from/to mismatch: %s -> %s", rec.FromState, rec.ToState)
	}
	if rec.ActorID != "u1" {
		t.Fatalf("expected actor u1, got %q", rec.ActorID)
	}
}

func TestExecuteUnknownEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "teleport", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeUnknownEvent {
		t.Fatalf("expected unknown event, got %v", err)
	}
	if f.auditCount(t, "batch", "b1") != 0 {
		t.Fatalf("rejected transition must not produce audit records")
	}
}

func TestExecuteUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "spaceship", ID: "s1", Event: "launch", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeUnknownEvent {
		t.Fatalf("expected unknown event for unconfigured kind, got %v", err)
	}
}

func TestExecuteMissingJustificationBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "running")

	for _, justification := range []string{"", "   ", "\t\n"} {
		_, err := f.executor.Execute(context.Background(), TransitionRequest{
			Kind: "batch", ID: "b1", Event: "pause", ExpectedVersion: 1,
			Justification: justification,
		})
		if lifecycle.ErrorCode(err) != lifecycle.ErrCodeMissingJustification {
			t.Fatalf("justification %q: expected missing justification, got %v", justification, err)
		}
	}
	// fails before the lock is taken
	if f.locks.IsHeld("batch", "b1") {
		t.Fatalf("lock must not be held after pre-lock rejection")
	}
	if f.auditCount(t, "batch", "b1") != 0 {
		t.Fatalf("no audit record expected")
	}

	snap, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "pause", ExpectedVersion: 1,
		Justification: "line changeover",
	})
	if err != nil {
		t.Fatalf("execute with justification: %v", err)
	}
	if snap.State != "paused" {
		t.Fatalf("expected paused, got %q", snap.State)
	}
}

func TestExecuteBusyWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	handle, err := f.locks.Acquire("batch", "b1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer f.locks.Release(handle)

	_, err = f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "start", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeBusy {
		t.Fatalf("expected busy, got %v", err)
	}
	if !lifecycle.IsRetryable(err) {
		t.Fatalf("busy must be retryable")
	}
}

func TestExecuteVersionConflict(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "start", ExpectedVersion: 7,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeVersionConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if !lifecycle.IsRetryable(err) {
		t.Fatalf("version conflict must be retryable")
	}
	// state untouched
	snap, _ := f.store.Load(context.Background(), "batch", "b1")
	if snap.State != "planned" || snap.Version != 1 {
		t.Fatalf("rejected transition mutated the snapshot: %+v", snap)
	}
}

func TestExecuteRequiresExpectedVersion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "start",
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeBadRequest {
		t.Fatalf("expected bad request for missing expected_version, got %v", err)
	}
}

func TestExecuteInvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "batch", "b1", "paused")

	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "b1", Event: "finish", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestExecuteTerminalStatesAreImmutable(t *testing.T) {
	f := newFixture(t)
	for _, state := range []string{"finished", "cancelled", "rejected", "released"} {
		id := "b-" + state
		f.seed(t, "batch", id, state)
		for _, event := range []string{"start", "pause", "resume", "finish", "cancel"} {
			_, err := f.executor.Execute(context.Background(), TransitionRequest{
				Kind: "batch", ID: id, Event: event, ExpectedVersion: 1,
				Justification: "attempting the impossible",
			})
			if lifecycle.ErrorCode(err) != lifecycle.ErrCodeInvalidTransition {
				t.Fatalf("event %s from terminal %s: expected invalid transition, got %v", event, state, err)
			}
		}
		if f.auditCount(t, "batch", id) != 0 {
			t.Fatalf("terminal state %s produced audit records", state)
		}
	}
}

func TestExecuteNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "batch", ID: "ghost", Event: "start", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExecuteGuardForbidden(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "user", "u1", "active")

	// actor deactivating themselves is rejected by the not_self guard
	_, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "user", ID: "u1", Event: "deactivate", ExpectedVersion: 1,
		Actor:         lifecycle.Actor{ID: "u1"},
		Justification: "cleanup",
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// a different actor may deactivate
	snap, err := f.executor.Execute(context.Background(), TransitionRequest{
		Kind: "user", ID: "u1", Event: "deactivate", ExpectedVersion: 1,
		Actor:         lifecycle.Actor{ID: "admin"},
		Justification: "offboarding",
	})
	if err != nil {
		t.Fatalf("execute as admin: %v", err)
	}
	if snap.State != "inactive" {
		t.Fatalf("expected inactive, got %q", snap.State)
	}
}

func TestExecuteAuditFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyAuditStore{inner: audit.NewMemoryStore()}
	f := newFixture(t)
	broken, err := New(f.executor.registry, f.store, audit.New(flaky), f.locks)
	if err != nil {
		t.Fatalf("build executor: %v", err)
	}
	f.seed(t, "batch", "b1", "planned")

	_, err = broken.Execute(ctx, TransitionRequest{
		Kind: "batch", ID: "b1", Event: "start", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeAuditWriteFailed {
		t.Fatalf("expected audit write failure, got %v", err)
	}

	snap, loadErr := f.store.Load(ctx, "batch", "b1")
	if loadErr != nil {
		t.Fatalf("load: %v", loadErr)
	}
	if snap.State != "planned" {
		t.Fatalf("rollback did not restore state, got %q", snap.State)
	}
	if snap.Version != 1 {
		t.Fatalf("rollback did not restore version, got %d", snap.Version)
	}
	page, queryErr := audit.New(flaky).Query(ctx, audit.Filter{Kind: "batch", ObjectID: "b1"})
	if queryErr != nil {
		t.Fatalf("audit query: %v", queryErr)
	}
	if len(page.Records) != 0 {
		t.Fatalf("failed transition must leave no audit records, got %d", len(page.Records))
	}
	// lock is released, entity usable again
	if f.locks.IsHeld("batch", "b1") {
		t.Fatalf("lock still held after rollback")
	}
}

func TestExecuteRollbackFailureIsInconsistent(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.New(registry.DefaultKinds(), registry.NewGuardRegistry())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	snaps := &brokenStore{InMemoryStore: store.NewInMemoryStore()}
	flaky := &flakyAuditStore{inner: audit.NewMemoryStore()}
	exec, err := New(reg, snaps, audit.New(flaky), lock.NewTable())
	if err != nil {
		t.Fatalf("build executor: %v", err)
	}
	if _, err := snaps.SaveIfVersion(ctx, &lifecycle.Snapshot{Kind: "batch", ID: "b1", State: "planned"}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = exec.Execute(ctx, TransitionRequest{
		Kind: "batch", ID: "b1", Event: "start", ExpectedVersion: 1,
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeInconsistent {
		t.Fatalf("expected inconsistent, got %v", err)
	}
	if lifecycle.IsRetryable(err) {
		t.Fatalf("inconsistent must not be retryable")
	}
}

func TestExecuteConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "batch", "b1", "planned")

	const workers = 12
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.executor.Execute(ctx, TransitionRequest{
				Kind: "batch", ID: "b1", Event: "start", ExpectedVersion: 1,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		switch lifecycle.ErrorCode(err) {
		case lifecycle.ErrCodeBusy, lifecycle.ErrCodeVersionConflict, lifecycle.ErrCodeInvalidTransition:
		default:
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}

	snap, _ := f.store.Load(ctx, "batch", "b1")
	if snap.State != "running" || snap.Version != 2 {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if count := f.auditCount(t, "batch", "b1"); count != 1 {
		t.Fatalf("expected exactly one audit record, got %d", count)
	}
}

func TestCreatePlacesEntityAtInitialState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	snap, err := f.executor.Create(ctx, CreateRequest{
		Kind: "batch", ID: "b1",
		Actor:   lifecycle.Actor{ID: "u1"},
		Search:  "batch one",
		Payload: map[string]any{"line": "L1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.State != "planned" || snap.Version != 1 {
		t.Fatalf("unexpected created snapshot %+v", snap)
	}

	page, err := f.audit.Query(ctx, audit.Filter{Kind: "batch", ObjectID: "b1"})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Action != audit.ActionCreate {
		t.Fatalf("expected one CREATE record, got %+v", page.Records)
	}
	if page.Records[0].ToState != "planned" {
		t.Fatalf("CREATE record should carry the initial state, got %q", page.Records[0].ToState)
	}

	// duplicate create conflicts
	_, err = f.executor.Create(ctx, CreateRequest{Kind: "batch", ID: "b1"})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeVersionConflict {
		t.Fatalf("expected conflict for duplicate create, got %v", err)
	}

	// unknown kind
	_, err = f.executor.Create(ctx, CreateRequest{Kind: "spaceship", ID: "s1"})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeUnknownEvent {
		t.Fatalf("expected unknown event for unconfigured kind, got %v", err)
	}
}

func TestCreateAuditFailureDeletesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	flaky := &flakyAuditStore{inner: audit.NewMemoryStore()}
	broken, err := New(f.executor.registry, f.store, audit.New(flaky), f.locks)
	if err != nil {
		t.Fatalf("build executor: %v", err)
	}

	_, err = broken.Create(ctx, CreateRequest{Kind: "batch", ID: "b1"})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeAuditWriteFailed {
		t.Fatalf("expected audit write failure, got %v", err)
	}
	snap, _ := f.store.Load(ctx, "batch", "b1")
	if snap != nil {
		t.Fatalf("snapshot must be rolled back after create audit failure, got %+v", snap)
	}
}

func TestUpdateComputesDiff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.executor.Create(ctx, CreateRequest{
		Kind: "batch", ID: "b1",
		Payload: map[string]any{"line": "L1", "qty": 100},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	hidden := true
	snap, err := f.executor.Update(ctx, UpdateRequest{
		Kind: "batch", ID: "b1", ExpectedVersion: 1,
		Actor:   lifecycle.Actor{ID: "u1"},
		Hidden:  &hidden,
		Payload: map[string]any{"line": "L2", "qty": 100},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if snap.Version != 2 {
		t.Fatalf("expected version 2, got %d", snap.Version)
	}
	if !snap.Hidden || snap.Payload["line"] != "L2" {
		t.Fatalf("update not applied: %+v", snap)
	}
	if snap.State != "planned" {
		t.Fatalf("update must not change state, got %q", snap.State)
	}

	page, err := f.audit.Query(ctx, audit.Filter{Kind: "batch", ObjectID: "b1", Event: ""})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	var updateRec *audit.Record
	for i := range page.Records {
		if page.Records[i].Action == audit.ActionUpdate {
			updateRec = &page.Records[i]
		}
	}
	if updateRec == nil {
		t.Fatalf("expected an UPDATE audit record")
	}
	if len(updateRec.Diff) != 2 {
		t.Fatalf("expected 2 changed fields (line, hidden), got %+v", updateRec.Diff)
	}
	if change, ok := updateRec.Diff["line"]; !ok || change.Old != "L1" || change.New != "L2" {
		t.Fatalf("unexpected line diff %+v", change)
	}
	if _, ok := updateRec.Diff["qty"]; ok {
		t.Fatalf("unchanged field must not appear in the diff")
	}
}

func TestUpdateNoChangeIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.executor.Create(ctx, CreateRequest{
		Kind: "batch", ID: "b1", Payload: map[string]any{"line": "L1"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := f.auditCount(t, "batch", "b1")

	snap, err := f.executor.Update(ctx, UpdateRequest{
		Kind: "batch", ID: "b1", ExpectedVersion: 1,
		Payload: map[string]any{"line": "L1"},
	})
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("no-op update must not bump the version, got %d", snap.Version)
	}
	if f.auditCount(t, "batch", "b1") != before {
		t.Fatalf("no-op update must not append audit records")
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.executor.Create(ctx, CreateRequest{Kind: "batch", ID: "b1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := f.executor.Update(ctx, UpdateRequest{
		Kind: "batch", ID: "b1", ExpectedVersion: 9,
		Payload: map[string]any{"line": "L2"},
	})
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeVersionConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
}
