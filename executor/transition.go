package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/store"
)

// TransitionRequest asks for one state transition on one entity.
type TransitionRequest struct {
	Kind            string
	ID              string
	Event           string
	ExpectedVersion int
	Actor           lifecycle.Actor
	Justification   string
	OriginAddress   string
}

// Execute applies a transition and returns the new snapshot.
//
// Nothing observable happens before the guard passes: event resolution and
// the justification check precede the lock, the version and from-state checks
// precede the guard, and only then are state and audit written. An audit
// failure rolls the state write back; a failed rollback escalates to the
// inconsistent error, which is never swallowed.
func (e *Executor) Execute(ctx context.Context, req TransitionRequest) (*lifecycle.Snapshot, error) {
	start := e.clock()
	snap, err := e.execute(ctx, req)
	e.metrics.MutationExecuted(lifecycle.NormalizeKind(req.Kind), string(audit.ActionTransition), outcome(err), e.clock().Sub(start))
	return snap, err
}

func (e *Executor) execute(ctx context.Context, req TransitionRequest) (*lifecycle.Snapshot, error) {
	kind := lifecycle.NormalizeKind(req.Kind)
	id := strings.TrimSpace(req.ID)
	event := lifecycle.NormalizeEvent(req.Event)
	if kind == "" || id == "" || event == "" {
		return nil, lifecycle.CloneError(lifecycle.ErrBadRequest, "transition requires kind, id, and event", nil, nil)
	}
	if req.ExpectedVersion <= 0 {
		return nil, lifecycle.CloneError(
			lifecycle.ErrBadRequest,
			"expected_version is required and must be positive",
			nil,
			map[string]any{"kind": kind, "entity_id": id},
		)
	}

	tr, err := e.registry.TransitionFor(kind, event)
	if err != nil {
		return nil, err
	}
	if tr.RequiresJustification && !lifecycle.HasJustification(req.Justification) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrMissingJustification,
			fmt.Sprintf("event %q requires a justification", event),
			nil,
			map[string]any{"kind": kind, "entity_id": id, "event": event},
		)
	}

	handle, err := e.locks.Acquire(kind, id, e.lockTTL)
	if err != nil {
		if lifecycle.ErrorCode(err) == lifecycle.ErrCodeBusy {
			e.metrics.LockContention(kind)
		}
		return nil, err
	}
	defer e.locks.Release(handle)

	current, err := e.store.Load(ctx, kind, id)
	if err != nil {
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to load entity", err,
			map[string]any{"kind": kind, "entity_id": id})
	}
	if current == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrNotFound,
			fmt.Sprintf("%s %s not found", kind, id), nil,
			map[string]any{"kind": kind, "entity_id": id})
	}
	if current.Version != req.ExpectedVersion {
		return nil, lifecycle.CloneError(
			lifecycle.ErrVersionConflict,
			fmt.Sprintf("expected version %d, found %d", req.ExpectedVersion, current.Version),
			nil,
			map[string]any{"kind": kind, "entity_id": id, "expected": req.ExpectedVersion, "actual": current.Version},
		)
	}
	if !tr.AllowsFrom(current.State) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrInvalidTransition,
			fmt.Sprintf("event %q not allowed from state %q", event, current.State),
			nil,
			map[string]any{"kind": kind, "entity_id": id, "event": event, "state": current.State},
		)
	}
	if tr.Guard != nil {
		if err := tr.Guard(ctx, *current, req.Actor, req.Justification); err != nil {
			if lifecycle.ErrorCode(err) != "" {
				return nil, err
			}
			return nil, lifecycle.CloneError(lifecycle.ErrForbidden, "guard rejected the transition", err,
				map[string]any{"kind": kind, "entity_id": id, "event": event})
		}
	}

	next := current.Clone()
	next.State = tr.To
	next.UpdatedAt = e.clock()
	newVersion, err := e.store.SaveIfVersion(ctx, next, current.Version)
	if err != nil {
		if stderrors.Is(err, store.ErrVersionMismatch) {
			return nil, lifecycle.CloneError(lifecycle.ErrVersionConflict, "entity changed during transition", err,
				map[string]any{"kind": kind, "entity_id": id})
		}
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to persist transition", err,
			map[string]any{"kind": kind, "entity_id": id, "event": event})
	}
	next.Version = newVersion

	auditStart := e.clock()
	_, auditErr := e.audit.Append(ctx, audit.Record{
		Kind:          kind,
		ObjectID:      id,
		Action:        audit.ActionTransition,
		Event:         event,
		ActorID:       req.Actor.ID,
		ActorName:     req.Actor.Name,
		FromState:     current.State,
		ToState:       next.State,
		Justification: strings.TrimSpace(req.Justification),
		OriginAddress: req.OriginAddress,
	})
	e.metrics.AuditAppended(string(audit.ActionTransition), e.clock().Sub(auditStart))
	if auditErr != nil {
		return nil, e.rollback(ctx, current, newVersion, event, auditErr)
	}

	e.logger.Info("transition %s applied to %s/%s: %s -> %s", event, kind, id, current.State, next.State)
	return next, nil
}

// rollback restores the pre-mutation snapshot, version included, after an
// audit failure. The entity lock is still held, so the compare-and-set cannot
// race another mutation.
func (e *Executor) rollback(
	ctx context.Context,
	previous *lifecycle.Snapshot,
	newVersion int,
	event string,
	auditErr error,
) error {
	if err := e.store.Restore(ctx, previous.Clone(), newVersion); err != nil {
		e.logger.Error(
			"state and audit diverged for %s/%s after event %s: audit append failed and rollback failed: %v",
			previous.Kind, previous.ID, event, stderrors.Join(auditErr, err),
		)
		return lifecycle.CloneError(
			lifecycle.ErrInconsistent,
			"audit append failed and compensating rollback failed",
			stderrors.Join(auditErr, err),
			map[string]any{"kind": previous.Kind, "entity_id": previous.ID, "event": event},
		)
	}
	e.logger.Warn("rolled back %s on %s/%s: audit append failed", event, previous.Kind, previous.ID)
	return auditErr
}
