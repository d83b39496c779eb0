package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/store"
)

// UpdateRequest asks for a plain field update on one entity. Payload carries
// the fields to set; Hidden and Search are applied only when non-nil.
type UpdateRequest struct {
	Kind            string
	ID              string
	ExpectedVersion int
	Actor           lifecycle.Actor
	Hidden          *bool
	Search          *string
	Payload         map[string]any
	OriginAddress   string
}

// Update applies field changes under the same lock, version, and audit
// discipline as a transition. The state never changes on this path. The audit
// record carries the computed field diff; an update that changes nothing is a
// no-op and writes neither state nor audit.
func (e *Executor) Update(ctx context.Context, req UpdateRequest) (*lifecycle.Snapshot, error) {
	start := e.clock()
	snap, err := e.update(ctx, req)
	e.metrics.MutationExecuted(lifecycle.NormalizeKind(req.Kind), string(audit.ActionUpdate), outcome(err), e.clock().Sub(start))
	return snap, err
}

func (e *Executor) update(ctx context.Context, req UpdateRequest) (*lifecycle.Snapshot, error) {
	kind := lifecycle.NormalizeKind(req.Kind)
	id := strings.TrimSpace(req.ID)
	if kind == "" || id == "" {
		return nil, lifecycle.CloneError(lifecycle.ErrBadRequest, "update requires kind and id", nil, nil)
	}
	if req.ExpectedVersion <= 0 {
		return nil, lifecycle.CloneError(
			lifecycle.ErrBadRequest,
			"expected_version is required and must be positive",
			nil,
			map[string]any{"kind": kind, "entity_id": id},
		)
	}
	if !e.registry.HasKind(kind) {
		return nil, lifecycle.CloneError(
			lifecycle.ErrUnknownEvent,
			fmt.Sprintf("kind %q not configured", kind),
			nil,
			map[string]any{"kind": kind},
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

	next := current.Clone()
	diff := applyFieldUpdates(next, req)
	if len(diff) == 0 {
		return current, nil
	}
	next.UpdatedAt = e.clock()

	newVersion, err := e.store.SaveIfVersion(ctx, next, current.Version)
	if err != nil {
		if stderrors.Is(err, store.ErrVersionMismatch) {
			return nil, lifecycle.CloneError(lifecycle.ErrVersionConflict, "entity changed during update", err,
				map[string]any{"kind": kind, "entity_id": id})
		}
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to persist update", err,
			map[string]any{"kind": kind, "entity_id": id})
	}
	next.Version = newVersion

	auditStart := e.clock()
	_, auditErr := e.audit.Append(ctx, audit.Record{
		Kind:          kind,
		ObjectID:      id,
		Action:        audit.ActionUpdate,
		ActorID:       req.Actor.ID,
		ActorName:     req.Actor.Name,
		FromState:     current.State,
		ToState:       current.State,
		Diff:          diff,
		OriginAddress: req.OriginAddress,
	})
	e.metrics.AuditAppended(string(audit.ActionUpdate), e.clock().Sub(auditStart))
	if auditErr != nil {
		return nil, e.rollback(ctx, current, newVersion, "update", auditErr)
	}

	e.logger.Info("updated %d fields on %s/%s", len(diff), kind, id)
	return next, nil
}

// applyFieldUpdates mutates next in place and returns the old/new diff of
// fields that actually changed.
func applyFieldUpdates(next *lifecycle.Snapshot, req UpdateRequest) map[string]audit.FieldChange {
	diff := make(map[string]audit.FieldChange)
	if req.Hidden != nil && next.Hidden != *req.Hidden {
		diff["hidden"] = audit.FieldChange{Old: next.Hidden, New: *req.Hidden}
		next.Hidden = *req.Hidden
	}
	if req.Search != nil && next.Search != *req.Search {
		diff["search"] = audit.FieldChange{Old: next.Search, New: *req.Search}
		next.Search = *req.Search
	}
	if len(req.Payload) > 0 {
		if next.Payload == nil {
			next.Payload = make(map[string]any, len(req.Payload))
		}
		for field, value := range req.Payload {
			old, exists := next.Payload[field]
			if exists && reflect.DeepEqual(old, value) {
				continue
			}
			diff[field] = audit.FieldChange{Old: old, New: value}
			next.Payload[field] = value
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}
