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

// CreateRequest asks for a new entity at the kind's initial state.
type CreateRequest struct {
	Kind          string
	ID            string
	Actor         lifecycle.Actor
	Hidden        bool
	Search        string
	Payload       map[string]any
	OriginAddress string
}

// Create places a new entity at the kind's initial state with version 1 and
// writes a CREATE audit record. An existing entity surfaces a version
// conflict; an audit failure deletes the snapshot again.
func (e *Executor) Create(ctx context.Context, req CreateRequest) (*lifecycle.Snapshot, error) {
	start := e.clock()
	snap, err := e.create(ctx, req)
	e.metrics.MutationExecuted(lifecycle.NormalizeKind(req.Kind), string(audit.ActionCreate), outcome(err), e.clock().Sub(start))
	return snap, err
}

func (e *Executor) create(ctx context.Context, req CreateRequest) (*lifecycle.Snapshot, error) {
	kind := lifecycle.NormalizeKind(req.Kind)
	id := strings.TrimSpace(req.ID)
	if kind == "" || id == "" {
		return nil, lifecycle.CloneError(lifecycle.ErrBadRequest, "create requires kind and id", nil, nil)
	}
	initial, err := e.registry.InitialState(kind)
	if err != nil {
		return nil, err
	}

	handle, err := e.locks.Acquire(kind, id, e.lockTTL)
	if err != nil {
		if lifecycle.ErrorCode(err) == lifecycle.ErrCodeBusy {
			e.metrics.LockContention(kind)
		}
		return nil, err
	}
	defer e.locks.Release(handle)

	snap := &lifecycle.Snapshot{
		Kind:      kind,
		ID:        id,
		State:     initial,
		Hidden:    req.Hidden,
		Search:    req.Search,
		Payload:   lifecycle.CopyMap(req.Payload),
		UpdatedAt: e.clock(),
	}
	version, err := e.store.SaveIfVersion(ctx, snap, 0)
	if err != nil {
		if stderrors.Is(err, store.ErrVersionMismatch) {
			return nil, lifecycle.CloneError(
				lifecycle.ErrVersionConflict,
				fmt.Sprintf("%s %s already exists", kind, id),
				err,
				map[string]any{"kind": kind, "entity_id": id},
			)
		}
		return nil, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to create entity", err,
			map[string]any{"kind": kind, "entity_id": id})
	}
	snap.Version = version

	auditStart := e.clock()
	_, auditErr := e.audit.Append(ctx, audit.Record{
		Kind:          kind,
		ObjectID:      id,
		Action:        audit.ActionCreate,
		ActorID:       req.Actor.ID,
		ActorName:     req.Actor.Name,
		ToState:       initial,
		OriginAddress: req.OriginAddress,
	})
	e.metrics.AuditAppended(string(audit.ActionCreate), e.clock().Sub(auditStart))
	if auditErr != nil {
		if err := e.store.Delete(ctx, kind, id); err != nil {
			e.logger.Error(
				"state and audit diverged for %s/%s: create audit failed and rollback failed: %v",
				kind, id, stderrors.Join(auditErr, err),
			)
			return nil, lifecycle.CloneError(
				lifecycle.ErrInconsistent,
				"create audit failed and compensating delete failed",
				stderrors.Join(auditErr, err),
				map[string]any{"kind": kind, "entity_id": id},
			)
		}
		e.logger.Warn("rolled back create of %s/%s: audit append failed", kind, id)
		return nil, auditErr
	}

	e.logger.Info("created %s/%s at state %s", kind, id, initial)
	return snap, nil
}
