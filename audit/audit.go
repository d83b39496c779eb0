// Package audit is the append-only mutation trail. Records are written once,
// never mutated or deleted, and retrieval is filtered, newest-first, and
// cursor-paginated for stable browsing while new records keep arriving.
package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// Action identifies the mutation class a record describes.
type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionUpdate     Action = "UPDATE"
	ActionTransition Action = "TRANSITION"
)

// FieldChange captures one field's before/after values.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Record is one append-only audit entry.
type Record struct {
	ID            string
	Kind          string
	ObjectID      string
	Action        Action
	Event         string
	ActorID       string
	ActorName     string
	FromState     string
	ToState       string
	Diff          map[string]FieldChange
	Justification string
	OriginAddress string
	OccurredAt    time.Time
}

// Filter restricts a query. Zero values match everything; From/To bound
// OccurredAt inclusively.
type Filter struct {
	Kind     string
	ObjectID string
	ActorID  string
	Event    string
	From     time.Time
	To       time.Time
	Cursor   string
	Limit    int
}

// Page is one query result slice, newest first. NextCursor is empty on the
// last page.
type Page struct {
	Records    []Record
	NextCursor string
}

// Position locates a record in the (occurred_at desc, id desc) order.
type Position struct {
	OccurredAt time.Time
	ID         string
}

// SelectQuery is the store-level query shape: decoded cursor plus a limit.
type SelectQuery struct {
	Filter
	After *Position
	Max   int
}

// Store is the storage collaborator contract. Implementations must return
// records ordered by occurred_at descending, then id descending, strictly
// older than query.After when set, at most query.Max entries.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Select(ctx context.Context, q SelectQuery) ([]Record, error)
}

const (
	// DefaultPageSize applies when the filter carries no limit.
	DefaultPageSize = 50
	// MaxPageSize bounds a single query regardless of the requested limit.
	MaxPageSize = 200
)

// Logger is the audit component: it validates and finalizes records on the
// way in and paginates them on the way out.
type Logger struct {
	store  Store
	clock  func() time.Time
	logger lifecycle.Logger
}

// Option customizes logger behavior.
type Option func(*Logger)

// WithClock injects a time source, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger lifecycle.Logger) Option {
	return func(l *Logger) {
		l.logger = lifecycle.NormalizeLogger(logger)
	}
}

// New constructs an audit logger over the given store.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: lifecycle.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Append finalizes and durably writes one record, assigning id and
// occurred-at when absent. A store rejection surfaces as an audit write
// failure; the caller decides whether that forces a rollback.
func (l *Logger) Append(ctx context.Context, rec Record) (Record, error) {
	if l == nil || l.store == nil {
		return Record{}, lifecycle.CloneError(lifecycle.ErrAuditWriteFailed, "audit store not configured", nil, nil)
	}
	rec.Kind = lifecycle.NormalizeKind(rec.Kind)
	rec.ObjectID = strings.TrimSpace(rec.ObjectID)
	rec.Event = lifecycle.NormalizeEvent(rec.Event)
	rec.FromState = lifecycle.NormalizeState(rec.FromState)
	rec.ToState = lifecycle.NormalizeState(rec.ToState)

	if rec.Kind == "" || rec.ObjectID == "" {
		return Record{}, lifecycle.CloneError(lifecycle.ErrBadRequest, "audit record requires kind and object id", nil, nil)
	}
	switch rec.Action {
	case ActionCreate, ActionUpdate, ActionTransition:
	default:
		return Record{}, lifecycle.CloneError(
			lifecycle.ErrBadRequest,
			fmt.Sprintf("unsupported audit action %q", rec.Action),
			nil,
			map[string]any{"kind": rec.Kind, "object_id": rec.ObjectID},
		)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = l.clock()
	}
	rec.OccurredAt = rec.OccurredAt.UTC()

	if err := l.store.Insert(ctx, rec); err != nil {
		return Record{}, lifecycle.CloneError(
			lifecycle.ErrAuditWriteFailed,
			"failed to append audit record",
			err,
			map[string]any{"kind": rec.Kind, "object_id": rec.ObjectID, "action": string(rec.Action)},
		)
	}
	return rec, nil
}

// Query returns one page of records, newest first, restartable via the
// returned cursor.
func (l *Logger) Query(ctx context.Context, filter Filter) (Page, error) {
	if l == nil || l.store == nil {
		return Page{}, lifecycle.CloneError(lifecycle.ErrStorageFailed, "audit store not configured", nil, nil)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := SelectQuery{Filter: filter, Max: limit + 1}
	q.Kind = lifecycle.NormalizeKind(filter.Kind)
	q.ObjectID = strings.TrimSpace(filter.ObjectID)
	q.ActorID = strings.TrimSpace(filter.ActorID)
	q.Event = lifecycle.NormalizeEvent(filter.Event)
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		pos, err := decodeCursor(cursor)
		if err != nil {
			return Page{}, lifecycle.CloneError(lifecycle.ErrBadRequest, "invalid audit cursor", err, nil)
		}
		q.After = &pos
	}

	records, err := l.store.Select(ctx, q)
	if err != nil {
		return Page{}, lifecycle.CloneError(lifecycle.ErrStorageFailed, "failed to query audit records", err, nil)
	}

	page := Page{}
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		page.NextCursor = encodeCursor(Position{OccurredAt: last.OccurredAt, ID: last.ID})
	}
	page.Records = records
	return page, nil
}

func encodeCursor(pos Position) string {
	raw := fmt.Sprintf("%d::%s", pos.OccurredAt.UTC().UnixNano(), pos.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (Position, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Position{}, err
	}
	parts := strings.SplitN(string(raw), "::", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Position{}, fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return Position{OccurredAt: time.Unix(0, nanos).UTC(), ID: parts[1]}, nil
}

// olderThan reports whether rec sits strictly after pos in the newest-first
// order, i.e. on a later page.
func olderThan(rec Record, pos Position) bool {
	if rec.OccurredAt.Before(pos.OccurredAt) {
		return true
	}
	if rec.OccurredAt.Equal(pos.OccurredAt) {
		return rec.ID < pos.ID
	}
	return false
}

func matches(rec Record, q SelectQuery) bool {
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if q.ObjectID != "" && rec.ObjectID != q.ObjectID {
		return false
	}
	if q.ActorID != "" && rec.ActorID != q.ActorID {
		return false
	}
	if q.Event != "" && rec.Event != q.Event {
		return false
	}
	if !q.From.IsZero() && rec.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && rec.OccurredAt.After(q.To) {
		return false
	}
	if q.After != nil && !olderThan(rec, *q.After) {
		return false
	}
	return true
}

func cloneRecord(rec Record) Record {
	cp := rec
	if len(rec.Diff) > 0 {
		cp.Diff = make(map[string]FieldChange, len(rec.Diff))
		for k, v := range rec.Diff {
			cp.Diff[k] = v
		}
	}
	return cp
}
