package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction so stored
// timestamps compare correctly as text. RFC3339Nano drops trailing zeros,
// which makes whole-second values sort after sub-second ones.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists audit records in SQLite via database/sql.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore builds a store using the given DB and table name.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if table == "" {
		table = "audit_records"
	}
	return &SQLiteStore{db: db, table: table}
}

// Insert writes one record. The commit makes the record durable before
// Insert returns.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite audit store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	diffJSON, err := json.Marshal(rec.Diff)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (
		id, kind, object_id, action, event, actor_id, actor_name,
		from_state, to_state, diff, justification, origin_address, occurred_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		rec.ID,
		rec.Kind,
		rec.ObjectID,
		string(rec.Action),
		rec.Event,
		rec.ActorID,
		rec.ActorName,
		rec.FromState,
		rec.ToState,
		string(diffJSON),
		rec.Justification,
		rec.OriginAddress,
		rec.OccurredAt.UTC().Format(timeLayout),
	)
	return err
}

// Select returns matching records newest first.
func (s *SQLiteStore) Select(ctx context.Context, q SelectQuery) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite audit store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	addEq := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	addEq("kind", q.Kind)
	addEq("object_id", q.ObjectID)
	addEq("actor_id", q.ActorID)
	addEq("event", q.Event)
	if !q.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if !q.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, q.To.UTC().Format(timeLayout))
	}
	if q.After != nil {
		where = append(where, "(occurred_at < ? OR (occurred_at = ? AND id < ?))")
		ts := q.After.OccurredAt.UTC().Format(timeLayout)
		args = append(args, ts, ts, q.After.ID)
	}

	query := fmt.Sprintf(`SELECT
		id, kind, object_id, action, event, actor_id, actor_name,
		from_state, to_state, diff, justification, origin_address, occurred_at
		FROM %s`, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if q.Max > 0 {
		query += " LIMIT ?"
		args = append(args, q.Max)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := decodeAuditRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		object_id TEXT NOT NULL,
		action TEXT NOT NULL,
		event TEXT,
		actor_id TEXT,
		actor_name TEXT,
		from_state TEXT,
		to_state TEXT,
		diff TEXT,
		justification TEXT,
		origin_address TEXT,
		occurred_at TEXT NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	index := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_occurred_idx ON %s (occurred_at DESC, id DESC)`,
		s.table, s.table,
	)
	_, err := s.db.ExecContext(ctx, index)
	return err
}

type sqlRowScanner interface {
	Scan(dest ...any) error
}

func decodeAuditRow(row sqlRowScanner) (Record, error) {
	var (
		rec           Record
		action        string
		diffJSON      sql.NullString
		event         sql.NullString
		actorID       sql.NullString
		actorName     sql.NullString
		fromState     sql.NullString
		toState       sql.NullString
		justification sql.NullString
		origin        sql.NullString
		occurredAt    string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.ObjectID,
		&action,
		&event,
		&actorID,
		&actorName,
		&fromState,
		&toState,
		&diffJSON,
		&justification,
		&origin,
		&occurredAt,
	); err != nil {
		return Record{}, err
	}
	rec.Action = Action(action)
	rec.Event = event.String
	rec.ActorID = actorID.String
	rec.ActorName = actorName.String
	rec.FromState = fromState.String
	rec.ToState = toState.String
	rec.Justification = justification.String
	rec.OriginAddress = origin.String
	if strings.TrimSpace(diffJSON.String) != "" {
		_ = json.Unmarshal([]byte(diffJSON.String), &rec.Diff)
	}
	ts, err := time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return Record{}, fmt.Errorf("malformed occurred_at %q: %w", occurredAt, err)
	}
	rec.OccurredAt = ts.UTC()
	return rec, nil
}
