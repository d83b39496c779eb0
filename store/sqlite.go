package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction so stored
// timestamps compare correctly as text. RFC3339Nano drops trailing zeros,
// which makes whole-second values sort after sub-second ones.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists snapshots in SQLite via database/sql.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore builds a store using the given DB and table name.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if table == "" {
		table = "entities"
	}
	return &SQLiteStore{db: db, table: table}
}

// Load reads one snapshot, returning (nil, nil) when absent.
func (s *SQLiteStore) Load(ctx context.Context, kind, id string) (*lifecycle.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	kind = lifecycle.NormalizeKind(kind)
	id = strings.TrimSpace(id)
	if kind == "" || id == "" {
		return nil, nil
	}

	q := fmt.Sprintf(
		`SELECT kind, id, state, version, hidden, search, payload, updated_at FROM %s WHERE kind = ? AND id = ?`,
		s.table,
	)
	snap, err := decodeSnapshotRow(s.db.QueryRowContext(ctx, q, kind, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// SaveIfVersion writes the snapshot using optimistic version compare.
func (s *SQLiteStore) SaveIfVersion(ctx context.Context, snap *lifecycle.Snapshot, expectedVersion int) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	cp, err := normalizeSnapshot(snap)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	payloadJSON, err := json.Marshal(cp.Payload)
	if err != nil {
		return 0, err
	}

	if expectedVersion == 0 {
		q := fmt.Sprintf(
			`INSERT OR IGNORE INTO %s (kind, id, state, version, hidden, search, payload, updated_at) VALUES (?, ?, ?, 1, ?, ?, ?, ?)`,
			s.table,
		)
		result, err := s.db.ExecContext(ctx, q,
			cp.Kind,
			cp.ID,
			cp.State,
			boolToInt(cp.Hidden),
			cp.Search,
			string(payloadJSON),
			cp.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return 0, err
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return 0, ErrVersionMismatch
		}
		return 1, nil
	}

	newVersion := expectedVersion + 1
	q := fmt.Sprintf(
		`UPDATE %s SET state=?, version=?, hidden=?, search=?, payload=?, updated_at=? WHERE kind=? AND id=? AND version=?`,
		s.table,
	)
	result, err := s.db.ExecContext(ctx, q,
		cp.State,
		newVersion,
		boolToInt(cp.Hidden),
		cp.Search,
		string(payloadJSON),
		cp.UpdatedAt.UTC().Format(timeLayout),
		cp.Kind,
		cp.ID,
		expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return 0, ErrVersionMismatch
	}
	return newVersion, nil
}

// Restore overwrites the stored snapshot with snap as-is, version included,
// when the stored version equals expectedVersion.
func (s *SQLiteStore) Restore(ctx context.Context, snap *lifecycle.Snapshot, expectedVersion int) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	cp, err := normalizeSnapshot(snap)
	if err != nil {
		return err
	}
	if cp.Version <= 0 || expectedVersion <= 0 {
		return errors.New("restore requires positive versions")
	}
	payloadJSON, err := json.Marshal(cp.Payload)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(
		`UPDATE %s SET state=?, version=?, hidden=?, search=?, payload=?, updated_at=? WHERE kind=? AND id=? AND version=?`,
		s.table,
	)
	result, err := s.db.ExecContext(ctx, q,
		cp.State,
		cp.Version,
		boolToInt(cp.Hidden),
		cp.Search,
		string(payloadJSON),
		cp.UpdatedAt.UTC().Format(timeLayout),
		cp.Kind,
		cp.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// Delete removes a snapshot. Absent entities are a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, kind, id string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE kind = ? AND id = ?`, s.table)
	_, err := s.db.ExecContext(ctx, q, lifecycle.NormalizeKind(kind), strings.TrimSpace(id))
	return err
}

// List returns matching snapshots for a kind plus the total match count
// before paging, ordered by id.
func (s *SQLiteStore) List(ctx context.Context, kind string, q ListQuery) ([]lifecycle.Snapshot, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, errors.New("sqlite store not configured")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, 0, err
	}

	where := []string{"kind = ?"}
	args := []any{lifecycle.NormalizeKind(kind)}
	if state := lifecycle.NormalizeState(q.State); state != "" {
		where = append(where, "state = ?")
		args = append(args, state)
	}
	if q.Hidden != nil {
		where = append(where, "hidden = ?")
		args = append(args, boolToInt(*q.Hidden))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		where = append(where, "lower(search) LIKE ?")
		args = append(args, "%"+strings.ToLower(search)+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.table, clause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT kind, id, state, version, hidden, search, payload, updated_at FROM %s WHERE %s ORDER BY id ASC`,
		s.table, clause,
	)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []lifecycle.Snapshot
	for rows.Next() {
		snap, err := decodeSnapshotRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *snap)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		state TEXT NOT NULL,
		version INTEGER NOT NULL,
		hidden INTEGER NOT NULL DEFAULT 0,
		search TEXT,
		payload TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`, s.table)
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

type sqlRowScanner interface {
	Scan(dest ...any) error
}

func decodeSnapshotRow(row sqlRowScanner) (*lifecycle.Snapshot, error) {
	var (
		snap        lifecycle.Snapshot
		hidden      int
		search      sql.NullString
		payloadJSON sql.NullString
		updatedAt   string
	)
	if err := row.Scan(
		&snap.Kind,
		&snap.ID,
		&snap.State,
		&snap.Version,
		&hidden,
		&search,
		&payloadJSON,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	snap.Hidden = hidden != 0
	snap.Search = search.String
	if strings.TrimSpace(payloadJSON.String) != "" {
		_ = json.Unmarshal([]byte(payloadJSON.String), &snap.Payload)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		snap.UpdatedAt = ts.UTC()
	}
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
