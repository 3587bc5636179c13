package store

import (
	"context"
	"database/sql"
	"sort"

	"gitlab.com/tozd/go/errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.Base("record not found")

// Record is a stored record with per-field versions.
type Record struct {
	ID       string
	Fields   map[string]any
	Versions map[string]int64
}

// CreateRecord inserts a record (no-op if it exists) and writes the given
// fields, bumping their versions. Field names are written in sorted order.
func (s *Store) CreateRecord(ctx context.Context, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("create record: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, now); err != nil {
		return errors.Errorf("create record: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := upsertField(ctx, tx, id, name, fields[name], now); err != nil {
			return errors.Errorf("create record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Errorf("create record: %w", err)
	}
	return nil
}

// WriteField stores one field of an existing record and returns its new
// version.
func (s *Store) WriteField(ctx context.Context, recordID, name string, v any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Errorf("write field: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, recordID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.WithDetails(ErrNotFound, "record", recordID)
	}
	if err != nil {
		return 0, errors.Errorf("write field: %w", err)
	}

	version, err := upsertField(ctx, tx, recordID, name, v, formatTime(s.now()))
	if err != nil {
		return 0, errors.Errorf("write field: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Errorf("write field: %w", err)
	}
	return version, nil
}

func upsertField(ctx context.Context, tx *sql.Tx, recordID, name string, v any, now string) (int64, error) {
	data, err := marshalValue(v)
	if err != nil {
		return 0, err
	}
	var version int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO record_fields (record_id, name, value, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(record_id, name) DO UPDATE SET
			value = excluded.value,
			version = record_fields.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, recordID, name, data, now).Scan(&version)
	if err != nil {
		return 0, errors.Errorf("upsert %s/%s: %w", recordID, name, err)
	}
	return version, nil
}

// ReadRecord returns a record with all its fields.
func (s *Store) ReadRecord(ctx context.Context, id string) (Record, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.WithDetails(ErrNotFound, "record", id)
	}
	if err != nil {
		return Record{}, errors.Errorf("read record: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, version FROM record_fields
		WHERE record_id = ?
		ORDER BY name ASC
	`, id)
	if err != nil {
		return Record{}, errors.Errorf("read record: %w", err)
	}
	defer rows.Close()

	rec := Record{ID: id, Fields: map[string]any{}, Versions: map[string]int64{}}
	for rows.Next() {
		var (
			name, data string
			version    int64
		)
		if err := rows.Scan(&name, &data, &version); err != nil {
			return Record{}, errors.Errorf("read record: %w", err)
		}
		v, err := unmarshalValue(data)
		if err != nil {
			return Record{}, errors.Errorf("read record %s field %s: %w", id, name, err)
		}
		rec.Fields[name] = v
		rec.Versions[name] = version
	}
	if err := rows.Err(); err != nil {
		return Record{}, errors.Errorf("read record: %w", err)
	}
	return rec, nil
}
