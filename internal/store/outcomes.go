package store

import (
	"context"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/field"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/value"
)

// AppendOutcome logs a save outcome. It satisfies debug.Sink.
func (s *Store) AppendOutcome(ctx context.Context, o save.Outcome) error {
	data, err := marshalValue(o.Value)
	if err != nil {
		return errors.Errorf("append outcome: %w", err)
	}
	hash, err := value.Hash(o.Value)
	if err != nil {
		return errors.Errorf("append outcome: %w", err)
	}

	var (
		category   string
		statusCode int
		message    string
	)
	if o.Err != nil {
		category = string(o.Err.Category)
		statusCode = o.Err.StatusCode
		message = o.Err.Message
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO save_outcomes
		(session_id, record_id, field, generation, attempt, result,
		 category, status_code, message, value, value_hash, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.SessionID,
		o.Key.RecordID,
		o.Key.Field,
		o.Generation,
		o.Attempt,
		o.Result.String(),
		category,
		statusCode,
		message,
		data,
		hash,
		formatTime(o.StartedAt),
		formatTime(o.FinishedAt),
	)
	if err != nil {
		return errors.Errorf("append outcome: %w", err)
	}
	return nil
}

// OutcomeFilter narrows ReadOutcomes. Zero values match everything.
type OutcomeFilter struct {
	RecordID     string
	Field        string
	FailuresOnly bool
	// Limit keeps only the most recent Limit outcomes.
	Limit int
}

// ReadOutcomes returns logged outcomes, oldest first.
func (s *Store) ReadOutcomes(ctx context.Context, f OutcomeFilter) ([]save.Outcome, error) {
	var (
		where []string
		args  []any
	)
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.Field != "" {
		where = append(where, "field = ?")
		args = append(args, f.Field)
	}
	if f.FailuresOnly {
		where = append(where, "result != ?")
		args = append(args, save.ResultSuccess.String())
	}

	query := `
		SELECT id, session_id, record_id, field, generation, attempt, result,
		       category, status_code, message, value, started_at, finished_at
		FROM save_outcomes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		query = "SELECT * FROM (" + query + " ORDER BY id DESC LIMIT ?) ORDER BY id ASC"
		args = append(args, f.Limit)
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Errorf("read outcomes: %w", err)
	}
	defer rows.Close()

	var out []save.Outcome
	for rows.Next() {
		var (
			id                      int64
			o                       save.Outcome
			recordID, name, result  string
			category, message, data string
			statusCode              int
			startedAt, finishedAt   string
		)
		if err := rows.Scan(&id, &o.SessionID, &recordID, &name, &o.Generation, &o.Attempt, &result,
			&category, &statusCode, &message, &data, &startedAt, &finishedAt); err != nil {
			return nil, errors.Errorf("read outcomes: %w", err)
		}

		o.Key = field.NewKey(recordID, name)
		r, ok := save.ParseResult(result)
		if !ok {
			return nil, errors.Errorf("read outcomes: unknown result %q", result)
		}
		o.Result = r
		if category != "" {
			c, _ := save.ParseCategory(category)
			o.Err = &save.Error{Category: c, StatusCode: statusCode, Message: message}
		}
		if o.Value, err = unmarshalValue(data); err != nil {
			return nil, errors.Errorf("read outcomes: %w", err)
		}
		if o.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if o.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("read outcomes: %w", err)
	}
	return out, nil
}

// FieldFailures counts failed outcomes for one field.
type FieldFailures struct {
	RecordID string
	Field    string
	Failures int
	// Values counts the distinct values among the failures: retries of
	// one value count once.
	Values int
	// LastCategory is the category of the most recent failure.
	LastCategory save.Category
}

// FailureCounts groups failed outcomes by field, most failures first.
func (s *Store) FailureCounts(ctx context.Context, recordID string) ([]FieldFailures, error) {
	query := `
		SELECT record_id, field, COUNT(*), COUNT(DISTINCT value_hash),
		       (SELECT o2.category FROM save_outcomes o2
		        WHERE o2.record_id = o.record_id AND o2.field = o.field AND o2.result != ?
		        ORDER BY o2.id DESC LIMIT 1)
		FROM save_outcomes o
		WHERE o.result != ?`
	args := []any{save.ResultSuccess.String(), save.ResultSuccess.String()}
	if recordID != "" {
		query += " AND o.record_id = ?"
		args = append(args, recordID)
	}
	query += `
		GROUP BY record_id, field
		ORDER BY COUNT(*) DESC, record_id ASC, field ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Errorf("failure counts: %w", err)
	}
	defer rows.Close()

	var out []FieldFailures
	for rows.Next() {
		var (
			ff       FieldFailures
			category string
		)
		if err := rows.Scan(&ff.RecordID, &ff.Field, &ff.Failures, &ff.Values, &category); err != nil {
			return nil, errors.Errorf("failure counts: %w", err)
		}
		ff.LastCategory = save.Category(category)
		out = append(out, ff)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("failure counts: %w", err)
	}
	return out, nil
}
