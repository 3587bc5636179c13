package testutil

import (
	"context"
	"sync"

	"github.com/roach88/fieldsync/internal/save"
)

// Write is one call observed by a ScriptedBackend.
type Write struct {
	RecordID string
	Field    string
	Value    any
	Err      error
}

// ScriptedBackend is an in-memory persist.Backend whose per-field results
// are scripted by the test.
//
// Each write to a field consumes the next scripted error for that field;
// nil (or an empty script) means success, which stores the value.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedBackend struct {
	mu      sync.Mutex
	script  map[string][]error
	writes  []Write
	records map[string]map[string]any
	readErr error
}

// NewScriptedBackend creates a backend with no records and no script.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		script:  make(map[string][]error),
		records: make(map[string]map[string]any),
	}
}

// Enqueue appends results for the next writes of fieldName.
func (b *ScriptedBackend) Enqueue(fieldName string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script[fieldName] = append(b.script[fieldName], errs...)
}

// Seed stores a record as if it had been loaded from the server.
func (b *ScriptedBackend) Seed(recordID string, fields map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := make(map[string]any, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	b.records[recordID] = rec
}

// FailReads makes every ReadRecord return err. nil restores reads.
func (b *ScriptedBackend) FailReads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// WriteField implements persist.Backend.
func (b *ScriptedBackend) WriteField(ctx context.Context, recordID, fieldName string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if q := b.script[fieldName]; len(q) > 0 {
		err = q[0]
		b.script[fieldName] = q[1:]
	}
	if err == nil {
		err = ctx.Err()
	}
	b.writes = append(b.writes, Write{RecordID: recordID, Field: fieldName, Value: value, Err: err})
	if err != nil {
		return err
	}

	rec, ok := b.records[recordID]
	if !ok {
		rec = make(map[string]any)
		b.records[recordID] = rec
	}
	rec[fieldName] = value
	return nil
}

// ReadRecord implements persist.Backend.
func (b *ScriptedBackend) ReadRecord(_ context.Context, recordID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	rec, ok := b.records[recordID]
	if !ok {
		return nil, save.FromStatus(404, "record not found", "")
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

// Writes returns every write observed, in order.
func (b *ScriptedBackend) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

// WritesFor returns the writes observed for one field.
func (b *ScriptedBackend) WritesFor(fieldName string) []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Write
	for _, w := range b.writes {
		if w.Field == fieldName {
			out = append(out, w)
		}
	}
	return out
}

// Value returns the stored value of a field.
func (b *ScriptedBackend) Value(recordID, fieldName string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.records[recordID][fieldName]
	return v, ok
}
