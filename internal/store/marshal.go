package store

import (
	"bytes"
	"encoding/json"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/value"
)

// marshalValue renders a field value as canonical JSON TEXT.
func marshalValue(v any) (string, error) {
	data, err := value.Canonical(v)
	if err != nil {
		return "", errors.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT. Numbers decode as float64, the
// same shape a JSON client sees.
func unmarshalValue(data string) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
