package persist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/save"
)

// fieldHandler responds to field writes with a fixed status and body.
func fieldHandler(t *testing.T, status int, body any, seen *FieldWrite) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/records/activity-1/fields/title", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestHTTPBackend_WriteFieldOK(t *testing.T) {
	var seen FieldWrite
	srv := httptest.NewServer(fieldHandler(t, http.StatusOK, FieldWriteResult{OK: true, Version: 2}, &seen))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL + "/")
	err := b.WriteField(context.Background(), "activity-1", "title", "Clinic rehabilitation")

	require.NoError(t, err)
	assert.Equal(t, "Clinic rehabilitation", seen.Value)
}

func TestHTTPBackend_WriteFieldStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   ErrorBody
		want   save.Category
	}{
		{"validation", http.StatusUnprocessableEntity, ErrorBody{Error: "title must not be empty", Category: "validation"}, save.CategoryValidation},
		{"unauthorized", http.StatusUnauthorized, ErrorBody{Error: "not authenticated"}, save.CategoryUnauthorized},
		{"forbidden", http.StatusForbidden, ErrorBody{Error: "read-only field"}, save.CategoryForbidden},
		{"not found", http.StatusNotFound, ErrorBody{Error: "record not found"}, save.CategoryNotFound},
		{"conflict", http.StatusConflict, ErrorBody{Error: "code already in use"}, save.CategoryConflict},
		{"rate limited", http.StatusTooManyRequests, ErrorBody{Error: "slow down"}, save.CategoryRateLimited},
		{"server", http.StatusInternalServerError, ErrorBody{Error: "database locked"}, save.CategoryServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(fieldHandler(t, tt.status, tt.body, nil))
			defer srv.Close()

			err := NewHTTPBackend(srv.URL).WriteField(context.Background(), "activity-1", "title", "x")
			require.Error(t, err)

			se, ok := save.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, se.Category)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.body.Error, se.Message)
		})
	}
}

func TestHTTPBackend_PayloadRejection(t *testing.T) {
	srv := httptest.NewServer(fieldHandler(t, http.StatusOK, FieldWriteResult{OK: false, Error: "budget below committed amount"}, nil))
	defer srv.Close()

	err := NewHTTPBackend(srv.URL).WriteField(context.Background(), "activity-1", "title", -5)

	se, ok := save.As(err)
	require.True(t, ok)
	assert.Equal(t, save.CategoryValidation, se.Category)
	assert.Equal(t, "budget below committed amount", se.Message)
}

func TestHTTPBackend_PayloadRejectionCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		want     save.Category
	}{
		{"conflict", "conflict", save.CategoryConflict},
		{"forbidden", "forbidden", save.CategoryForbidden},
		{"retryable", "server", save.CategoryServer},
		{"unknown", "quota", save.CategoryValidation},
		{"canceled is local only", "canceled", save.CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := FieldWriteResult{OK: false, Error: "code already in use", Category: tt.category}
			srv := httptest.NewServer(fieldHandler(t, http.StatusOK, body, nil))
			defer srv.Close()

			err := NewHTTPBackend(srv.URL).WriteField(context.Background(), "activity-1", "title", "x")

			se, ok := save.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, se.Category)
			assert.Equal(t, http.StatusOK, se.StatusCode)
			assert.Equal(t, "code already in use", se.Message)
		})
	}
}

func TestHTTPBackend_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPBackend(url).WriteField(context.Background(), "activity-1", "title", "x")
	require.Error(t, err)
	assert.Equal(t, save.CategoryNetwork, save.CategoryOf(err))
}

func TestHTTPBackend_TokenAndRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorBody{Error: "not authenticated"})
			return
		}
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/records/activity%201", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(RecordBody{
			ID:     "activity 1",
			Fields: map[string]any{"title": "Schools", "total_budget": 1500.0},
		})
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL).ReadRecord(context.Background(), "activity 1")
	assert.Equal(t, save.CategoryUnauthorized, save.CategoryOf(err))

	fields, err := NewHTTPBackend(srv.URL, WithToken("secret")).ReadRecord(context.Background(), "activity 1")
	require.NoError(t, err)
	assert.Equal(t, "Schools", fields["title"])
	assert.Equal(t, 1500.0, fields["total_budget"])
}
