package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/save"
)

// maxResponseBody caps how much of a response is read (1 MiB).
const maxResponseBody int64 = 1 << 20

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.client = c
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) HTTPOption {
	return func(b *HTTPBackend) {
		b.token = token
	}
}

// HTTPBackend is a Backend talking to the record endpoint over HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	token   string
}

// NewHTTPBackend creates a backend rooted at baseURL (e.g. http://localhost:8080).
func NewHTTPBackend(baseURL string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *HTTPBackend) recordURL(recordID string) string {
	return b.baseURL + "/api/records/" + url.PathEscape(recordID)
}

func (b *HTTPBackend) fieldURL(recordID, field string) string {
	return b.recordURL(recordID) + "/fields/" + url.PathEscape(field)
}

// WriteField sends one PATCH for the field.
func (b *HTTPBackend) WriteField(ctx context.Context, recordID, field string, value any) error {
	payload, err := json.Marshal(FieldWrite{Value: value})
	if err != nil {
		return &save.Error{Category: save.CategoryValidation, Message: "value is not JSON encodable", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, b.fieldURL(recordID, field), bytes.NewReader(payload))
	if err != nil {
		return errors.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	body, status, err := b.do(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return errorFromResponse(status, body)
	}

	var res FieldWriteResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &res); err != nil {
			return &save.Error{Category: save.CategoryServer, StatusCode: status, Message: "malformed response body", Cause: err}
		}
	} else {
		res.OK = true
	}
	if !res.OK {
		return rejection(status, res)
	}
	return nil
}

// rejection classifies a 2xx write answered with ok=false. The server's
// category is kept when it names one; otherwise the value was rejected.
func rejection(status int, res FieldWriteResult) *save.Error {
	msg := res.Error
	if msg == "" {
		msg = "value rejected"
	}
	c, ok := save.ParseCategory(res.Category)
	if !ok || c == save.CategoryCanceled {
		c = save.CategoryValidation
	}
	return &save.Error{Category: c, StatusCode: status, Message: msg}
}

// ReadRecord sends one GET for the record.
func (b *HTTPBackend) ReadRecord(ctx context.Context, recordID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.recordURL(recordID), nil)
	if err != nil {
		return nil, errors.Errorf("create request: %w", err)
	}
	b.authorize(req)

	body, status, err := b.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, errorFromResponse(status, body)
	}

	var rec RecordBody
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &save.Error{Category: save.CategoryServer, StatusCode: status, Message: "malformed record body", Cause: err}
	}
	return rec.Fields, nil
}

// CreateRecord seeds a record. Used by tooling, not by the engine.
func (b *HTTPBackend) CreateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	payload, err := json.Marshal(RecordBody{ID: recordID, Fields: fields})
	if err != nil {
		return errors.Errorf("encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/records", bytes.NewReader(payload))
	if err != nil {
		return errors.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	body, status, err := b.do(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return errorFromResponse(status, body)
	}
	return nil
}

func (b *HTTPBackend) authorize(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

// do executes req and returns the (bounded) body. Transport errors are
// returned wrapped so save.Classify can still see context errors.
func (b *HTTPBackend) do(req *http.Request) ([]byte, int, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, errors.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, errors.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func errorFromResponse(status int, body []byte) *save.Error {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(body))
	}
	return save.FromStatus(status, eb.Error, eb.Category)
}
