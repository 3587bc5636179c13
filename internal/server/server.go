package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/roach88/fieldsync/internal/persist"
	"github.com/roach88/fieldsync/internal/save"
	"github.com/roach88/fieldsync/internal/schema"
	"github.com/roach88/fieldsync/internal/store"
)

// maxRequestBody caps request bodies (1 MiB).
const maxRequestBody int64 = 1 << 20

// Records is the storage the server writes through. *store.Store
// implements it.
type Records interface {
	CreateRecord(ctx context.Context, id string, fields map[string]any) error
	WriteField(ctx context.Context, recordID, name string, v any) (int64, error)
	ReadRecord(ctx context.Context, id string) (store.Record, error)
}

// Validator checks a field value before it is stored. *schema.Schema
// implements it.
type Validator interface {
	Validate(name string, v any) error
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on /api routes.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithValidator replaces the built-in schema.
func WithValidator(v Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// Server serves records over HTTP.
type Server struct {
	records   Records
	validator Validator
	token     string
	logger    zerolog.Logger
	router    chi.Router
}

// New creates a server over records. Values are validated against the
// built-in schema unless WithValidator is given.
func New(records Records, opts ...Option) *Server {
	s := &Server{
		records: records,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = schema.Default()
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/records", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/", s.handleCreate)
		r.Get("/{recordID}", s.handleRead)
		r.Patch("/{recordID}/fields/{field}", s.handleWriteField)
	})
	return r
}

// requestLogger attaches a request-scoped logger to the context and logs
// one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Info()
		}
		event.Int("status", status).Dur("duration", time.Since(start)).Msg("request")
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, save.CategoryUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body persist.RecordBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, save.CategoryValidation, err.Error())
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeError(w, http.StatusBadRequest, save.CategoryValidation, "id is required")
		return
	}
	for name, v := range body.Fields {
		if err := s.validator.Validate(name, v); err != nil {
			s.writeValidation(w, r, err)
			return
		}
	}
	if body.Fields == nil {
		body.Fields = map[string]any{}
	}

	if err := s.records.CreateRecord(r.Context(), body.ID, body.Fields); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("record", body.ID).Int("fields", len(body.Fields)).Msg("record created")
	writeJSON(w, http.StatusCreated, persist.RecordBody{ID: body.ID})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.ReadRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, persist.RecordBody{ID: rec.ID, Fields: rec.Fields, Versions: rec.Versions})
}

func (s *Server) handleWriteField(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	name := chi.URLParam(r, "field")

	var body persist.FieldWrite
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, save.CategoryValidation, err.Error())
		return
	}
	if err := s.validator.Validate(name, body.Value); err != nil {
		s.writeValidation(w, r, err)
		return
	}

	version, err := s.records.WriteField(r.Context(), recordID, name, body.Value)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Debug().
		Str("record", recordID).
		Str("field", name).
		Int64("version", version).
		Msg("field written")
	writeJSON(w, http.StatusOK, persist.FieldWriteResult{OK: true, Version: version})
}

func (s *Server) writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	var ve *schema.ValidationError
	switch {
	case errors.Is(err, schema.ErrReadOnly):
		writeError(w, http.StatusForbidden, save.CategoryForbidden, err.Error())
	case errors.Is(err, schema.ErrUnknownField):
		writeError(w, http.StatusUnprocessableEntity, save.CategoryValidation, err.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusUnprocessableEntity, save.CategoryValidation, ve.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("validate field")
		writeError(w, http.StatusInternalServerError, save.CategoryServer, "validation failed")
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, save.CategoryNotFound, "record not found")
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("store")
	writeError(w, http.StatusInternalServerError, save.CategoryServer, "storage error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return errors.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, category save.Category, msg string) {
	writeJSON(w, status, persist.ErrorBody{Error: msg, Category: string(category)})
}
