package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gitlab.com/tozd/go/errors"
)

//go:embed default.cue
var defaultCUE string

var (
	// ErrUnknownField is returned by Validate in strict mode for a field
	// without a constraint.
	ErrUnknownField = errors.Base("unknown field")

	// ErrReadOnly is returned by Validate for a read-only field.
	ErrReadOnly = errors.Base("read-only field")
)

// ValidationError reports a value that violates its field constraint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileError reports a schema that does not compile.
type CompileError struct {
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Schema holds compiled field constraints.
//
// Thread-safety: Validate serialises access to the CUE context, which is
// not safe for concurrent use.
type Schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	fields   cue.Value
	names    []string
	readonly map[string]bool
	strict   bool
}

// Compile builds a schema from CUE source. filename is used in error
// positions.
func Compile(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{
		ctx:      ctx,
		fields:   v.LookupPath(cue.ParsePath("fields")),
		readonly: map[string]bool{},
	}

	if strict := v.LookupPath(cue.ParsePath("strict")); strict.Exists() {
		b, err := strict.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.strict = b
	}

	if ro := v.LookupPath(cue.ParsePath("readonly")); ro.Exists() {
		var names []string
		if err := ro.Decode(&names); err != nil {
			return nil, formatCUEError(err)
		}
		for _, n := range names {
			s.readonly[n] = true
		}
	}

	if s.fields.Exists() {
		iter, err := s.fields.Fields(cue.Optional(true))
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s.names = append(s.names, iter.Selector().Unquoted())
		}
		sort.Strings(s.names)
	}
	return s, nil
}

// Default returns the built-in activity record schema.
func Default() *Schema {
	s, err := Compile(defaultCUE, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("schema: built-in schema does not compile: %v", err))
	}
	return s
}

// Load compiles the schema file at path.
func Load(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("read schema: %w", err)
	}
	return Compile(string(src), path)
}

// Fields returns the constrained field names, sorted.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.names...)
}

// ReadOnly reports whether clients may not write name.
func (s *Schema) ReadOnly(name string) bool {
	return s.readonly[name]
}

// Strict reports whether unconstrained fields are rejected.
func (s *Schema) Strict() bool {
	return s.strict
}

// Validate checks v against name's constraint. Fields without a
// constraint pass unless the schema is strict.
func (s *Schema) Validate(name string, v any) error {
	if s.readonly[name] {
		return errors.WithDetails(ErrReadOnly, "field", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	constraint := s.fields.LookupPath(cue.MakePath(cue.Str(name)))
	if !constraint.Exists() {
		if s.strict {
			return errors.WithDetails(ErrUnknownField, "field", name)
		}
		return nil
	}

	encoded := s.ctx.Encode(v)
	if err := encoded.Err(); err != nil {
		return &ValidationError{Field: name, Message: firstMessage(err)}
	}
	if err := constraint.Unify(encoded).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Field: name, Message: firstMessage(err)}
	}
	return nil
}

func firstMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	format, args := errs[0].Msg()
	return fmt.Sprintf(format, args...)
}

// formatCUEError keeps the first error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ce := &CompileError{Message: firstMessage(first)}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		ce.Pos = pos[0]
	}
	return ce
}
