package save

import (
	"fmt"
	"net/http"

	"gitlab.com/tozd/go/errors"
)

// Category identifies the class of a failed write.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryTimeout      Category = "timeout"
	CategoryRateLimited  Category = "rate_limited"
	CategoryServer       Category = "server"
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not_found"
	CategoryValidation   Category = "validation"
	CategoryConflict     Category = "conflict"
	CategoryCanceled     Category = "canceled"
)

var knownCategories = map[Category]bool{
	CategoryNetwork:      true,
	CategoryTimeout:      true,
	CategoryRateLimited:  true,
	CategoryServer:       true,
	CategoryUnauthorized: true,
	CategoryForbidden:    true,
	CategoryNotFound:     true,
	CategoryValidation:   true,
	CategoryConflict:     true,
	CategoryCanceled:     true,
}

// ParseCategory returns the category named s, or false.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, knownCategories[c]
}

// Retryable reports whether a write failing with c should be retried.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimited, CategoryServer:
		return true
	default:
		return false
	}
}

// Describe returns the human-readable classification shown next to a
// failed field.
func (c Category) Describe() string {
	switch c {
	case CategoryNetwork:
		return "Connection problem, retrying"
	case CategoryTimeout:
		return "The server took too long to respond"
	case CategoryRateLimited:
		return "Too many requests, slowing down"
	case CategoryServer:
		return "The server had a problem saving this field"
	case CategoryUnauthorized:
		return "Your session has expired, sign in again to save"
	case CategoryForbidden:
		return "You do not have permission to change this field"
	case CategoryNotFound:
		return "This record no longer exists"
	case CategoryValidation:
		return "The value was rejected"
	case CategoryConflict:
		return "The value conflicts with another record"
	case CategoryCanceled:
		return "The save was canceled"
	default:
		return "The field could not be saved"
	}
}

// Error is a classified write failure.
type Error struct {
	Category   Category `json:"category"`
	StatusCode int      `json:"status_code,omitempty"`
	Message    string   `json:"message"`
	Cause      error    `json:"-"`
}

// NewError creates an Error with the given category and message.
func NewError(c Category, message string) *Error {
	return &Error{Category: c, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure should be retried.
func (e *Error) Retryable() bool {
	return e.Category.Retryable()
}

// FromStatus classifies an HTTP-equivalent status code. hint is the
// category the server put in its error body, used when it is more specific
// than the status code alone.
func FromStatus(code int, message string, hint string) *Error {
	e := &Error{StatusCode: code, Message: message}
	if e.Message == "" {
		e.Message = http.StatusText(code)
	}

	switch {
	case code == http.StatusUnauthorized:
		e.Category = CategoryUnauthorized
	case code == http.StatusForbidden:
		e.Category = CategoryForbidden
	case code == http.StatusNotFound || code == http.StatusGone:
		e.Category = CategoryNotFound
	case code == http.StatusConflict:
		e.Category = CategoryConflict
	case code == http.StatusRequestTimeout:
		e.Category = CategoryTimeout
	case code == http.StatusTooManyRequests:
		e.Category = CategoryRateLimited
	case code >= 500:
		e.Category = CategoryServer
	case code >= 400:
		e.Category = CategoryValidation
	default:
		e.Category = CategoryServer
	}

	if c, ok := ParseCategory(hint); ok && c != CategoryCanceled && c.Retryable() == e.Category.Retryable() {
		e.Category = c
	}
	return e
}

// CategoryOf returns the category of err, classifying it if needed.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return Classify(err).Category
}

// IsCanceled reports whether err comes from an interrupted write.
func IsCanceled(err error) bool {
	return err != nil && Classify(err).Category == CategoryCanceled
}

// ResultFor maps a classified error to an outcome result.
func ResultFor(err *Error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case err.Retryable():
		return ResultRetryable
	default:
		return ResultTerminal
	}
}

// As is errors.As specialised to *Error.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
