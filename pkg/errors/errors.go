// Package errors defines the sentinel errors shared by the query engine and
// the typed errors raised while parsing, planning and executing queries.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrParse               = errors.New("bad query")
	ErrConfiguration       = errors.New("configuration error")
	ErrUsage               = errors.New("query makes no sense")
	ErrReadOnly            = errors.New("result set is read-only")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSearcherUnavailable = errors.New("searcher unavailable")
	ErrTimeout             = errors.New("operation timed out")
	ErrInternal            = errors.New("internal error")
)

// ParseError reports malformed query text or structure. Position is a byte
// offset into the input, or -1 when the input was structured.
type ParseError struct {
	Fragment string
	Position int
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("%s: %s at position %d near %q", ErrParse, e.Reason, e.Position, e.Fragment)
	}
	if e.Fragment != "" {
		return fmt.Sprintf("%s: %s near %q", ErrParse, e.Reason, e.Fragment)
	}
	return fmt.Sprintf("%s: %s", ErrParse, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// NewParseError builds a ParseError for the text at pos.
func NewParseError(fragment string, pos int, format string, args ...any) *ParseError {
	return &ParseError{Fragment: fragment, Position: pos, Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a deployment defect: unknown field, duplicate
// registration or an index without a searcher.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrConfiguration, e.Reason, e.Subject)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError builds a ConfigurationError about subject.
func NewConfigurationError(subject, reason string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: reason}
}

// UsageError reports a structurally valid but meaningless query.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	if e.Reason == "" {
		return ErrUsage.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUsage, e.Reason)
}

func (e *UsageError) Unwrap() error { return ErrUsage }

// NewUsageError builds a UsageError.
func NewUsageError(reason string) *UsageError {
	return &UsageError{Reason: reason}
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Is and As re-export the standard library helpers so callers need a single
// errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrParse), errors.Is(err, ErrUsage), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrReadOnly):
		return http.StatusConflict
	case errors.Is(err, ErrSearcherUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
