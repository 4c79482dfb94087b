// Package apperr defines the error type shared by every service in the module.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies an Error for callers and transport boundaries.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnauthorized     Kind = "unauthorized"
	KindValidationFailed Kind = "validation_failed"
	KindStorage          Kind = "storage_error"
	KindAlreadyExists    Kind = "already_exists"
)

const postgresUniqueViolation = "23505"

// Error carries a kind, an operation-scoped code, an optional field and the cause.
type Error struct {
	kind  Kind
	code  string
	field string
	err   error
}

// New builds an Error whose code is "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

// Field names the input that caused a conflict or validation failure, if any.
func (e *Error) Field() string {
	return e.field
}

// WithField returns a copy of the error annotated with the offending field.
func (e *Error) WithField(field string) *Error {
	clone := *e
	clone.field = field
	return &clone
}

// KindOf reports the kind of the first Error in the chain, or KindStorage for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindStorage
}

// Is reports whether err carries the provided kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// FromStorage translates a persistence error into an Error.
// Missing rows become NotFound and unique violations become Conflict.
func FromStorage(operation, reason string, err error) *Error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return New(KindNotFound, operation, "not_found", err)
	case IsUniqueViolation(err):
		return New(KindConflict, operation, reason, err)
	default:
		return New(KindStorage, operation, reason, err)
	}
}

// IsUniqueViolation recognises unique constraint failures across the supported drivers.
// Handles opened with TranslateError report gorm.ErrDuplicatedKey; the driver checks cover
// handles opened without it.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "duplicate key value")
}
