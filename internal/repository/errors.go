package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Code classifies store failures into the portal's error taxonomy
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeUnexpected   Code = "unexpected"
)

// Postgres error code raised when a row-level security policy rejects
// the statement for the current role.
const pgInsufficientPrivilege = "42501"

// StoreError carries a machine-readable code alongside the wrapped cause
type StoreError struct {
	Code    Code
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NotFoundError builds a not_found error for a missing row
func NotFoundError(resource, id string) *StoreError {
	return &StoreError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
	}
}

// translate maps a driver error onto the taxonomy. Row absence becomes
// not_found, policy rejections become unauthorized, everything else is
// wrapped as unexpected with a generic message so internal detail does
// not leak to callers.
func translate(err error, message string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &StoreError{Code: CodeNotFound, Message: message, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege {
		return &StoreError{Code: CodeUnauthorized, Message: message, Err: err}
	}

	return &StoreError{Code: CodeUnexpected, Message: message, Err: err}
}

// IsNotFound reports whether err carries the not_found code
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// IsUnauthorized reports whether err carries the unauthorized code
func IsUnauthorized(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == CodeUnauthorized
}
