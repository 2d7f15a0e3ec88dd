package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrorKind classifies a failure so callers can react without parsing text.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindRevisionLimit ErrorKind = "revision_limit"
	KindPrecondition  ErrorKind = "precondition"
	KindPermission    ErrorKind = "permission"
	KindTransient     ErrorKind = "transient"
	KindInternal      ErrorKind = "internal"
)

// Sentinels for errors.Is. A *ServiceError matches the sentinel of its kind.
var (
	ErrValidation    = &ServiceError{Kind: KindValidation}
	ErrNotFound      = &ServiceError{Kind: KindNotFound}
	ErrConflict      = &ServiceError{Kind: KindConflict}
	ErrRevisionLimit = &ServiceError{Kind: KindRevisionLimit}
	ErrPrecondition  = &ServiceError{Kind: KindPrecondition}
	ErrPermission    = &ServiceError{Kind: KindPermission}
	ErrTransient     = &ServiceError{Kind: KindTransient}
)

type ServiceError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Retryable is true for store failures where repeating the whole operation is safe.
func (e *ServiceError) Retryable() bool { return e.Kind == KindTransient }

// KindOf returns the kind of the first ServiceError in err's chain.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

func newError(kind ErrorKind, op, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func validationError(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

func notFoundError(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

func conflictError(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, format, args...)
}

func permissionError(op, format string, args ...interface{}) error {
	return newError(KindPermission, op, format, args...)
}

func preconditionError(op, format string, args ...interface{}) error {
	return newError(KindPrecondition, op, format, args...)
}

// classifyStoreError wraps a persistence failure. Errors that are already
// classified pass through untouched so a Transaction callback can return them.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}

	kind := KindInternal
	msg := "store failure"
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		kind, msg = KindNotFound, "record not found"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		kind, msg = KindConflict, "unique constraint violated"
	case isTransient(err):
		kind, msg = KindTransient, "store temporarily unavailable"
	}
	return &ServiceError{Kind: kind, Op: op, Message: msg, Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "busy", "connection refused", "connection reset", "deadlock", "could not serialize", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
