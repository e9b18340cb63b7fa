package utils

import (
	"errors"
	"fmt"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindResourceConflict  ErrorKind = "RESOURCE_CONFLICT"
	KindFatal             ErrorKind = "FATAL"
)

// AppError is a business-rule rejection that callers can act on.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// set for INVALID_TRANSITION
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// Is matches on kind and message so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

var (
	ErrorRecordNotFound     = errors.New("record not found")
	ErrStagesNotConfigured  = &AppError{Kind: KindValidation, Message: "stages not configured"}
	ErrActorRequired        = &AppError{Kind: KindValidation, Message: "business id is required"}
	ErrAlreadyInspected     = &AppError{Kind: KindResourceConflict, Message: "return already inspected"}
	ErrVehicleNotAssigned   = &AppError{Kind: KindInvalidTransition, Message: "vehicle not assigned"}
	ErrStockLedgerImmutable = errors.New("stock transactions are append-only")
	ErrQCRecordImmutable    = errors.New("qc records are append-only")
)

func NewValidationError(format string, args ...any) error {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity string, id any) error {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %v", entity, id)}
}

func NewConflictError(format string, args ...any) error {
	return &AppError{Kind: KindResourceConflict, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransitionError names the attempted and allowed states.
func NewInvalidTransitionError(entity string, from string, to string, allowed []string) error {
	allowedText := "none"
	if len(allowed) > 0 {
		allowedText = strings.Join(allowed, ", ")
	}
	return &AppError{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("invalid %s transition %s -> %s (allowed: %s)", entity, from, to, allowedText),
		From:    from,
		To:      to,
		Allowed: allowed,
	}
}

// NewGuardError rejects a transition whose precondition does not hold.
func NewGuardError(entity string, from string, to string, reason string) error {
	return &AppError{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move %s from %s to %s: %s", entity, from, to, reason),
		From:    from,
		To:      to,
	}
}

// NewStateError rejects an operation because an entity is not in a required state.
func NewStateError(entity string, current string, required ...string) error {
	return &AppError{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("%s is %s, must be %s", entity, current, strings.Join(required, " or ")),
		From:    current,
		Allowed: required,
	}
}

// KindOf classifies err; unknown errors are FATAL.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return KindNotFound
	}
	if IsDuplicateKeyErr(err) {
		return KindResourceConflict
	}
	return KindFatal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsDuplicateKeyErr detects unique violations (mysql 1062, gorm translated errors, sqlite/postgres text).
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var me *mysqlDriver.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// NotFoundOr maps gorm's not-found to a NotFound error for entity and passes anything else through.
func NotFoundOr(err error, entity string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrorRecordNotFound) {
		return NewNotFoundError(entity, id)
	}
	return err
}
