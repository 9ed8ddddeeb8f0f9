package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an identifier does not resolve to a stored row.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// RejectionReason is the machine-readable code of a business rejection.
type RejectionReason string

const (
	ReasonInvalidTransition RejectionReason = "invalid_transition"
	ReasonUnauthorized      RejectionReason = "unauthorized"
	ReasonInvalidAgentRole  RejectionReason = "invalid_agent_role"
	ReasonTerminalState     RejectionReason = "terminal_state"
)

// Rejection is a business refusal of a requested operation. It is never
// retried automatically.
type Rejection struct {
	Reason  RejectionReason
	Message string
}

// Reject builds a Rejection with a formatted message.
func Reject(reason RejectionReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Reason, r.Message)
}

// ConflictError signals that a concurrent write changed the prospect between
// read and write. The whole operation may be retried from a fresh read.
type ConflictError struct {
	ProspectID string
	Revision   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("prospect %s changed concurrently (expected revision %d)", e.ProspectID, e.Revision)
}

// Retryable reports that the failed call can be replayed.
func (e *ConflictError) Retryable() bool { return true }

// StorageError wraps a backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsTyped reports whether err already belongs to the taxonomy above and must
// reach the caller unchanged.
func IsTyped(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) || IsConflict(err) || IsStorage(err) || IsValidation(err) {
		return true
	}
	_, ok := AsRejection(err)
	return ok
}
