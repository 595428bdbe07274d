// Package apperrors defines the error taxonomy shared by the gateway, the audit
// chain and the HTTP layer. Callers match with errors.Is against the sentinels;
// the typed carriers hold the details.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateKey           = errors.New("duplicate key")
	ErrNoActiveTenant         = errors.New("no active tenant")
	ErrChainBroken            = errors.New("audit chain broken")
	ErrChainContention        = errors.New("audit chain contention")
	ErrValidation             = errors.New("validation failed")
)

// NotFoundError names the entity and key that could not be resolved.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// TransitionError reports a failed precondition on the current state.
type TransitionError struct {
	Entity   string
	Key      string
	Current  string
	Required []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %q: state %s, requires one of %v", e.Entity, e.Key, e.Current, e.Required)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

func InvalidTransition(entity, key, current string, required ...string) error {
	return &TransitionError{Entity: entity, Key: key, Current: current, Required: required}
}

type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Key)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

func DuplicateKey(entity, key string) error {
	return &DuplicateKeyError{Entity: entity, Key: key}
}

// ChainBrokenError carries the first sequence id at which verification failed.
// At is zero when the scope was halted by an earlier verification.
type ChainBrokenError struct {
	Scope  string
	At     int64
	Reason string
}

func (e *ChainBrokenError) Error() string {
	if e.At == 0 {
		return fmt.Sprintf("audit chain for scope %s is halted: %s", e.Scope, e.Reason)
	}
	return fmt.Sprintf("audit chain for scope %s broken at sequence %d: %s", e.Scope, e.At, e.Reason)
}

func (e *ChainBrokenError) Is(target error) bool { return target == ErrChainBroken }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsRetryable reports whether err is transient contention on the audit chain.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChainContention)
}

// Code is a stable snake_case name for err's class, used in metric labels
// and HTTP error bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNoActiveTenant):
		return "no_active_tenant"
	case errors.Is(err, ErrChainBroken):
		return "chain_broken"
	case errors.Is(err, ErrChainContention):
		return "chain_contention"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
