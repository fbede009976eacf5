package errors

import (
	"errors"
	"fmt"
)

// Kind classifies every error the core returns to its callers.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindTransition          Kind = "transition"
	KindUnauthorizedActor   Kind = "unauthorized_actor"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindStaleState          Kind = "stale_state"
	KindOutOfRange          Kind = "out_of_range"
	KindWindowExpired       Kind = "window_expired"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindProcessing          Kind = "processing"
)

// Domain errors for the booking escrow core
var (
	ErrBookingNotFound      = errors.New("booking not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrLedgerEntryNotFound  = errors.New("ledger entry not found")
	ErrWalletAlreadyExists  = errors.New("wallet already exists")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrStaleState           = errors.New("booking was changed by a concurrent request, retry")
	ErrOutOfRange           = errors.New("check-in location is outside the allowed radius")
	ErrWindowExpired        = errors.New("outside the allowed time window")
	ErrLedgerInvariant      = errors.New("ledger invariant violated: booking already settled")
	ErrMissingActorIdentity = errors.New("actor identity is required")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// TransitionError reports an edge that is not defined for the booking's current
// status and the caller's role, including re-issued transitions.
type TransitionError struct {
	From   string
	Action string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s a booking in status '%s': %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s a booking in status '%s'", e.Action, e.From)
}

func NewTransitionError(from, action, reason string) error {
	return &TransitionError{
		From:   from,
		Action: action,
		Reason: reason,
	}
}

type UnauthorizedActorError struct {
	ActorID  string
	EntityID string
}

func (e *UnauthorizedActorError) Error() string {
	return fmt.Sprintf("actor '%s' is not a party to '%s'", e.ActorID, e.EntityID)
}

func NewUnauthorizedActorError(actorID, entityID string) error {
	return &UnauthorizedActorError{
		ActorID:  actorID,
		EntityID: entityID,
	}
}

// ProcessingError wraps unexpected infrastructure failures. Its message never
// includes the cause.
type ProcessingError struct {
	Operation string
	Cause     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error during '%s'", e.Operation)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func NewProcessingError(operation string, cause error) error {
	return &ProcessingError{
		Operation: operation,
		Cause:     cause,
	}
}

// KindOf classifies err. Anything that is not part of the taxonomy is a
// processing error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsProcessing(err):
		return KindProcessing
	case IsValidationError(err), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingActorIdentity):
		return KindValidation
	case IsTransitionError(err):
		return KindTransition
	case IsUnauthorized(err):
		return KindUnauthorizedActor
	case IsInsufficientBalance(err):
		return KindInsufficientBalance
	case IsStaleState(err):
		return KindStaleState
	case errors.Is(err, ErrOutOfRange):
		return KindOutOfRange
	case errors.Is(err, ErrWindowExpired):
		return KindWindowExpired
	case IsNotFound(err):
		return KindNotFound
	case IsAlreadyExists(err):
		return KindConflict
	default:
		return KindProcessing
	}
}

// IsExpected reports whether err is a recoverable outcome the caller should see
// as-is, as opposed to an infrastructure failure.
func IsExpected(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindProcessing
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrLedgerEntryNotFound)
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsTransitionError(err error) bool {
	var transitionErr *TransitionError
	return errors.As(err, &transitionErr)
}

func IsUnauthorized(err error) bool {
	var unauthorizedErr *UnauthorizedActorError
	return errors.As(err, &unauthorizedErr)
}

func IsStaleState(err error) bool {
	return errors.Is(err, ErrStaleState)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrWalletAlreadyExists)
}

func IsProcessing(err error) bool {
	var processingErr *ProcessingError
	return errors.As(err, &processingErr)
}
