package service

import (
	"context"
	"errors"
	"fmt"

	"rental/internal/repository"
)

var (
	// ErrInvalidInput is returned for malformed requests, before any side effect.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAssetUnavailable is returned when the interval conflicts with a blocking reservation.
	ErrAssetUnavailable = errors.New("asset unavailable for requested interval")

	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrExternalUnavailable is returned when the gateway or regulator call fails.
	// The owning record is left in its last consistent state.
	ErrExternalUnavailable = errors.New("external service unavailable")

	// ErrConflict is returned when a record changed between read and write.
	ErrConflict = errors.New("concurrent modification")

	// ErrUnavailable is returned when a store call or lock acquisition timed out.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrForbidden is returned when the actor does not own the reservation or
	// is not the party it signs for.
	ErrForbidden = errors.New("actor not allowed to act on this record")

	// ErrContractExists is returned when a reservation already has a contract.
	ErrContractExists = errors.New("contract already exists for reservation")

	// ErrReconcileInProgress is returned while another delivery of the same payment event is being applied.
	ErrReconcileInProgress = errors.New("payment event reconciliation in progress")

	// ErrPaymentMismatch is returned when a payment does not cover the reservation's current total.
	ErrPaymentMismatch = errors.New("payment amount does not match reservation total")

	// ErrInvalidSignature is returned when a webhook fails signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// TransitionError reports an illegal state machine edge.
type TransitionError struct {
	Entity string // reservation or contract
	ID     string
	From   string
	To     string // requested status, or the attempted action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot go from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr maps persistence failures onto the service taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// externalErr wraps a collaborator failure.
func externalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalUnavailable, op, err)
}
