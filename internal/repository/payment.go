package repository

import (
	"context"
	"time"

	"rental/internal/domain"
)

// PaymentEventRepository records which gateway events have been applied.
type PaymentEventRepository interface {
	// Claim atomically inserts a claim for key if none exists and returns
	// claimed=true. An unfinished claim taken before staleBefore is
	// abandoned and is taken over the same way. Otherwise the stored claim
	// is returned with claimed=false; a claim whose Result is empty is still
	// being processed.
	Claim(ctx context.Context, key, reservationID string, staleBefore time.Time) (existing *domain.ReconcileOutcome, claimed bool, err error)

	// Complete stores the final outcome of a claimed key.
	Complete(ctx context.Context, outcome domain.ReconcileOutcome) error

	// Release drops an unfinished claim so a redelivery can retry it.
	Release(ctx context.Context, key string) error
}
