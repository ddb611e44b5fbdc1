package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"rental/internal/domain"
)

// Catalog provides read-only access to assets and their rate cards.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*domain.Asset, error)
}

// PaymentGateway creates payment intents the client completes out of band.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, reservationID string, amount decimal.Decimal, currency string) (*domain.PaymentIntent, error)
}

// RefundFlagger signals that a captured payment must be returned.
type RefundFlagger interface {
	FlagRefund(ctx context.Context, gatewayIntentID, reservationID, reason string) error
}

// RegulatoryClient submits contracts to the regulator and reads back their status.
type RegulatoryClient interface {
	Submit(ctx context.Context, c *domain.Contract) (externalRef string, err error)
	GetStatus(ctx context.Context, externalRef string) (string, error)
}

// LoyaltyNotifier is told when a reservation completes. Calls are fire-and-forget.
type LoyaltyNotifier interface {
	NotifyCompleted(ctx context.Context, r *domain.Reservation) error
}

// Timeouts bounds every blocking call made by the services.
type Timeouts struct {
	Store       time.Duration // one persistence call
	External    time.Duration // one gateway or regulator call
	LockAcquire time.Duration // waiting for a per-asset lock
	Operation   time.Duration // a whole critical section once the lock is held
}

// DefaultTimeouts returns conservative timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Store:       3 * time.Second,
		External:    30 * time.Second,
		LockAcquire: 2 * time.Second,
		Operation:   10 * time.Second,
	}
}

func (t Timeouts) store(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.Store)
}

func (t Timeouts) external(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.External)
}

// claimLease is how long an unfinished payment claim is honoured. It covers
// two locked transitions, one refund call and the ledger writes, twice over.
func (t Timeouts) claimLease() time.Duration {
	return 2 * (2*(t.LockAcquire+t.Operation) + t.External + 4*t.Store)
}
