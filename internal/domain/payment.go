package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentOutcome is the result reported by the payment gateway.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded PaymentOutcome = "SUCCEEDED"
	PaymentOutcomeFailed    PaymentOutcome = "FAILED"
)

// PaymentEvent is an inbound, signature-verified gateway callback.
type PaymentEvent struct {
	GatewayIntentID string
	ReservationID   string
	Outcome         PaymentOutcome
	FailureReason   string
	Amount          decimal.Decimal
}

// IdempotencyKey identifies the event across redeliveries. A gateway can
// report a failure and later a success for the same intent, so the outcome
// is part of the key.
func (e PaymentEvent) IdempotencyKey() string {
	if e.GatewayIntentID == "" {
		return ""
	}
	return e.GatewayIntentID + ":" + string(e.Outcome)
}

// ReconcileResult is the effect a payment event had on its reservation.
type ReconcileResult string

const (
	ReconcileResultConfirmed     ReconcileResult = "CONFIRMED"
	ReconcileResultRejected      ReconcileResult = "REJECTED"
	ReconcileResultRefundFlagged ReconcileResult = "REFUND_FLAGGED"
	ReconcileResultIgnored       ReconcileResult = "IGNORED"
)

// ReconcileOutcome is recorded once per idempotency key.
type ReconcileOutcome struct {
	IdempotencyKey string
	ReservationID  string
	Result         ReconcileResult
	FailureReason  string
	ProcessedAt    time.Time
}

// PaymentIntent is the gateway handle a client uses to complete payment.
type PaymentIntent struct {
	IntentID      string
	ReservationID string
	ClientSecret  string
	Amount        decimal.Decimal
	Currency      string
}
