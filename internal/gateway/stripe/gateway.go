// Package stripe implements the payment gateway collaborators on Stripe:
// payment intents, signed webhook parsing and refunds.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"rental/internal/domain"
	"rental/internal/service"
)

const (
	metadataReservationID = "reservation_id"
	metadataRefundReason  = "refund_reason"

	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
)

// ErrIgnoredEvent is returned by ParseWebhook for event types the engine
// does not act on. Callers acknowledge them without reconciling.
var ErrIgnoredEvent = errors.New("stripe event type not handled")

// intentCreator is the subset of the Stripe client used for intents.
type intentCreator interface {
	Create(ctx context.Context, params *stripego.PaymentIntentCreateParams) (*stripego.PaymentIntent, error)
}

// refundCreator is the subset of the Stripe client used for refunds.
type refundCreator interface {
	Create(ctx context.Context, params *stripego.RefundCreateParams) (*stripego.Refund, error)
}

// Gateway talks to Stripe on behalf of the payment reconciler.
type Gateway struct {
	intents       intentCreator
	refunds       refundCreator
	webhookSecret string
	log           zerolog.Logger
}

// New creates a Gateway from a Stripe client.
func New(sc *stripego.Client, webhookSecret string, log zerolog.Logger) *Gateway {
	return &Gateway{
		intents:       sc.V1PaymentIntents,
		refunds:       sc.V1Refunds,
		webhookSecret: webhookSecret,
		log:           log.With().Str("component", "stripe").Logger(),
	}
}

// CreateIntent opens a payment intent for amount, in minor units of currency.
// The reservation ID travels in the intent metadata and comes back in webhooks.
func (g *Gateway) CreateIntent(ctx context.Context, reservationID string, amount decimal.Decimal, currency string) (*domain.PaymentIntent, error) {
	params := &stripego.PaymentIntentCreateParams{
		Amount:   stripego.Int64(toMinorUnits(amount)),
		Currency: stripego.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripego.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.AddMetadata(metadataReservationID, reservationID)
	params.SetIdempotencyKey("intent-" + reservationID + "-" + amount.StringFixed(2))

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	g.log.Info().
		Str("reservation_id", reservationID).
		Str("payment_intent_id", pi.ID).
		Int64("amount", pi.Amount).
		Msg("payment intent created")

	return &domain.PaymentIntent{
		IntentID:      pi.ID,
		ReservationID: reservationID,
		ClientSecret:  pi.ClientSecret,
		Amount:        amount,
		Currency:      strings.ToLower(currency),
	}, nil
}

// FlagRefund issues a full refund of the intent's charge.
func (g *Gateway) FlagRefund(ctx context.Context, intentID, reservationID, reason string) error {
	params := &stripego.RefundCreateParams{
		PaymentIntent: stripego.String(intentID),
	}
	params.AddMetadata(metadataReservationID, reservationID)
	params.AddMetadata(metadataRefundReason, reason)
	params.SetIdempotencyKey("refund-" + intentID)

	refund, err := g.refunds.Create(ctx, params)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}

	g.log.Warn().
		Str("reservation_id", reservationID).
		Str("payment_intent_id", intentID).
		Str("refund_id", refund.ID).
		Str("reason", reason).
		Msg("refund issued")
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and converts a payment
// intent event into a PaymentEvent.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %w", service.ErrInvalidSignature, err)
	}

	var outcome domain.PaymentOutcome
	switch event.Type {
	case eventIntentSucceeded:
		outcome = domain.PaymentOutcomeSucceeded
	case eventIntentFailed:
		outcome = domain.PaymentOutcomeFailed
	default:
		return domain.PaymentEvent{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: payment intent payload: %v", service.ErrInvalidInput, err)
	}
	reservationID := pi.Metadata[metadataReservationID]
	if pi.ID == "" || reservationID == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: payment intent %q has no reservation", service.ErrInvalidInput, pi.ID)
	}

	ev := domain.PaymentEvent{
		GatewayIntentID: pi.ID,
		ReservationID:   reservationID,
		Outcome:         outcome,
		Amount:          decimal.New(pi.Amount, -2),
	}
	if outcome == domain.PaymentOutcomeFailed {
		ev.FailureReason = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			ev.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return ev, nil
}

// toMinorUnits converts a two-decimal amount to cents.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

var (
	_ service.PaymentGateway = (*Gateway)(nil)
	_ service.RefundFlagger  = (*Gateway)(nil)
)
