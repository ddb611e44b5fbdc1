package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rental/internal/domain"
	"rental/internal/metrics"
	"rental/internal/repository"
)

// PaymentDeps wires a PaymentReconciler.
type PaymentDeps struct {
	Events        repository.PaymentEventRepository
	Reservations  *ReservationService
	Gateway       PaymentGateway
	Refunds       RefundFlagger
	Currency      string
	Notifications *NotificationService
	Metrics       *metrics.Metrics
	Timeouts      Timeouts
	Log           zerolog.Logger
}

// PaymentReconciler applies gateway payment events to reservations exactly
// once per event, however often the gateway redelivers it.
type PaymentReconciler struct {
	events        repository.PaymentEventRepository
	reservations  *ReservationService
	gateway       PaymentGateway
	refunds       RefundFlagger
	currency      string
	notifications *NotificationService
	metrics       *metrics.Metrics
	timeouts      Timeouts
	log           zerolog.Logger
}

// NewPaymentReconciler creates a new PaymentReconciler.
func NewPaymentReconciler(d PaymentDeps) *PaymentReconciler {
	currency := d.Currency
	if currency == "" {
		currency = "aed"
	}
	return &PaymentReconciler{
		events:        d.Events,
		reservations:  d.Reservations,
		gateway:       d.Gateway,
		refunds:       d.Refunds,
		currency:      currency,
		notifications: d.Notifications,
		metrics:       d.Metrics,
		timeouts:      d.Timeouts,
		log:           d.Log.With().Str("component", "payments").Logger(),
	}
}

// Reconcile applies ev to its reservation. A redelivered event returns the
// outcome recorded the first time. While another delivery of the same event
// is still being applied it returns ErrReconcileInProgress.
func (p *PaymentReconciler) Reconcile(ctx context.Context, ev domain.PaymentEvent) (domain.ReconcileOutcome, error) {
	key := ev.IdempotencyKey()
	if key == "" {
		return domain.ReconcileOutcome{}, invalidInput("payment intent id is required")
	}
	if ev.ReservationID == "" {
		return domain.ReconcileOutcome{}, invalidInput("reservation id is required")
	}
	if ev.Outcome != domain.PaymentOutcomeSucceeded && ev.Outcome != domain.PaymentOutcomeFailed {
		return domain.ReconcileOutcome{}, invalidInput("unknown payment outcome %q", ev.Outcome)
	}

	storeCtx, cancel := p.timeouts.store(ctx)
	staleBefore := time.Now().UTC().Add(-p.timeouts.claimLease())
	existing, claimed, err := p.events.Claim(storeCtx, key, ev.ReservationID, staleBefore)
	cancel()
	if err != nil {
		return domain.ReconcileOutcome{}, storeErr(err)
	}
	if !claimed {
		if existing == nil || existing.Result == "" {
			return domain.ReconcileOutcome{}, ErrReconcileInProgress
		}
		p.log.Debug().Str("key", key).Str("result", string(existing.Result)).Msg("payment event replayed")
		return *existing, nil
	}

	// The claim is ours; finish even if the webhook caller goes away.
	ctx = context.WithoutCancel(ctx)

	outcome, err := p.apply(ctx, ev)
	if err != nil {
		p.release(ctx, key)
		p.metrics.PaymentReconciled("retry")
		return domain.ReconcileOutcome{}, err
	}
	outcome.IdempotencyKey = key
	outcome.ReservationID = ev.ReservationID
	outcome.ProcessedAt = time.Now().UTC()

	storeCtx, cancel = p.timeouts.store(ctx)
	err = p.events.Complete(storeCtx, outcome)
	cancel()
	if err != nil {
		p.release(ctx, key)
		return domain.ReconcileOutcome{}, fmt.Errorf("%w: record payment outcome: %w", ErrUnavailable, err)
	}

	p.metrics.PaymentReconciled(string(outcome.Result))
	p.log.Info().
		Str("key", key).
		Str("reservation_id", ev.ReservationID).
		Str("outcome", string(ev.Outcome)).
		Str("result", string(outcome.Result)).
		Msg("payment event reconciled")
	return outcome, nil
}

// apply returns an error only when a redelivery should try again.
func (p *PaymentReconciler) apply(ctx context.Context, ev domain.PaymentEvent) (domain.ReconcileOutcome, error) {
	if ev.Outcome == domain.PaymentOutcomeFailed {
		reason := ev.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		_, err := p.reservations.Reject(ctx, ev.ReservationID, reason)
		switch {
		case err == nil:
			return domain.ReconcileOutcome{Result: domain.ReconcileResultRejected, FailureReason: reason}, nil
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrInvalidTransition):
			return domain.ReconcileOutcome{Result: domain.ReconcileResultIgnored, FailureReason: reason}, nil
		}
		return domain.ReconcileOutcome{}, err
	}

	_, err := p.reservations.ConfirmPaid(ctx, ev.ReservationID, ev.Amount)
	switch {
	case err == nil:
		return domain.ReconcileOutcome{Result: domain.ReconcileResultConfirmed}, nil

	case errors.Is(err, ErrPaymentMismatch):
		// The reservation stays PENDING so a payment for its current total can still confirm it.
		reason := err.Error()
		if err := p.flagRefund(ctx, ev, reason); err != nil {
			return domain.ReconcileOutcome{}, err
		}
		return domain.ReconcileOutcome{Result: domain.ReconcileResultRefundFlagged, FailureReason: reason}, nil

	case errors.Is(err, repository.ErrNotFound):
		return domain.ReconcileOutcome{Result: domain.ReconcileResultIgnored, FailureReason: "reservation not found"}, nil

	case errors.Is(err, ErrAssetUnavailable):
		const reason = "asset unavailable at payment confirmation"
		if err := p.flagRefund(ctx, ev, reason); err != nil {
			return domain.ReconcileOutcome{}, err
		}
		if _, err := p.reservations.Reject(ctx, ev.ReservationID, reason); err != nil {
			p.log.Warn().Err(err).Str("reservation_id", ev.ReservationID).Msg("failed to reject refunded reservation")
		}
		return domain.ReconcileOutcome{Result: domain.ReconcileResultRefundFlagged, FailureReason: reason}, nil

	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		r, gerr := p.reservations.Get(ctx, ev.ReservationID)
		if gerr != nil {
			return domain.ReconcileOutcome{}, gerr
		}
		switch r.Status {
		case domain.ReservationStatusCancelled, domain.ReservationStatusRejected:
			reason := "reservation " + string(r.Status) + " before payment"
			if err := p.flagRefund(ctx, ev, reason); err != nil {
				return domain.ReconcileOutcome{}, err
			}
			return domain.ReconcileOutcome{Result: domain.ReconcileResultRefundFlagged, FailureReason: reason}, nil
		case domain.ReservationStatusPending:
			return domain.ReconcileOutcome{}, err
		}
		return domain.ReconcileOutcome{Result: domain.ReconcileResultIgnored}, nil
	}
	return domain.ReconcileOutcome{}, err
}

func (p *PaymentReconciler) flagRefund(ctx context.Context, ev domain.PaymentEvent, reason string) error {
	if p.refunds == nil {
		return externalErr("flag refund", errors.New("no refund flagger configured"))
	}
	extCtx, cancel := p.timeouts.external(ctx)
	defer cancel()
	if err := p.refunds.FlagRefund(extCtx, ev.GatewayIntentID, ev.ReservationID, reason); err != nil {
		return externalErr("flag refund", err)
	}

	p.log.Warn().
		Str("reservation_id", ev.ReservationID).
		Str("payment_intent_id", ev.GatewayIntentID).
		Str("reason", reason).
		Msg("refund flagged")
	if r, err := p.reservations.Get(ctx, ev.ReservationID); err == nil {
		p.notifications.NotifyRefundFlagged(ctx, r, ev.GatewayIntentID)
	}
	return nil
}

func (p *PaymentReconciler) release(ctx context.Context, key string) {
	storeCtx, cancel := p.timeouts.store(ctx)
	defer cancel()
	if err := p.events.Release(storeCtx, key); err != nil {
		p.log.Error().Err(err).Str("key", key).Msg("failed to release payment claim")
	}
}

// CreateIntent opens a gateway payment for a PENDING reservation's total.
// customerID, when set, must own the reservation.
func (p *PaymentReconciler) CreateIntent(ctx context.Context, reservationID, customerID string) (*domain.PaymentIntent, error) {
	r, err := p.reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if customerID != "" && customerID != r.CustomerID {
		return nil, ErrForbidden
	}
	if r.Status != domain.ReservationStatusPending {
		return nil, &TransitionError{Entity: "reservation", ID: r.ID, From: string(r.Status), To: "pay"}
	}
	if p.gateway == nil {
		return nil, externalErr("create payment intent", errors.New("no payment gateway configured"))
	}

	extCtx, cancel := p.timeouts.external(ctx)
	defer cancel()
	intent, err := p.gateway.CreateIntent(extCtx, r.ID, r.Price.Total, p.currency)
	if err != nil {
		return nil, externalErr("create payment intent", err)
	}
	return intent, nil
}
