package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rental/internal/domain"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 9. PAYMENT RECONCILIATION
// ──────────────────────────────────────────────

func succeeded(intentID, reservationID string) domain.PaymentEvent {
	return domain.PaymentEvent{
		GatewayIntentID: intentID,
		ReservationID:   reservationID,
		Outcome:         domain.PaymentOutcomeSucceeded,
		Amount:          decimal.RequireFromString("110.00"),
	}
}

func TestPayment_SucceededConfirmsReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)

	outcome, err := h.payments.Reconcile(context.Background(), succeeded("pi_1", r.ID))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultConfirmed {
		t.Errorf("expected CONFIRMED, got %s", outcome.Result)
	}
	if got := h.reservation(t, r.ID); got.Status != domain.ReservationStatusConfirmed {
		t.Errorf("expected reservation CONFIRMED, got %s", got.Status)
	}
}

func TestPayment_ReplayReturnsRecordedOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.createReservation(t, "car-1", 0, 24)
	ev := succeeded("pi_1", r.ID)

	first, err := h.payments.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	updates := h.reservations.UpdateCallCount

	for i := 0; i < 3; i++ {
		again, err := h.payments.Reconcile(ctx, ev)
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if again.Result != first.Result || !again.ProcessedAt.Equal(first.ProcessedAt) {
			t.Errorf("replay %d: expected %+v, got %+v", i, first, again)
		}
	}

	if h.reservations.UpdateCallCount != updates {
		t.Errorf("replays must not write the reservation again")
	}
	if got := h.reservation(t, r.ID); got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestPayment_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)
	ev := succeeded("pi_1", r.ID)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.payments.Reconcile(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, service.ErrReconcileInProgress) {
			t.Errorf("delivery %d: unexpected error %v", i, err)
		}
	}
	if got := h.reservation(t, r.ID); got.Version != 2 || got.Status != domain.ReservationStatusConfirmed {
		t.Errorf("expected a single confirmation, got %s v%d", got.Status, got.Version)
	}
}

func TestPayment_InFlightClaimIsRetryable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)
	ev := succeeded("pi_1", r.ID)
	if _, claimed, err := h.events.Claim(context.Background(), ev.IdempotencyKey(), r.ID, time.Time{}); err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}

	_, err := h.payments.Reconcile(context.Background(), ev)
	if !errors.Is(err, service.ErrReconcileInProgress) {
		t.Errorf("expected ErrReconcileInProgress, got %v", err)
	}
}

func TestPayment_AbandonedClaimIsTakenOver(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withTimeouts(service.Timeouts{
		Store:       20 * time.Millisecond,
		External:    20 * time.Millisecond,
		LockAcquire: 20 * time.Millisecond,
		Operation:   20 * time.Millisecond,
	}))
	r := h.createReservation(t, "car-1", 0, 24)
	ev := succeeded("pi_1", r.ID)

	// A delivery that claimed the event and never finished.
	if _, claimed, err := h.events.Claim(context.Background(), ev.IdempotencyKey(), r.ID, time.Time{}); err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}
	if _, err := h.payments.Reconcile(context.Background(), ev); !errors.Is(err, service.ErrReconcileInProgress) {
		t.Fatalf("fresh claim should be honoured, got %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	outcome, err := h.payments.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("redelivery after the lease: %v", err)
	}
	if outcome.Result != domain.ReconcileResultConfirmed {
		t.Errorf("expected CONFIRMED, got %s", outcome.Result)
	}
	if got := h.reservation(t, r.ID); got.Status != domain.ReservationStatusConfirmed {
		t.Errorf("expected reservation CONFIRMED, got %s", got.Status)
	}
}

func TestPayment_FailedRejectsWithReason(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)

	outcome, err := h.payments.Reconcile(context.Background(), domain.PaymentEvent{
		GatewayIntentID: "pi_1",
		ReservationID:   r.ID,
		Outcome:         domain.PaymentOutcomeFailed,
		FailureReason:   "card_declined",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRejected {
		t.Errorf("expected REJECTED, got %s", outcome.Result)
	}
	got := h.reservation(t, r.ID)
	if got.Status != domain.ReservationStatusRejected || got.RejectReason != "card_declined" {
		t.Errorf("expected REJECTED with reason, got %s %q", got.Status, got.RejectReason)
	}
}

func TestPayment_FailedForConfirmedIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.confirmedReservation(t, "car-1", 0, 24)

	outcome, err := h.payments.Reconcile(context.Background(), domain.PaymentEvent{
		GatewayIntentID: "pi_late",
		ReservationID:   r.ID,
		Outcome:         domain.PaymentOutcomeFailed,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultIgnored {
		t.Errorf("expected IGNORED, got %s", outcome.Result)
	}
	if got := h.reservation(t, r.ID); got.Status != domain.ReservationStatusConfirmed {
		t.Errorf("reservation should stay CONFIRMED, got %s", got.Status)
	}
}

func TestPayment_LostRaceFlagsRefund(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	winner := h.createReservation(t, "car-1", 0, 24)
	loser := h.createReservation(t, "car-1", 12, 36)

	if _, err := h.payments.Reconcile(ctx, succeeded("pi_win", winner.ID)); err != nil {
		t.Fatalf("winner: %v", err)
	}
	outcome, err := h.payments.Reconcile(ctx, succeeded("pi_lose", loser.ID))
	if err != nil {
		t.Fatalf("loser: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRefundFlagged {
		t.Fatalf("expected REFUND_FLAGGED, got %s", outcome.Result)
	}

	calls := h.refunds.Calls()
	if len(calls) != 1 || calls[0].IntentID != "pi_lose" || calls[0].ReservationID != loser.ID {
		t.Errorf("expected one refund for pi_lose, got %+v", calls)
	}
	if got := h.reservation(t, loser.ID); got.Status != domain.ReservationStatusRejected {
		t.Errorf("loser should be REJECTED, got %s", got.Status)
	}
}

func TestPayment_SucceededAfterCancelFlagsRefund(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.createReservation(t, "car-1", 0, 24)
	if _, err := h.reservationSvc.Cancel(ctx, r.ID, service.Actor{ID: "customer-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	outcome, err := h.payments.Reconcile(ctx, succeeded("pi_1", r.ID))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRefundFlagged {
		t.Errorf("expected REFUND_FLAGGED, got %s", outcome.Result)
	}
	if len(h.refunds.Calls()) != 1 {
		t.Errorf("expected one refund, got %d", len(h.refunds.Calls()))
	}
}

func TestPayment_SucceededAfterFailedSameIntentFlagsRefund(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.createReservation(t, "car-1", 0, 24)

	failed := succeeded("pi_1", r.ID)
	failed.Outcome = domain.PaymentOutcomeFailed
	failed.FailureReason = "card_declined"
	outcome, err := h.payments.Reconcile(ctx, failed)
	if err != nil || outcome.Result != domain.ReconcileResultRejected {
		t.Fatalf("failed attempt: %+v %v", outcome, err)
	}

	// The customer retries with another card on the same intent.
	outcome, err = h.payments.Reconcile(ctx, succeeded("pi_1", r.ID))
	if err != nil {
		t.Fatalf("succeeded attempt: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRefundFlagged {
		t.Errorf("expected REFUND_FLAGGED, got %s", outcome.Result)
	}
	calls := h.refunds.Calls()
	if len(calls) != 1 || calls[0].IntentID != "pi_1" {
		t.Errorf("expected one refund for pi_1, got %+v", calls)
	}
	if got := h.reservation(t, r.ID); got.Status != domain.ReservationStatusRejected {
		t.Errorf("reservation should stay REJECTED, got %s", got.Status)
	}

	// Both outcomes replay without further effects.
	if again, err := h.payments.Reconcile(ctx, succeeded("pi_1", r.ID)); err != nil || again.Result != domain.ReconcileResultRefundFlagged {
		t.Errorf("succeeded replay: %+v %v", again, err)
	}
	if again, err := h.payments.Reconcile(ctx, failed); err != nil || again.Result != domain.ReconcileResultRejected {
		t.Errorf("failed replay: %+v %v", again, err)
	}
	if len(h.refunds.Calls()) != 1 {
		t.Errorf("replays must not flag another refund")
	}
}

func TestPayment_AmountMismatchFlagsRefund(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.createReservation(t, "car-1", 0, 24)
	newEnd := at(72)

	// Stretched after the 110.00 intent was created.
	updated, err := h.reservationSvc.Update(ctx, r.ID, service.UpdateReservationRequest{Actor: asCustomer, End: &newEnd})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Price.Total.Equal(decimal.RequireFromString("330.00")) {
		t.Fatalf("expected total 330.00, got %s", updated.Price.Total)
	}

	outcome, err := h.payments.Reconcile(ctx, succeeded("pi_1", r.ID))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRefundFlagged {
		t.Errorf("expected REFUND_FLAGGED, got %s", outcome.Result)
	}
	if len(h.refunds.Calls()) != 1 {
		t.Errorf("expected one refund, got %d", len(h.refunds.Calls()))
	}
	if got := h.reservation(t, r.ID); got.Status != domain.ReservationStatusPending {
		t.Errorf("underpaid reservation should stay PENDING, got %s", got.Status)
	}

	full := succeeded("pi_2", r.ID)
	full.Amount = decimal.RequireFromString("330.00")
	outcome, err = h.payments.Reconcile(ctx, full)
	if err != nil || outcome.Result != domain.ReconcileResultConfirmed {
		t.Errorf("full payment should confirm: %+v %v", outcome, err)
	}
}

func TestPayment_RetryableFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.confirmedReservation(t, "car-1", 0, 24)
	loser := h.createReservation(t, "car-1", 0, 24)
	h.refunds.SetError(errors.New("gateway down"))

	_, err := h.payments.Reconcile(ctx, succeeded("pi_1", loser.ID))
	if !errors.Is(err, service.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}

	h.refunds.SetError(nil)
	outcome, err := h.payments.Reconcile(ctx, succeeded("pi_1", loser.ID))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome.Result != domain.ReconcileResultRefundFlagged {
		t.Errorf("expected REFUND_FLAGGED on redelivery, got %s", outcome.Result)
	}
}

func TestPayment_UnknownReservationIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	outcome, err := h.payments.Reconcile(context.Background(), succeeded("pi_1", "ghost"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Result != domain.ReconcileResultIgnored {
		t.Errorf("expected IGNORED, got %s", outcome.Result)
	}
}

func TestPayment_ReconcileValidatesEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	testCases := []domain.PaymentEvent{
		{ReservationID: "r", Outcome: domain.PaymentOutcomeSucceeded},
		{GatewayIntentID: "pi", Outcome: domain.PaymentOutcomeSucceeded},
		{GatewayIntentID: "pi", ReservationID: "r", Outcome: "REFUNDED"},
	}
	for i, ev := range testCases {
		if _, err := h.payments.Reconcile(context.Background(), ev); !errors.Is(err, service.ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

// ──────────────────────────────────────────────
// 10. PAYMENT INTENTS
// ──────────────────────────────────────────────

func TestPayment_CreateIntentChargesTotal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)

	intent, err := h.payments.CreateIntent(context.Background(), r.ID, "customer-1")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ReservationID != r.ID || !intent.Amount.Equal(r.Price.Total) || intent.Currency != "aed" {
		t.Errorf("unexpected intent %+v", intent)
	}
}

func TestPayment_CreateIntentGuards(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	pending := h.createReservation(t, "car-1", 0, 24)
	confirmed := h.confirmedReservation(t, "car-1", 24, 48)

	if _, err := h.payments.CreateIntent(ctx, pending.ID, "customer-2"); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.payments.CreateIntent(ctx, confirmed.ID, "customer-1"); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	h.gateway.CreateError = errors.New("stripe: 500")
	if _, err := h.payments.CreateIntent(ctx, pending.ID, "customer-1"); !errors.Is(err, service.ErrExternalUnavailable) {
		t.Errorf("expected ErrExternalUnavailable, got %v", err)
	}
}
