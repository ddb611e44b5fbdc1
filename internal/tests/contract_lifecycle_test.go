package tests

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"rental/internal/domain"
	"rental/internal/repository"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// 8. CONTRACT LIFECYCLE
// ──────────────────────────────────────────────

var contractNumberPattern = regexp.MustCompile(`^CTR-\d{8}-[0-9A-F]{8}$`)

func TestContract_OpenRequiresConfirmedReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.createReservation(t, "car-1", 0, 24)

	_, err := h.contractSvc.Open(context.Background(), r.ID, service.OpenContractRequest{})
	if !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestContract_OpenLinksReservationOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", 0, 24)

	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{TermsAndConditions: "terms"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.Status != domain.ContractStatusDraft {
		t.Errorf("expected DRAFT, got %s", c.Status)
	}
	if !contractNumberPattern.MatchString(c.ContractNumber) {
		t.Errorf("unexpected contract number %q", c.ContractNumber)
	}
	if !c.StartsAt.Equal(r.Interval.Start) || !c.EndsAt.Equal(r.Interval.End) {
		t.Errorf("contract dates should follow the reservation")
	}
	if got := h.reservation(t, r.ID); got.ContractID != c.ID {
		t.Errorf("reservation should point at %s, got %q", c.ID, got.ContractID)
	}

	_, err = h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{})
	if !errors.Is(err, service.ErrContractExists) {
		t.Errorf("expected ErrContractExists, got %v", err)
	}
}

func TestContract_SignsUntilBothParties(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", 0, 24)
	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	c, err = h.contractSvc.Sign(ctx, c.ID, domain.PartyCustomer, asCustomer)
	if err != nil {
		t.Fatalf("customer sign: %v", err)
	}
	if c.Status != domain.ContractStatusDraft {
		t.Errorf("one signature should leave DRAFT, got %s", c.Status)
	}

	c, err = h.contractSvc.Sign(ctx, c.ID, domain.PartyCustomer, asCustomer)
	if err != nil {
		t.Fatalf("re-sign should be allowed: %v", err)
	}

	c, err = h.contractSvc.Sign(ctx, c.ID, domain.PartyProvider, asProvider)
	if err != nil {
		t.Fatalf("provider sign: %v", err)
	}
	if c.Status != domain.ContractStatusSigned || !c.FullySigned() {
		t.Errorf("expected SIGNED with both signatures, got %s", c.Status)
	}

	if _, err := h.contractSvc.Sign(ctx, c.ID, "WITNESS", asCustomer); !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown party, got %v", err)
	}
}

func TestContract_SubmitRequiresSigned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", 0, 24)
	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := h.contractSvc.Submit(ctx, c.ID); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if h.regulatory.SubmitCallCount != 0 {
		t.Errorf("regulator must not be called for a draft")
	}
}

func TestContract_SubmitFailureLeavesSigned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, c := h.signedContract(t, 0, 24)
	h.regulatory.SubmitError = errors.New("connection refused")

	_, err := h.contractSvc.Submit(context.Background(), c.ID)
	if !errors.Is(err, service.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}

	stored, err := h.contractSvc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.ContractStatusSigned || stored.Version != c.Version {
		t.Errorf("contract should be untouched, got %s v%d", stored.Status, stored.Version)
	}
}

func TestContract_FullLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r, c := h.signedContract(t, 0, 24)

	c, err := h.contractSvc.Submit(ctx, c.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.Status != domain.ContractStatusSubmitted || c.ExternalRef == "" {
		t.Fatalf("expected SUBMITTED with a reference, got %s %q", c.Status, c.ExternalRef)
	}

	c, err = h.contractSvc.ReconcileExternalStatus(ctx, c.ID, "Approved")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if c.Status != domain.ContractStatusApproved {
		t.Fatalf("expected APPROVED, got %s", c.Status)
	}

	if _, err := h.reservationSvc.Start(ctx, r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c, _ = h.contractSvc.Get(ctx, c.ID); c.Status != domain.ContractStatusActive {
		t.Fatalf("start should activate the contract, got %s", c.Status)
	}

	if _, err := h.reservationSvc.Complete(ctx, r.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c, _ = h.contractSvc.Get(ctx, c.ID); c.Status != domain.ContractStatusCompleted {
		t.Errorf("complete should close the contract, got %s", c.Status)
	}
}

func TestContract_ReconcileExternalStatusMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		external string
		want     domain.ContractStatus
	}{
		{"approved", domain.ContractStatusApproved},
		{"accepted", domain.ContractStatusApproved},
		{"rejected", domain.ContractStatusRejected},
		{"DECLINED", domain.ContractStatusRejected},
		{"pending", domain.ContractStatusSubmitted},
		{"submitted", domain.ContractStatusSubmitted},
		{" processing ", domain.ContractStatusSubmitted},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.external, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			ctx := context.Background()
			_, c := h.signedContract(t, 0, 24)
			c, err := h.contractSvc.Submit(ctx, c.ID)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}

			got, err := h.contractSvc.ReconcileExternalStatus(ctx, c.ID, tc.external)
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if got.Status != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got.Status)
			}

			again, err := h.contractSvc.ReconcileExternalStatus(ctx, c.ID, tc.external)
			if err != nil {
				t.Fatalf("re-applying the same status must be a no-op: %v", err)
			}
			if again.Version != got.Version {
				t.Errorf("no-op should not bump version: %d -> %d", got.Version, again.Version)
			}
		})
	}
}

func TestContract_ReconcileUnknownStatusIsInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, c := h.signedContract(t, 0, 24)

	_, err := h.contractSvc.ReconcileExternalStatus(context.Background(), c.ID, "lost-in-mail")
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestContract_PollSubmittedAppliesRegulatorAnswers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, first := h.signedContract(t, 0, 24)
	first, err := h.contractSvc.Submit(ctx, first.ID)
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	_, second := h.signedContract(t, 24, 48)
	second, err = h.contractSvc.Submit(ctx, second.ID)
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	h.regulatory.SetStatus(first.ExternalRef, "approved")

	res, err := h.contractSvc.PollSubmitted(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Checked != 2 || res.Updated != 1 || res.Failed != 0 {
		t.Errorf("unexpected poll result %+v", res)
	}

	if c, _ := h.contractSvc.Get(ctx, first.ID); c.Status != domain.ContractStatusApproved {
		t.Errorf("first: expected APPROVED, got %s", c.Status)
	}
	if c, _ := h.contractSvc.Get(ctx, second.ID); c.Status != domain.ContractStatusSubmitted {
		t.Errorf("second: expected SUBMITTED, got %s", c.Status)
	}
}

func TestContract_CancelledWithReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r, c := h.signedContract(t, 0, 24)

	if _, err := h.reservationSvc.Cancel(ctx, r.ID, service.Actor{ID: "customer-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := h.contractSvc.GetByReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("get by reservation: %v", err)
	}
	if got.ID != c.ID || got.Status != domain.ContractStatusCancelled {
		t.Errorf("expected contract %s CANCELLED, got %s %s", c.ID, got.ID, got.Status)
	}
}

func TestContract_SignRequiresMatchingActor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", 0, 24)
	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := h.contractSvc.Sign(ctx, c.ID, domain.PartyProvider, asCustomer); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("customer signing for the provider: expected ErrForbidden, got %v", err)
	}
	if _, err := h.contractSvc.Sign(ctx, c.ID, domain.PartyCustomer, service.Actor{}); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("anonymous signature: expected ErrForbidden, got %v", err)
	}
	if _, err := h.contractSvc.Sign(ctx, c.ID, domain.PartyProvider, service.Actor{ID: "ops", Admin: true}); err != nil {
		t.Errorf("admin may sign for a party: %v", err)
	}

	stored, _ := h.contractSvc.Get(ctx, c.ID)
	if !stored.CustomerSignedAt.IsZero() {
		t.Errorf("refused signatures must not be recorded")
	}
}

func TestContract_ReconcileAfterActivationIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r, c := h.signedContract(t, 0, 24)
	c, err := h.contractSvc.Submit(ctx, c.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.contractSvc.ReconcileExternalStatus(ctx, c.ID, "approved"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.reservationSvc.Start(ctx, r.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	active, err := h.contractSvc.Get(ctx, c.ID)
	if err != nil || active.Status != domain.ContractStatusActive {
		t.Fatalf("expected ACTIVE, got %v %v", active, err)
	}

	for _, status := range []string{"approved", "accepted", "pending"} {
		got, err := h.contractSvc.ReconcileExternalStatus(ctx, c.ID, status)
		if err != nil {
			t.Fatalf("%s after activation should be a no-op: %v", status, err)
		}
		if got.Status != domain.ContractStatusActive || got.Version != active.Version {
			t.Errorf("%s: expected ACTIVE v%d, got %s v%d", status, active.Version, got.Status, got.Version)
		}
	}

	if _, err := h.contractSvc.ReconcileExternalStatus(ctx, c.ID, "rejected"); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("rejecting an active contract: expected ErrInvalidTransition, got %v", err)
	}
}

func TestContract_LeftoverOnCancelledReservationIsCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r, c := h.signedContract(t, 0, 24)

	// Cancel the reservation without the contract cascade, as when the
	// cascade's contract write failed.
	cur := h.reservation(t, r.ID)
	cancelled := cur.Clone()
	cancelled.Status = domain.ReservationStatusCancelled
	if err := h.reservations.UpdateIfVersion(ctx, cancelled, cur.Version); err != nil {
		t.Fatalf("cancel reservation: %v", err)
	}

	if _, err := h.contractSvc.Submit(ctx, c.ID); !errors.Is(err, service.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if h.regulatory.SubmitCallCount != 0 {
		t.Errorf("regulator must not see a contract for a cancelled reservation")
	}
	got, err := h.contractSvc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ContractStatusCancelled {
		t.Errorf("expected leftover contract CANCELLED, got %s", got.Status)
	}

	if _, err := h.contractSvc.Sign(ctx, c.ID, domain.PartyCustomer, asCustomer); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("signing a cancelled contract: expected ErrInvalidTransition, got %v", err)
	}
}

func TestContract_FailedLinkFreesReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", 0, 24)

	h.reservations.UpdateError = errors.New("connection reset")
	if _, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{}); err == nil {
		t.Fatalf("open should fail when the reservation link cannot be written")
	}
	h.reservations.UpdateError = nil

	if _, err := h.contractSvc.GetByReservation(ctx, r.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("orphaned contract should be gone, got %v", err)
	}
	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if got := h.reservation(t, r.ID); got.ContractID != c.ID {
		t.Errorf("reservation should point at %s, got %q", c.ID, got.ContractID)
	}
}
