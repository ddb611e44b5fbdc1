package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rental/internal/domain"
	"rental/internal/lock"
	"rental/internal/metrics"
	"rental/internal/repository"
)

const pollBatchSize = 100

// ContractDeps wires a ContractService.
// Regulatory, Notifications and Metrics are optional.
type ContractDeps struct {
	Contracts     repository.ContractRepository
	Reservations  repository.ReservationRepository
	Locker        lock.Locker
	Regulatory    RegulatoryClient
	Notifications *NotificationService
	Metrics       *metrics.Metrics
	Timeouts      Timeouts
	Log           zerolog.Logger
}

// ContractService owns the regulatory contract attached to a confirmed
// reservation. Contract writes are compare-and-swaps on Version; opening a
// contract also takes the asset lock because it writes the reservation.
type ContractService struct {
	contracts     repository.ContractRepository
	reservations  repository.ReservationRepository
	regulatory    RegulatoryClient
	notifications *NotificationService
	metrics       *metrics.Metrics
	guard         assetGuard
	timeouts      Timeouts
	log           zerolog.Logger
}

// NewContractService creates a new ContractService.
func NewContractService(d ContractDeps) *ContractService {
	return &ContractService{
		contracts:     d.Contracts,
		reservations:  d.Reservations,
		regulatory:    d.Regulatory,
		notifications: d.Notifications,
		metrics:       d.Metrics,
		guard:         assetGuard{locker: d.Locker, timeouts: d.Timeouts, metrics: d.Metrics},
		timeouts:      d.Timeouts,
		log:           d.Log.With().Str("component", "contracts").Logger(),
	}
}

// OpenContractRequest carries the agreement text.
type OpenContractRequest struct {
	TermsAndConditions string
	SpecialConditions  string
}

// Open drafts the contract for a CONFIRMED reservation and links it.
// A reservation has at most one contract.
func (s *ContractService) Open(ctx context.Context, reservationID string, req OpenContractRequest) (*domain.Contract, error) {
	if reservationID == "" {
		return nil, invalidInput("reservation id is required")
	}
	r, err := s.loadReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var opened *domain.Contract
	err = s.guard.withLock(ctx, assetKey(r.AssetID), func(ctx context.Context) error {
		r, err := s.loadReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != domain.ReservationStatusConfirmed {
			return &TransitionError{Entity: "reservation", ID: r.ID, From: string(r.Status), To: "open contract"}
		}
		if r.ContractID != "" {
			return fmt.Errorf("%w: %s", ErrContractExists, r.ContractID)
		}

		now := time.Now().UTC()
		c := &domain.Contract{
			ID:                 uuid.New().String(),
			ReservationID:      r.ID,
			ContractNumber:     contractNumber(now),
			CustomerID:         r.CustomerID,
			AssetID:            r.AssetID,
			ProviderID:         r.ProviderID,
			Status:             domain.ContractStatusDraft,
			StartsAt:           r.Interval.Start,
			EndsAt:             r.Interval.End,
			TermsAndConditions: req.TermsAndConditions,
			SpecialConditions:  req.SpecialConditions,
			Version:            1,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		storeCtx, cancel := s.timeouts.store(ctx)
		err = s.contracts.Create(storeCtx, c)
		cancel()
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%w: %w", ErrContractExists, err)
		}
		if err != nil {
			return storeErr(err)
		}

		linked := r.Clone()
		linked.ContractID = c.ID
		linked.UpdatedAt = now
		storeCtx, cancel = s.timeouts.store(ctx)
		err = s.reservations.UpdateIfVersion(storeCtx, linked, r.Version)
		cancel()
		if err != nil {
			s.abandon(ctx, c)
			return storeErr(err)
		}

		opened = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, opened)
	return opened, nil
}

// Sign records a party's signature. Re-signing overwrites the timestamp.
// The contract becomes SIGNED once both parties have signed. Only the
// customer signs as CUSTOMER and only the provider as PROVIDER, unless the
// actor is an admin.
func (s *ContractService) Sign(ctx context.Context, contractID string, party domain.Party, actor Actor) (*domain.Contract, error) {
	if party != domain.PartyCustomer && party != domain.PartyProvider {
		return nil, invalidInput("unknown party %q", party)
	}
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := authorizeSigner(c, party, actor); err != nil {
		return nil, err
	}
	if err := s.settleOrphan(ctx, c); err != nil {
		return nil, err
	}

	return s.mutate(ctx, contractID, func(c *domain.Contract) error {
		if c.Status != domain.ContractStatusDraft && c.Status != domain.ContractStatusSigned {
			return &TransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), To: "sign"}
		}
		now := time.Now().UTC()
		if party == domain.PartyCustomer {
			c.CustomerSignedAt = now
		} else {
			c.ProviderSignedAt = now
		}
		if c.Status == domain.ContractStatusDraft && c.FullySigned() {
			c.Status = domain.ContractStatusSigned
		}
		return nil
	})
}

// Submit sends a SIGNED contract to the regulator. If the regulator cannot
// be reached the contract stays SIGNED.
func (s *ContractService) Submit(ctx context.Context, contractID string) (*domain.Contract, error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransitionTo(domain.ContractStatusSubmitted) {
		return nil, &TransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), To: string(domain.ContractStatusSubmitted)}
	}
	if err := s.settleOrphan(ctx, c); err != nil {
		return nil, err
	}
	if s.regulatory == nil {
		return nil, externalErr("submit contract", errors.New("no regulatory client configured"))
	}

	extCtx, cancel := s.timeouts.external(ctx)
	ref, err := s.regulatory.Submit(extCtx, c)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("contract_id", c.ID).Msg("regulatory submission failed")
		return nil, externalErr("submit contract", err)
	}

	next := c.Clone()
	next.Status = domain.ContractStatusSubmitted
	next.ExternalRef = ref
	next.ExternalStatus = "submitted"
	next.SubmittedAt = time.Now().UTC()
	if err := s.store(ctx, next, c.Version); err != nil {
		s.log.Error().Err(err).
			Str("contract_id", c.ID).
			Str("external_ref", ref).
			Msg("contract submitted but not recorded")
		return nil, err
	}

	s.transitioned(ctx, next)
	return next, nil
}

// ReconcileExternalStatus applies a status reported by the regulator.
// Pending-like statuses change nothing. Re-applying a status the contract
// already reached, or has since moved past, is a no-op.
func (s *ContractService) ReconcileExternalStatus(ctx context.Context, contractID, externalStatus string) (*domain.Contract, error) {
	target, changes, err := mapExternalStatus(externalStatus)
	if err != nil {
		return nil, err
	}

	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !changes || reached(c.Status, target) {
		return c, nil
	}

	return s.mutate(ctx, contractID, func(c *domain.Contract) error {
		if reached(c.Status, target) {
			return nil
		}
		if !c.Status.CanTransitionTo(target) {
			return &TransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), To: string(target)}
		}
		c.Status = target
		c.ExternalStatus = strings.ToLower(strings.TrimSpace(externalStatus))
		return nil
	})
}

// PollResult summarizes one polling pass.
type PollResult struct {
	Checked int
	Updated int
	Failed  int
}

// PollSubmitted asks the regulator for the status of every SUBMITTED
// contract and applies the answers. Per-contract failures are logged and
// counted, not returned.
func (s *ContractService) PollSubmitted(ctx context.Context) (PollResult, error) {
	var res PollResult
	if s.regulatory == nil {
		return res, nil
	}

	storeCtx, cancel := s.timeouts.store(ctx)
	pending, err := s.contracts.ListByStatus(storeCtx, domain.ContractStatusSubmitted, pollBatchSize)
	cancel()
	if err != nil {
		return res, storeErr(err)
	}

	for _, c := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if c.ExternalRef == "" {
			continue
		}
		res.Checked++

		extCtx, cancel := s.timeouts.external(ctx)
		status, err := s.regulatory.GetStatus(extCtx, c.ExternalRef)
		cancel()
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).Str("contract_id", c.ID).Msg("regulatory status check failed")
			continue
		}

		updated, err := s.ReconcileExternalStatus(ctx, c.ID, status)
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).
				Str("contract_id", c.ID).
				Str("external_status", status).
				Msg("failed to apply regulatory status")
			continue
		}
		if updated.Status != c.Status {
			res.Updated++
		}
	}
	return res, nil
}

// Activate moves an APPROVED contract to ACTIVE.
func (s *ContractService) Activate(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.transition(ctx, contractID, domain.ContractStatusActive)
}

// Complete moves an ACTIVE contract to COMPLETED.
func (s *ContractService) Complete(ctx context.Context, contractID string) (*domain.Contract, error) {
	return s.transition(ctx, contractID, domain.ContractStatusCompleted)
}

// CancelForReservation cancels the reservation's contract unless it is
// already terminal.
func (s *ContractService) CancelForReservation(ctx context.Context, reservationID string) (*domain.Contract, error) {
	c, err := s.GetByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return c, nil
	}

	cancelled, err := s.transition(ctx, c.ID, domain.ContractStatusCancelled)
	if errors.Is(err, ErrConflict) {
		// One retry against the fresh version.
		cancelled, err = s.transition(ctx, c.ID, domain.ContractStatusCancelled)
	}
	return cancelled, err
}

// Get retrieves a contract by ID.
func (s *ContractService) Get(ctx context.Context, contractID string) (*domain.Contract, error) {
	if contractID == "" {
		return nil, invalidInput("contract id is required")
	}
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	c, err := s.contracts.GetByID(storeCtx, contractID)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

// GetByReservation retrieves the contract attached to a reservation.
func (s *ContractService) GetByReservation(ctx context.Context, reservationID string) (*domain.Contract, error) {
	if reservationID == "" {
		return nil, invalidInput("reservation id is required")
	}
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	c, err := s.contracts.GetByReservationID(storeCtx, reservationID)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

func (s *ContractService) activateForReservation(ctx context.Context, reservationID string) error {
	c, err := s.GetByReservation(ctx, reservationID)
	if err != nil || c.Status != domain.ContractStatusApproved {
		return err
	}
	_, err = s.Activate(ctx, c.ID)
	return err
}

func (s *ContractService) completeForReservation(ctx context.Context, reservationID string) error {
	c, err := s.GetByReservation(ctx, reservationID)
	if err != nil || c.Status != domain.ContractStatusActive {
		return err
	}
	_, err = s.Complete(ctx, c.ID)
	return err
}

func (s *ContractService) transition(ctx context.Context, contractID string, to domain.ContractStatus) (*domain.Contract, error) {
	return s.mutate(ctx, contractID, func(c *domain.Contract) error {
		if !c.Status.CanTransitionTo(to) {
			return &TransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), To: string(to)}
		}
		c.Status = to
		return nil
	})
}

// mutate applies fn to a fresh copy and stores it with a version check.
func (s *ContractService) mutate(ctx context.Context, contractID string, fn func(c *domain.Contract) error) (*domain.Contract, error) {
	cur, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.store(ctx, next, cur.Version); err != nil {
		return nil, err
	}
	if next.Status != cur.Status {
		s.transitioned(ctx, next)
	}
	return next, nil
}

func (s *ContractService) store(ctx context.Context, c *domain.Contract, expected int64) error {
	c.UpdatedAt = time.Now().UTC()
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()
	return storeErr(s.contracts.UpdateIfVersion(storeCtx, c, expected))
}

// abandon deletes a contract whose reservation link could not be written,
// so the reservation can still get one.
func (s *ContractService) abandon(ctx context.Context, c *domain.Contract) {
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()
	if err := s.contracts.DeleteIfVersion(storeCtx, c.ID, c.Version); err != nil {
		s.log.Error().Err(err).Str("contract_id", c.ID).Msg("failed to delete orphaned contract")
	}
}

// settleOrphan cancels a contract left open on a reservation that is no
// longer going ahead, and refuses the step the caller was about to take.
func (s *ContractService) settleOrphan(ctx context.Context, c *domain.Contract) error {
	r, err := s.loadReservation(ctx, c.ReservationID)
	if err != nil {
		return err
	}
	if r.Status != domain.ReservationStatusCancelled && r.Status != domain.ReservationStatusRejected {
		return nil
	}
	if !c.Status.IsTerminal() {
		if _, err := s.transition(ctx, c.ID, domain.ContractStatusCancelled); err != nil {
			s.log.Error().Err(err).Str("contract_id", c.ID).Msg("failed to cancel contract of closed reservation")
		}
	}
	return &TransitionError{Entity: "contract", ID: c.ID, From: "reservation " + string(r.Status), To: "continue"}
}

// reschedule moves an unsigned DRAFT contract to the reservation's new
// interval. Terminal contracts are left alone; anything else refuses.
func (s *ContractService) reschedule(ctx context.Context, contractID string, iv domain.Interval) (prev domain.Interval, changed bool, err error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return prev, false, err
	}
	if c.Status.IsTerminal() {
		return prev, false, nil
	}
	prev = domain.Interval{Start: c.StartsAt, End: c.EndsAt}
	_, err = s.mutate(ctx, contractID, func(c *domain.Contract) error {
		if c.Status != domain.ContractStatusDraft || !c.CustomerSignedAt.IsZero() || !c.ProviderSignedAt.IsZero() {
			return &TransitionError{Entity: "contract", ID: c.ID, From: string(c.Status), To: "reschedule signed contract"}
		}
		c.StartsAt, c.EndsAt = iv.Start, iv.End
		return nil
	})
	if err != nil {
		return prev, false, err
	}
	return prev, true, nil
}

// restoreDates undoes reschedule after the reservation write failed.
func (s *ContractService) restoreDates(ctx context.Context, contractID string, iv domain.Interval) {
	_, err := s.mutate(ctx, contractID, func(c *domain.Contract) error {
		c.StartsAt, c.EndsAt = iv.Start, iv.End
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("contract_id", contractID).Msg("failed to restore contract dates")
	}
}

func (s *ContractService) loadReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	r, err := s.reservations.GetByID(storeCtx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return r, nil
}

func (s *ContractService) transitioned(ctx context.Context, c *domain.Contract) {
	s.metrics.ContractTransition(string(c.Status))
	s.log.Info().
		Str("contract_id", c.ID).
		Str("reservation_id", c.ReservationID).
		Str("status", string(c.Status)).
		Int64("version", c.Version).
		Msg("contract transitioned")
	s.notifications.NotifyContract(ctx, c)
}

// reached reports whether a contract in status cur already went through target.
func reached(cur, target domain.ContractStatus) bool {
	if cur == target {
		return true
	}
	if target == domain.ContractStatusApproved {
		return cur == domain.ContractStatusActive || cur == domain.ContractStatusCompleted
	}
	return false
}

func authorizeSigner(c *domain.Contract, party domain.Party, actor Actor) error {
	if actor.Admin {
		return nil
	}
	switch {
	case actor.ID == "":
		return ErrForbidden
	case party == domain.PartyCustomer && actor.ID == c.CustomerID:
		return nil
	case party == domain.PartyProvider && actor.ID == c.ProviderID:
		return nil
	}
	return ErrForbidden
}

// contractNumber formats CTR-YYYYMMDD-XXXXXXXX.
func contractNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return "CTR-" + now.Format("20060102") + "-" + suffix
}

// mapExternalStatus translates a regulator status. changes is false for
// statuses that leave the contract as it is.
func mapExternalStatus(external string) (target domain.ContractStatus, changes bool, err error) {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "approved", "accepted":
		return domain.ContractStatusApproved, true, nil
	case "rejected", "declined":
		return domain.ContractStatusRejected, true, nil
	case "pending", "submitted", "processing":
		return "", false, nil
	}
	return "", false, invalidInput("unknown regulatory status %q", external)
}
