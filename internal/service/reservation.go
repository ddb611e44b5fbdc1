package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rental/internal/domain"
	"rental/internal/lock"
	"rental/internal/metrics"
	"rental/internal/pricing"
	"rental/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Actor is the caller performing a reservation change.
type Actor struct {
	ID    string
	Admin bool
}

// ReservationDeps wires a ReservationService.
// Contracts, Loyalty, Notifications and Metrics are optional.
type ReservationDeps struct {
	Reservations  repository.ReservationRepository
	Catalog       Catalog
	Locker        lock.Locker
	Pricing       *pricing.Calculator
	Surge         SurgePolicy
	Contracts     *ContractService
	Loyalty       LoyaltyNotifier
	Notifications *NotificationService
	Metrics       *metrics.Metrics
	Timeouts      Timeouts
	Log           zerolog.Logger
}

// ReservationService owns the reservation lifecycle. Every write happens
// under the per-asset lock and is a compare-and-swap on Version.
type ReservationService struct {
	reservations  repository.ReservationRepository
	catalog       Catalog
	availability  *AvailabilityChecker
	pricing       *pricing.Calculator
	surge         SurgePolicy
	contracts     *ContractService
	loyalty       LoyaltyNotifier
	notifications *NotificationService
	metrics       *metrics.Metrics
	guard         assetGuard
	timeouts      Timeouts
	log           zerolog.Logger
}

// NewReservationService creates a new ReservationService.
func NewReservationService(d ReservationDeps) *ReservationService {
	surge := d.Surge
	if surge == nil {
		surge = NoSurge()
	}
	calc := d.Pricing
	if calc == nil {
		calc = pricing.NewCalculator(pricing.DefaultRates())
	}
	return &ReservationService{
		reservations:  d.Reservations,
		catalog:       d.Catalog,
		availability:  NewAvailabilityChecker(d.Reservations, d.Timeouts, d.Metrics),
		pricing:       calc,
		surge:         surge,
		contracts:     d.Contracts,
		loyalty:       d.Loyalty,
		notifications: d.Notifications,
		metrics:       d.Metrics,
		guard:         assetGuard{locker: d.Locker, timeouts: d.Timeouts, metrics: d.Metrics},
		timeouts:      d.Timeouts,
		log:           d.Log.With().Str("component", "reservations").Logger(),
	}
}

// CreateReservationRequest contains the parameters for creating a reservation.
type CreateReservationRequest struct {
	CustomerID      string
	AssetID         string
	Start           time.Time
	End             time.Time
	RatePlan        domain.RatePlan
	WithDriver      bool
	PickupLocation  string
	ReturnLocation  string
	SpecialRequests string
}

// Create prices and persists a PENDING reservation. The asset must be free
// for the interval at the time of the call.
func (s *ReservationService) Create(ctx context.Context, req CreateReservationRequest) (*domain.Reservation, error) {
	if req.CustomerID == "" {
		return nil, invalidInput("customer id is required")
	}
	if req.AssetID == "" {
		return nil, invalidInput("asset id is required")
	}
	iv, err := domain.NewInterval(req.Start, req.End)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if !req.RatePlan.Valid() {
		return nil, invalidInput("unknown rate plan %q", req.RatePlan)
	}

	asset, err := s.getAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if !asset.Bookable() {
		return nil, fmt.Errorf("%w: asset %s is %s", ErrAssetUnavailable, asset.ID, asset.Status)
	}

	var created *domain.Reservation
	err = s.guard.withLock(ctx, assetKey(asset.ID), func(ctx context.Context) error {
		if err := s.ensureAvailable(ctx, asset.ID, iv, ""); err != nil {
			return err
		}

		price, err := s.price(ctx, asset, iv, req.RatePlan, req.WithDriver, "")
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		r := &domain.Reservation{
			ID:              uuid.New().String(),
			CustomerID:      req.CustomerID,
			AssetID:         asset.ID,
			ProviderID:      asset.ProviderID,
			Interval:        iv,
			RatePlan:        req.RatePlan,
			Price:           price,
			Status:          domain.ReservationStatusPending,
			WithDriver:      req.WithDriver,
			PickupLocation:  req.PickupLocation,
			ReturnLocation:  req.ReturnLocation,
			SpecialRequests: req.SpecialRequests,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		storeCtx, cancel := s.timeouts.store(ctx)
		defer cancel()
		if err := s.reservations.Create(storeCtx, r); err != nil {
			return storeErr(err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, created)
	return created, nil
}

// Confirm moves a PENDING reservation to CONFIRMED after re-checking that
// no other blocking reservation overlaps it.
func (s *ReservationService) Confirm(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.confirm(ctx, id, nil)
}

// ConfirmPaid confirms a reservation for a captured payment. paid must equal
// the total as it stands under the asset lock, otherwise ErrPaymentMismatch.
func (s *ReservationService) ConfirmPaid(ctx context.Context, id string, paid decimal.Decimal) (*domain.Reservation, error) {
	return s.confirm(ctx, id, func(r *domain.Reservation) error {
		if !paid.Equal(r.Price.Total) {
			return fmt.Errorf("%w: paid %s, total %s", ErrPaymentMismatch, paid.StringFixed(2), r.Price.Total.StringFixed(2))
		}
		return nil
	})
}

func (s *ReservationService) confirm(ctx context.Context, id string, check func(r *domain.Reservation) error) (*domain.Reservation, error) {
	return s.mutate(ctx, id, func(ctx context.Context, r *domain.Reservation) error {
		if err := checkTransition(r, domain.ReservationStatusConfirmed); err != nil {
			return err
		}
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		if err := s.ensureAvailable(ctx, r.AssetID, r.Interval, r.ID); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusConfirmed
		return nil
	})
}

// Reject moves a PENDING reservation to REJECTED.
func (s *ReservationService) Reject(ctx context.Context, id, reason string) (*domain.Reservation, error) {
	return s.mutate(ctx, id, func(_ context.Context, r *domain.Reservation) error {
		if err := checkTransition(r, domain.ReservationStatusRejected); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusRejected
		r.RejectReason = reason
		return nil
	})
}

// Cancel moves a PENDING or CONFIRMED reservation to CANCELLED and cancels
// its contract if one is still open.
func (s *ReservationService) Cancel(ctx context.Context, id string, actor Actor) (*domain.Reservation, error) {
	r, err := s.mutate(ctx, id, func(_ context.Context, r *domain.Reservation) error {
		if err := authorize(r, actor); err != nil {
			return err
		}
		if err := checkTransition(r, domain.ReservationStatusCancelled); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusCancelled
		r.CancelledBy = actor.ID
		r.CancelledAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.ContractID != "" && s.contracts != nil {
		if _, err := s.contracts.CancelForReservation(ctx, r.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to cancel contract")
		}
	}
	return r, nil
}

// UpdateReservationRequest contains the fields a customer may change.
// Nil fields are left as they are.
type UpdateReservationRequest struct {
	Actor           Actor
	Start           *time.Time
	End             *time.Time
	PickupLocation  *string
	ReturnLocation  *string
	SpecialRequests *string
}

// Update changes the interval or the free-text fields of a PENDING or
// CONFIRMED reservation. A new interval is re-checked and re-priced, and an
// attached contract follows it while still an unsigned draft.
func (s *ReservationService) Update(ctx context.Context, id string, req UpdateReservationRequest) (*domain.Reservation, error) {
	var (
		rescheduled string
		prevDates   domain.Interval
	)
	updated, err := s.mutate(ctx, id, func(ctx context.Context, r *domain.Reservation) error {
		if err := authorize(r, req.Actor); err != nil {
			return err
		}
		if !r.Status.Mutable() {
			return &TransitionError{Entity: "reservation", ID: r.ID, From: string(r.Status), To: "update"}
		}

		iv := r.Interval
		if req.Start != nil {
			iv.Start = *req.Start
		}
		if req.End != nil {
			iv.End = *req.End
		}
		if !iv.Start.Equal(r.Interval.Start) || !iv.End.Equal(r.Interval.End) {
			if err := iv.Validate(); err != nil {
				return invalidInput("%v", err)
			}
			if err := s.ensureAvailable(ctx, r.AssetID, iv, r.ID); err != nil {
				return err
			}
			asset, err := s.getAsset(ctx, r.AssetID)
			if err != nil {
				return err
			}
			price, err := s.price(ctx, asset, iv, r.RatePlan, r.WithDriver, r.ID)
			if err != nil {
				return err
			}
			if r.ContractID != "" && s.contracts != nil {
				prev, changed, err := s.contracts.reschedule(ctx, r.ContractID, iv)
				if err != nil {
					return err
				}
				if changed {
					rescheduled, prevDates = r.ContractID, prev
				}
			}
			r.Interval = iv
			r.Price = price
		}

		if req.PickupLocation != nil {
			r.PickupLocation = *req.PickupLocation
		}
		if req.ReturnLocation != nil {
			r.ReturnLocation = *req.ReturnLocation
		}
		if req.SpecialRequests != nil {
			r.SpecialRequests = *req.SpecialRequests
		}
		return nil
	})
	if err != nil && rescheduled != "" {
		s.contracts.restoreDates(context.WithoutCancel(ctx), rescheduled, prevDates)
	}
	return updated, err
}

// Start hands the vehicle over: CONFIRMED -> IN_PROGRESS. An approved
// contract is activated alongside.
func (s *ReservationService) Start(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := s.mutate(ctx, id, func(_ context.Context, r *domain.Reservation) error {
		if err := checkTransition(r, domain.ReservationStatusInProgress); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.ContractID != "" && s.contracts != nil {
		if err := s.contracts.activateForReservation(ctx, r.ID); err != nil {
			s.log.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to activate contract")
		}
	}
	return r, nil
}

// Complete closes a CONFIRMED or IN_PROGRESS reservation, completes its
// active contract and tells the loyalty program.
func (s *ReservationService) Complete(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := s.mutate(ctx, id, func(_ context.Context, r *domain.Reservation) error {
		if err := checkTransition(r, domain.ReservationStatusCompleted); err != nil {
			return err
		}
		r.Status = domain.ReservationStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.ContractID != "" && s.contracts != nil {
		if err := s.contracts.completeForReservation(ctx, r.ID); err != nil {
			s.log.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to complete contract")
		}
	}
	s.notifyLoyalty(ctx, r.Clone())
	return r, nil
}

// Get retrieves a reservation by ID.
func (s *ReservationService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	if id == "" {
		return nil, invalidInput("reservation id is required")
	}
	return s.load(ctx, id)
}

// ReservationPage is one page of a customer's reservations.
type ReservationPage struct {
	Items []*domain.Reservation
	Total int
	Page  int
	Limit int
}

// ListByCustomer returns the customer's reservations, newest first.
// page starts at 1; limit defaults to 20 and is capped at 100.
func (s *ReservationService) ListByCustomer(
	ctx context.Context,
	customerID string,
	status domain.ReservationStatus,
	page, limit int,
) (*ReservationPage, error) {
	if customerID == "" {
		return nil, invalidInput("customer id is required")
	}
	if status != "" && !knownStatus(status) {
		return nil, invalidInput("unknown status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	items, total, err := s.reservations.ListByCustomer(storeCtx, customerID, repository.ListFilter{
		Status: status,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &ReservationPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// QuoteRequest contains the parameters for a price preview.
type QuoteRequest struct {
	AssetID    string
	Start      time.Time
	End        time.Time
	RatePlan   domain.RatePlan
	WithDriver bool
}

// Quote is a price preview. Nothing is persisted or held.
type Quote struct {
	AssetID        string
	Interval       domain.Interval
	RatePlan       domain.RatePlan
	Available      bool
	Conflicts      int
	Price          domain.PriceBreakdown
	ProviderPayout decimal.Decimal
}

// Quote checks availability and prices the interval without reserving it.
func (s *ReservationService) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.AssetID == "" {
		return nil, invalidInput("asset id is required")
	}
	iv, err := domain.NewInterval(req.Start, req.End)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if !req.RatePlan.Valid() {
		return nil, invalidInput("unknown rate plan %q", req.RatePlan)
	}

	asset, err := s.getAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	avail, err := s.availability.IsAvailable(ctx, asset.ID, iv, "")
	if err != nil {
		return nil, err
	}
	price, err := s.price(ctx, asset, iv, req.RatePlan, req.WithDriver, "")
	if err != nil {
		return nil, err
	}

	return &Quote{
		AssetID:        asset.ID,
		Interval:       iv,
		RatePlan:       req.RatePlan,
		Available:      avail.Available && asset.Bookable(),
		Conflicts:      avail.Conflicts,
		Price:          price,
		ProviderPayout: s.pricing.ProviderPayout(price),
	}, nil
}

// mutate reads the reservation, takes its asset lock, re-reads it and
// stores whatever fn changed with a version check.
func (s *ReservationService) mutate(
	ctx context.Context,
	id string,
	fn func(ctx context.Context, r *domain.Reservation) error,
) (*domain.Reservation, error) {
	if id == "" {
		return nil, invalidInput("reservation id is required")
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *domain.Reservation
	err = s.guard.withLock(ctx, assetKey(r.AssetID), func(ctx context.Context) error {
		cur, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(ctx, next); err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()

		storeCtx, cancel := s.timeouts.store(ctx)
		defer cancel()
		if err := s.reservations.UpdateIfVersion(storeCtx, next, cur.Version); err != nil {
			return storeErr(err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != r.Status {
		s.transitioned(ctx, updated)
	}
	return updated, nil
}

func (s *ReservationService) load(ctx context.Context, id string) (*domain.Reservation, error) {
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	r, err := s.reservations.GetByID(storeCtx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return r, nil
}

func (s *ReservationService) getAsset(ctx context.Context, id string) (*domain.Asset, error) {
	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	asset, err := s.catalog.GetByID(storeCtx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return asset, nil
}

func (s *ReservationService) ensureAvailable(ctx context.Context, assetID string, iv domain.Interval, excludeID string) error {
	avail, err := s.availability.IsAvailable(ctx, assetID, iv, excludeID)
	if err != nil {
		return err
	}
	if !avail.Available {
		return fmt.Errorf("%w: %d conflicting reservation(s)", ErrAssetUnavailable, avail.Conflicts)
	}
	return nil
}

func (s *ReservationService) price(
	ctx context.Context,
	asset *domain.Asset,
	iv domain.Interval,
	plan domain.RatePlan,
	withDriver bool,
	excludeID string,
) (domain.PriceBreakdown, error) {
	surge := s.surge.Multiplier(ctx, asset.ID, iv, excludeID)
	price, err := s.pricing.Price(asset.RateCard, iv, plan, surge, withDriver)
	if err != nil {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return price, nil
}

func (s *ReservationService) transitioned(ctx context.Context, r *domain.Reservation) {
	s.metrics.ReservationTransition(string(r.Status))
	s.log.Info().
		Str("reservation_id", r.ID).
		Str("asset_id", r.AssetID).
		Str("status", string(r.Status)).
		Int64("version", r.Version).
		Msg("reservation transitioned")
	s.notifications.NotifyReservation(ctx, r)
}

// notifyLoyalty never blocks or fails the completion.
func (s *ReservationService) notifyLoyalty(ctx context.Context, r *domain.Reservation) {
	if s.loyalty == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := s.timeouts.external(detached)
		defer cancel()
		if err := s.loyalty.NotifyCompleted(ctx, r); err != nil {
			s.log.Warn().Err(err).Str("reservation_id", r.ID).Msg("loyalty notification failed")
		}
	}()
}

func checkTransition(r *domain.Reservation, to domain.ReservationStatus) error {
	if !r.Status.CanTransitionTo(to) {
		return &TransitionError{Entity: "reservation", ID: r.ID, From: string(r.Status), To: string(to)}
	}
	return nil
}

func authorize(r *domain.Reservation, actor Actor) error {
	if actor.Admin || (actor.ID != "" && actor.ID == r.CustomerID) {
		return nil
	}
	return ErrForbidden
}

func knownStatus(s domain.ReservationStatus) bool {
	switch s {
	case domain.ReservationStatusPending, domain.ReservationStatusConfirmed,
		domain.ReservationStatusInProgress, domain.ReservationStatusCompleted,
		domain.ReservationStatusCancelled, domain.ReservationStatusRejected:
		return true
	}
	return false
}
