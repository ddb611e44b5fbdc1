// Package memory implements the repository interfaces in process memory.
// Every getter returns a copy so callers cannot mutate stored records.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rental/internal/domain"
	"rental/internal/repository"
)

// AssetRepository is an in-memory catalog.
type AssetRepository struct {
	mu     sync.RWMutex
	assets map[string]*domain.Asset
}

// NewAssetRepository creates an empty catalog.
func NewAssetRepository() *AssetRepository {
	return &AssetRepository{assets: make(map[string]*domain.Asset)}
}

// Put adds or replaces an asset.
func (r *AssetRepository) Put(a *domain.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.assets[a.ID] = &cp
}

// GetByID retrieves an asset.
func (r *AssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ReservationRepository is an in-memory reservation store.
type ReservationRepository struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation
}

// NewReservationRepository creates an empty store.
func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{reservations: make(map[string]*domain.Reservation)}
}

// Create persists a new reservation with Version 1.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[res.ID]; ok {
		return repository.ErrDuplicate
	}
	res.Version = 1
	r.reservations[res.ID] = res.Clone()
	return nil
}

// GetByID retrieves a reservation.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return res.Clone(), nil
}

// UpdateIfVersion stores res if the stored version equals expected.
func (r *ReservationRepository) UpdateIfVersion(ctx context.Context, res *domain.Reservation, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.reservations[res.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrVersionConflict
	}
	res.Version = expected + 1
	r.reservations[res.ID] = res.Clone()
	return nil
}

// ListOverlapping returns reservations on the asset overlapping iv in one of statuses.
func (r *ReservationRepository) ListOverlapping(ctx context.Context, assetID string, iv domain.Interval, statuses []domain.ReservationStatus) ([]*domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want := make(map[domain.ReservationStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Reservation
	for _, res := range r.reservations {
		if res.AssetID != assetID || !want[res.Status] || !res.Interval.Overlaps(iv) {
			continue
		}
		out = append(out, res.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

// ListByCustomer returns a page of the customer's reservations, newest first.
func (r *ReservationRepository) ListByCustomer(ctx context.Context, customerID string, filter repository.ListFilter) ([]*domain.Reservation, int, error) {
	r.mu.RLock()
	var matched []*domain.Reservation
	for _, res := range r.reservations {
		if res.CustomerID != customerID {
			continue
		}
		if filter.Status != "" && res.Status != filter.Status {
			continue
		}
		matched = append(matched, res.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// ContractRepository is an in-memory contract store.
type ContractRepository struct {
	mu            sync.RWMutex
	contracts     map[string]*domain.Contract
	byReservation map[string]string
}

// NewContractRepository creates an empty store.
func NewContractRepository() *ContractRepository {
	return &ContractRepository{
		contracts:     make(map[string]*domain.Contract),
		byReservation: make(map[string]string),
	}
}

// Create persists a new contract; one per reservation.
func (r *ContractRepository) Create(ctx context.Context, c *domain.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byReservation[c.ReservationID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.contracts[c.ID]; ok {
		return repository.ErrDuplicate
	}
	c.Version = 1
	r.contracts[c.ID] = c.Clone()
	r.byReservation[c.ReservationID] = c.ID
	return nil
}

// GetByID retrieves a contract.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

// GetByReservationID retrieves the contract attached to a reservation.
func (r *ContractRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReservation[reservationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.contracts[id].Clone(), nil
}

// UpdateIfVersion stores c if the stored version equals expected.
func (r *ContractRepository) UpdateIfVersion(ctx context.Context, c *domain.Contract, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.contracts[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrVersionConflict
	}
	c.Version = expected + 1
	r.contracts[c.ID] = c.Clone()
	return nil
}

// DeleteIfVersion removes c if the stored version equals expected.
func (r *ContractRepository) DeleteIfVersion(ctx context.Context, id string, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.contracts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expected {
		return repository.ErrVersionConflict
	}
	delete(r.contracts, id)
	delete(r.byReservation, cur.ReservationID)
	return nil
}

// ListByStatus returns up to limit contracts in status, oldest first.
func (r *ContractRepository) ListByStatus(ctx context.Context, status domain.ContractStatus, limit int) ([]*domain.Contract, error) {
	r.mu.RLock()
	var out []*domain.Contract
	for _, c := range r.contracts {
		if c.Status == status {
			out = append(out, c.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PaymentEventRepository is an in-memory idempotency ledger.
type PaymentEventRepository struct {
	mu     sync.Mutex
	claims map[string]*paymentClaim
}

type paymentClaim struct {
	outcome   domain.ReconcileOutcome
	claimedAt time.Time
}

// NewPaymentEventRepository creates an empty ledger.
func NewPaymentEventRepository() *PaymentEventRepository {
	return &PaymentEventRepository{claims: make(map[string]*paymentClaim)}
}

// Claim inserts a claim for key if absent or abandoned.
func (r *PaymentEventRepository) Claim(ctx context.Context, key, reservationID string, staleBefore time.Time) (*domain.ReconcileOutcome, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.claims[key]
	if ok && (existing.outcome.Result != "" || !existing.claimedAt.Before(staleBefore)) {
		cp := existing.outcome
		return &cp, false, nil
	}
	r.claims[key] = &paymentClaim{
		outcome:   domain.ReconcileOutcome{IdempotencyKey: key, ReservationID: reservationID},
		claimedAt: time.Now().UTC(),
	}
	return nil, true, nil
}

// Complete stores the final outcome of a claimed key.
func (r *PaymentEventRepository) Complete(ctx context.Context, outcome domain.ReconcileOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[outcome.IdempotencyKey]
	if !ok {
		return repository.ErrNotFound
	}
	c.outcome = outcome
	return nil
}

// Release drops an unfinished claim.
func (r *PaymentEventRepository) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.claims[key]; ok && c.outcome.Result == "" {
		delete(r.claims, key)
	}
	return nil
}

var (
	_ repository.AssetRepository        = (*AssetRepository)(nil)
	_ repository.ReservationRepository  = (*ReservationRepository)(nil)
	_ repository.ContractRepository     = (*ContractRepository)(nil)
	_ repository.PaymentEventRepository = (*PaymentEventRepository)(nil)
)
