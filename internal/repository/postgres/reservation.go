package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"rental/internal/domain"
	"rental/internal/repository"
)

const reservationColumns = `id, customer_id, asset_id, provider_id, starts_at, ends_at, rate_plan,
		units, unit_price, base_price, surge_multiplier, driver_fee, platform_fee, total,
		status, with_driver, contract_id, pickup_location, return_location, special_requests,
		reject_reason, cancelled_by, cancelled_at, version, created_at, updated_at`

// ReservationRepository is a PostgreSQL implementation of repository.ReservationRepository.
type ReservationRepository struct {
	q Querier
}

// NewReservationRepository creates a new PostgreSQL reservation repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{q: db}
}

// NewReservationRepositoryWithTx creates a reservation repository using a transaction.
func NewReservationRepositoryWithTx(tx *sql.Tx) *ReservationRepository {
	return &ReservationRepository{q: tx}
}

// Create persists a new reservation with version 1.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, 1, $24, $25)
	`

	_, err := r.q.ExecContext(ctx, query,
		res.ID,
		res.CustomerID,
		res.AssetID,
		res.ProviderID,
		res.Interval.Start,
		res.Interval.End,
		res.RatePlan,
		res.Price.Units,
		res.Price.UnitPrice,
		res.Price.Base,
		res.Price.SurgeMultiplier,
		res.Price.DriverFee,
		res.Price.PlatformFee,
		res.Price.Total,
		res.Status,
		res.WithDriver,
		nullString(res.ContractID),
		res.PickupLocation,
		res.ReturnLocation,
		res.SpecialRequests,
		res.RejectReason,
		res.CancelledBy,
		nullTime(res.CancelledAt),
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}

	res.Version = 1
	return nil
}

// GetByID retrieves a reservation by ID.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// UpdateIfVersion stores res only if the stored version equals expected.
func (r *ReservationRepository) UpdateIfVersion(ctx context.Context, res *domain.Reservation, expected int64) error {
	query := `
		UPDATE reservations SET
			starts_at = $1, ends_at = $2, units = $3, unit_price = $4, base_price = $5,
			surge_multiplier = $6, driver_fee = $7, platform_fee = $8, total = $9,
			status = $10, contract_id = $11, pickup_location = $12, return_location = $13,
			special_requests = $14, reject_reason = $15, cancelled_by = $16, cancelled_at = $17,
			updated_at = $18, version = version + 1
		WHERE id = $19 AND version = $20
	`

	result, err := r.q.ExecContext(ctx, query,
		res.Interval.Start,
		res.Interval.End,
		res.Price.Units,
		res.Price.UnitPrice,
		res.Price.Base,
		res.Price.SurgeMultiplier,
		res.Price.DriverFee,
		res.Price.PlatformFee,
		res.Price.Total,
		res.Status,
		nullString(res.ContractID),
		res.PickupLocation,
		res.ReturnLocation,
		res.SpecialRequests,
		res.RejectReason,
		res.CancelledBy,
		nullTime(res.CancelledAt),
		res.UpdatedAt,
		res.ID,
		expected,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Distinguish a missing row from a stale version.
		if _, err := r.GetByID(ctx, res.ID); err != nil {
			return err
		}
		return repository.ErrVersionConflict
	}

	res.Version = expected + 1
	return nil
}

// ListOverlapping returns reservations on the asset overlapping iv in one of statuses.
func (r *ReservationRepository) ListOverlapping(ctx context.Context, assetID string, iv domain.Interval, statuses []domain.ReservationStatus) ([]*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE asset_id = $1 AND status = ANY($2) AND starts_at < $4 AND $3 < ends_at
		ORDER BY starts_at
	`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.q.QueryContext(ctx, query, assetID, pq.Array(names), iv.Start, iv.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListByCustomer returns a page of the customer's reservations, newest first.
func (r *ReservationRepository) ListByCustomer(ctx context.Context, customerID string, filter repository.ListFilter) ([]*domain.Reservation, int, error) {
	countQuery := `
		SELECT COUNT(*) FROM reservations
		WHERE customer_id = $1 AND ($2 = '' OR status = $2)
	`

	var total int
	if err := r.q.QueryRowContext(ctx, countQuery, customerID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE customer_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`

	rows, err := r.q.QueryContext(ctx, query, customerID, string(filter.Status), limit, max(filter.Offset, 0))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectReservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectReservations(rows *sql.Rows) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var res domain.Reservation
	var contractID sql.NullString
	var cancelledAt sql.NullTime

	err := row.Scan(
		&res.ID,
		&res.CustomerID,
		&res.AssetID,
		&res.ProviderID,
		&res.Interval.Start,
		&res.Interval.End,
		&res.RatePlan,
		&res.Price.Units,
		&res.Price.UnitPrice,
		&res.Price.Base,
		&res.Price.SurgeMultiplier,
		&res.Price.DriverFee,
		&res.Price.PlatformFee,
		&res.Price.Total,
		&res.Status,
		&res.WithDriver,
		&contractID,
		&res.PickupLocation,
		&res.ReturnLocation,
		&res.SpecialRequests,
		&res.RejectReason,
		&res.CancelledBy,
		&cancelledAt,
		&res.Version,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contractID.Valid {
		res.ContractID = contractID.String
	}
	if cancelledAt.Valid {
		res.CancelledAt = cancelledAt.Time
	}
	return &res, nil
}
