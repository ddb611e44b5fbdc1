package postgres

import (
	"context"
	"database/sql"
	"time"

	"rental/internal/domain"
	"rental/internal/repository"
)

// PaymentEventRepository is a PostgreSQL implementation of repository.PaymentEventRepository.
// The primary key on idempotency_key makes Claim an atomic insert-if-absent.
type PaymentEventRepository struct {
	q Querier
}

// NewPaymentEventRepository creates a new PostgreSQL payment event repository.
func NewPaymentEventRepository(db *sql.DB) *PaymentEventRepository {
	return &PaymentEventRepository{q: db}
}

// NewPaymentEventRepositoryWithTx creates a payment event repository using a transaction.
func NewPaymentEventRepositoryWithTx(tx *sql.Tx) *PaymentEventRepository {
	return &PaymentEventRepository{q: tx}
}

// Claim inserts a claim for key, or takes over an unfinished one claimed
// before staleBefore. Otherwise it returns the stored claim.
func (r *PaymentEventRepository) Claim(ctx context.Context, key, reservationID string, staleBefore time.Time) (*domain.ReconcileOutcome, bool, error) {
	insert := `
		INSERT INTO payment_events (idempotency_key, reservation_id, claimed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO UPDATE
			SET reservation_id = EXCLUDED.reservation_id, claimed_at = EXCLUDED.claimed_at
			WHERE payment_events.result IS NULL AND payment_events.claimed_at < $4
	`

	result, err := r.q.ExecContext(ctx, insert, key, reservationID, time.Now().UTC(), staleBefore)
	if err != nil {
		return nil, false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rowsAffected == 1 {
		return nil, true, nil
	}

	query := `
		SELECT idempotency_key, reservation_id, result, failure_reason, processed_at
		FROM payment_events WHERE idempotency_key = $1
	`

	var outcome domain.ReconcileOutcome
	var res, reason sql.NullString
	var processedAt sql.NullTime
	err = r.q.QueryRowContext(ctx, query, key).Scan(
		&outcome.IdempotencyKey,
		&outcome.ReservationID,
		&res,
		&reason,
		&processedAt,
	)
	if err != nil {
		return nil, false, err
	}

	outcome.Result = domain.ReconcileResult(res.String)
	outcome.FailureReason = reason.String
	outcome.ProcessedAt = processedAt.Time
	return &outcome, false, nil
}

// Complete stores the final outcome of a claimed key.
func (r *PaymentEventRepository) Complete(ctx context.Context, outcome domain.ReconcileOutcome) error {
	query := `
		UPDATE payment_events SET result = $1, failure_reason = $2, processed_at = $3
		WHERE idempotency_key = $4
	`

	result, err := r.q.ExecContext(ctx, query,
		outcome.Result,
		nullString(outcome.FailureReason),
		outcome.ProcessedAt,
		outcome.IdempotencyKey,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Release drops an unfinished claim.
func (r *PaymentEventRepository) Release(ctx context.Context, key string) error {
	query := `DELETE FROM payment_events WHERE idempotency_key = $1 AND result IS NULL`

	_, err := r.q.ExecContext(ctx, query, key)
	return err
}

var (
	_ repository.AssetRepository        = (*AssetRepository)(nil)
	_ repository.ReservationRepository  = (*ReservationRepository)(nil)
	_ repository.ContractRepository     = (*ContractRepository)(nil)
	_ repository.PaymentEventRepository = (*PaymentEventRepository)(nil)
)
