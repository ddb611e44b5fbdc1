package postgres

import (
	"context"
	"database/sql"
	"errors"

	"rental/internal/domain"
	"rental/internal/repository"
)

const contractColumns = `id, reservation_id, contract_number, customer_id, asset_id, provider_id,
		status, external_ref, external_status, starts_at, ends_at, customer_signed_at,
		provider_signed_at, submitted_at, terms_and_conditions, special_conditions,
		version, created_at, updated_at`

// ContractRepository is a PostgreSQL implementation of repository.ContractRepository.
type ContractRepository struct {
	q Querier
}

// NewContractRepository creates a new PostgreSQL contract repository.
func NewContractRepository(db *sql.DB) *ContractRepository {
	return &ContractRepository{q: db}
}

// NewContractRepositoryWithTx creates a contract repository using a transaction.
func NewContractRepositoryWithTx(tx *sql.Tx) *ContractRepository {
	return &ContractRepository{q: tx}
}

// Create persists a new contract. reservation_id is unique.
func (r *ContractRepository) Create(ctx context.Context, c *domain.Contract) error {
	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)
		ON CONFLICT (reservation_id) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		c.ID,
		c.ReservationID,
		c.ContractNumber,
		c.CustomerID,
		c.AssetID,
		c.ProviderID,
		c.Status,
		c.ExternalRef,
		c.ExternalStatus,
		c.StartsAt,
		c.EndsAt,
		nullTime(c.CustomerSignedAt),
		nullTime(c.ProviderSignedAt),
		nullTime(c.SubmittedAt),
		c.TermsAndConditions,
		c.SpecialConditions,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrDuplicate
	}

	c.Version = 1
	return nil
}

// GetByID retrieves a contract by ID.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByReservationID retrieves the contract attached to a reservation.
func (r *ContractRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE reservation_id = $1`
	return r.getOne(ctx, query, reservationID)
}

func (r *ContractRepository) getOne(ctx context.Context, query string, arg string) (*domain.Contract, error) {
	c, err := scanContract(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateIfVersion stores c only if the stored version equals expected.
func (r *ContractRepository) UpdateIfVersion(ctx context.Context, c *domain.Contract, expected int64) error {
	query := `
		UPDATE contracts SET
			status = $1, external_ref = $2, external_status = $3, customer_signed_at = $4,
			provider_signed_at = $5, submitted_at = $6, special_conditions = $7,
			starts_at = $8, ends_at = $9, updated_at = $10, version = version + 1
		WHERE id = $11 AND version = $12
	`

	result, err := r.q.ExecContext(ctx, query,
		c.Status,
		c.ExternalRef,
		c.ExternalStatus,
		nullTime(c.CustomerSignedAt),
		nullTime(c.ProviderSignedAt),
		nullTime(c.SubmittedAt),
		c.SpecialConditions,
		c.StartsAt,
		c.EndsAt,
		c.UpdatedAt,
		c.ID,
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
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return repository.ErrVersionConflict
	}

	c.Version = expected + 1
	return nil
}

// DeleteIfVersion removes a contract only if the stored version equals expected.
func (r *ContractRepository) DeleteIfVersion(ctx context.Context, id string, expected int64) error {
	query := `DELETE FROM contracts WHERE id = $1 AND version = $2`

	result, err := r.q.ExecContext(ctx, query, id, expected)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return repository.ErrVersionConflict
	}
	return nil
}

// ListByStatus returns up to limit contracts in status, oldest first.
func (r *ContractRepository) ListByStatus(ctx context.Context, status domain.ContractStatus, limit int) ([]*domain.Contract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM contracts WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var c domain.Contract
	var customerSignedAt, providerSignedAt, submittedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.ReservationID,
		&c.ContractNumber,
		&c.CustomerID,
		&c.AssetID,
		&c.ProviderID,
		&c.Status,
		&c.ExternalRef,
		&c.ExternalStatus,
		&c.StartsAt,
		&c.EndsAt,
		&customerSignedAt,
		&providerSignedAt,
		&submittedAt,
		&c.TermsAndConditions,
		&c.SpecialConditions,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.CustomerSignedAt = customerSignedAt.Time
	c.ProviderSignedAt = providerSignedAt.Time
	c.SubmittedAt = submittedAt.Time
	return &c, nil
}
