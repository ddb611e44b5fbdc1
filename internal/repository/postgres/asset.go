package postgres

import (
	"context"
	"database/sql"
	"errors"

	"rental/internal/domain"
	"rental/internal/repository"
)

// AssetRepository is a PostgreSQL implementation of repository.AssetRepository.
type AssetRepository struct {
	q Querier
}

// NewAssetRepository creates a new PostgreSQL asset repository.
func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{q: db}
}

// GetByID retrieves an asset with its rate card.
func (r *AssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	query := `
		SELECT id, provider_id, status, price_per_hour, price_per_day, price_per_week, price_per_month
		FROM assets WHERE id = $1
	`

	var a domain.Asset
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.ProviderID,
		&a.Status,
		&a.RateCard.PricePerHour,
		&a.RateCard.PricePerDay,
		&a.RateCard.PricePerWeek,
		&a.RateCard.PricePerMonth,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &a, nil
}
