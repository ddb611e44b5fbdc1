package repository

import (
	"context"

	"rental/internal/domain"
)

// AssetRepository reads vehicles from the catalog. The engine never writes them.
type AssetRepository interface {
	// GetByID retrieves an asset with its rate card.
	GetByID(ctx context.Context, id string) (*domain.Asset, error)
}
