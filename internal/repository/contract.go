package repository

import (
	"context"

	"rental/internal/domain"
)

// ContractRepository defines the persistence operations for contracts.
type ContractRepository interface {
	// Create persists a new contract. A second contract for the same
	// reservation returns ErrDuplicate.
	Create(ctx context.Context, c *domain.Contract) error

	// GetByID retrieves a contract by ID.
	GetByID(ctx context.Context, id string) (*domain.Contract, error)

	// GetByReservationID retrieves the contract attached to a reservation.
	GetByReservationID(ctx context.Context, reservationID string) (*domain.Contract, error)

	// UpdateIfVersion stores c only if the stored version equals expected.
	UpdateIfVersion(ctx context.Context, c *domain.Contract, expected int64) error

	// DeleteIfVersion removes a contract only if the stored version equals
	// expected, freeing its reservation for a new contract.
	DeleteIfVersion(ctx context.Context, id string, expected int64) error

	// ListByStatus returns up to limit contracts in status, oldest first.
	ListByStatus(ctx context.Context, status domain.ContractStatus, limit int) ([]*domain.Contract, error)
}
