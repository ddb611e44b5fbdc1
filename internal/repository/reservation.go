package repository

import (
	"context"

	"rental/internal/domain"
)

// ListFilter narrows and pages a reservation listing.
type ListFilter struct {
	Status domain.ReservationStatus // empty means any
	Offset int
	Limit  int
}

// ReservationRepository defines the persistence operations for reservations.
// Reservations are never deleted.
type ReservationRepository interface {
	// Create persists a new reservation with Version 1.
	Create(ctx context.Context, r *domain.Reservation) error

	// GetByID retrieves a reservation by ID.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// UpdateIfVersion stores r only if the stored version equals expected.
	// On success r.Version is expected+1. A mismatch returns ErrVersionConflict.
	UpdateIfVersion(ctx context.Context, r *domain.Reservation, expected int64) error

	// ListOverlapping returns reservations on the asset whose interval
	// overlaps iv and whose status is one of statuses.
	ListOverlapping(ctx context.Context, assetID string, iv domain.Interval, statuses []domain.ReservationStatus) ([]*domain.Reservation, error)

	// ListByCustomer returns a page of the customer's reservations, newest
	// first, and the total number matching the filter.
	ListByCustomer(ctx context.Context, customerID string, filter ListFilter) ([]*domain.Reservation, int, error)
}
