package service

import (
	"context"

	"rental/internal/domain"
	"rental/internal/metrics"
	"rental/internal/repository"
)

// Availability is the result of an availability check.
type Availability struct {
	Available bool
	Conflicts int // blocking reservations overlapping the interval
}

// AvailabilityChecker decides whether an asset is free for an interval.
type AvailabilityChecker struct {
	reservations repository.ReservationRepository
	timeouts     Timeouts
	metrics      *metrics.Metrics
}

// NewAvailabilityChecker creates a new AvailabilityChecker.
func NewAvailabilityChecker(reservations repository.ReservationRepository, timeouts Timeouts, m *metrics.Metrics) *AvailabilityChecker {
	return &AvailabilityChecker{
		reservations: reservations,
		timeouts:     timeouts,
		metrics:      m,
	}
}

// IsAvailable reports whether no CONFIRMED or IN_PROGRESS reservation on the
// asset overlaps iv. excludeID, if set, is left out of the count so a
// reservation can be re-checked against everything but itself.
func (a *AvailabilityChecker) IsAvailable(ctx context.Context, assetID string, iv domain.Interval, excludeID string) (Availability, error) {
	if assetID == "" {
		return Availability{}, invalidInput("asset id is required")
	}
	if err := iv.Validate(); err != nil {
		return Availability{}, invalidInput("%v", err)
	}

	storeCtx, cancel := a.timeouts.store(ctx)
	defer cancel()

	existing, err := a.reservations.ListOverlapping(storeCtx, assetID, iv, domain.BlockingStatuses)
	if err != nil {
		a.metrics.AvailabilityCheck("error")
		return Availability{}, storeErr(err)
	}

	conflicts := 0
	for _, r := range existing {
		if r.ID == excludeID || !r.Status.IsBlocking() || !r.Interval.Overlaps(iv) {
			continue
		}
		conflicts++
	}

	if conflicts > 0 {
		a.metrics.AvailabilityCheck("conflict")
	} else {
		a.metrics.AvailabilityCheck("available")
	}
	return Availability{Available: conflicts == 0, Conflicts: conflicts}, nil
}
