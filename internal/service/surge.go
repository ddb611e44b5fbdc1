package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rental/internal/domain"
	"rental/internal/repository"
)

// SurgePolicy supplies the surge multiplier for a prospective reservation.
// Implementations never return less than 1.0.
type SurgePolicy interface {
	Multiplier(ctx context.Context, assetID string, iv domain.Interval, excludeID string) decimal.Decimal
}

// FlatSurge applies the same multiplier to every reservation.
type FlatSurge struct {
	Value decimal.Decimal
}

// NoSurge returns a policy that never surges.
func NoSurge() FlatSurge {
	return FlatSurge{Value: decimal.NewFromInt(1)}
}

// Multiplier returns the configured value, floored at 1.0.
func (f FlatSurge) Multiplier(context.Context, string, domain.Interval, string) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if f.Value.LessThan(one) {
		return one
	}
	return f.Value
}

// SurgeTier applies Multiplier once utilization reaches MinUtilization.
type SurgeTier struct {
	MinUtilization float64
	Multiplier     decimal.Decimal
}

// SurgeConfig contains demand surge configuration.
type SurgeConfig struct {
	Window        time.Duration // padding on each side of the requested interval
	Tiers         []SurgeTier
	MaxMultiplier decimal.Decimal
}

// DefaultSurgeConfig returns the default demand surge configuration.
func DefaultSurgeConfig() SurgeConfig {
	return SurgeConfig{
		Window: 72 * time.Hour,
		Tiers: []SurgeTier{
			{MinUtilization: 0.50, Multiplier: decimal.RequireFromString("1.2")},
			{MinUtilization: 0.80, Multiplier: decimal.RequireFromString("1.5")},
		},
		MaxMultiplier: decimal.RequireFromString("2.0"),
	}
}

// DemandSurge raises prices when the asset is already heavily booked around
// the requested interval.
type DemandSurge struct {
	reservations repository.ReservationRepository
	config       SurgeConfig
	timeouts     Timeouts
	log          zerolog.Logger
}

// NewDemandSurge creates a new DemandSurge.
func NewDemandSurge(
	reservations repository.ReservationRepository,
	config SurgeConfig,
	timeouts Timeouts,
	log zerolog.Logger,
) *DemandSurge {
	return &DemandSurge{
		reservations: reservations,
		config:       config,
		timeouts:     timeouts,
		log:          log.With().Str("component", "surge").Logger(),
	}
}

// Multiplier measures how much of the padded window around iv is already
// held by blocking reservations and maps it onto the tiers.
func (s *DemandSurge) Multiplier(ctx context.Context, assetID string, iv domain.Interval, excludeID string) decimal.Decimal {
	window := domain.Interval{
		Start: iv.Start.Add(-s.config.Window),
		End:   iv.End.Add(s.config.Window),
	}

	storeCtx, cancel := s.timeouts.store(ctx)
	defer cancel()

	existing, err := s.reservations.ListOverlapping(storeCtx, assetID, window, domain.BlockingStatuses)
	if err != nil {
		// Fail open: no surge rather than no reservation.
		s.log.Warn().Err(err).Str("asset_id", assetID).Msg("surge lookup failed, pricing without surge")
		return decimal.NewFromInt(1)
	}

	var booked time.Duration
	for _, r := range existing {
		if r.ID == excludeID {
			continue
		}
		booked += clip(r.Interval, window)
	}

	return s.calculateSurgeMultiplier(float64(booked) / float64(window.Duration()))
}

// calculateSurgeMultiplier picks the highest tier reached, capped at MaxMultiplier.
func (s *DemandSurge) calculateSurgeMultiplier(utilization float64) decimal.Decimal {
	multiplier := decimal.NewFromInt(1)
	for _, tier := range s.config.Tiers {
		if utilization >= tier.MinUtilization && tier.Multiplier.GreaterThan(multiplier) {
			multiplier = tier.Multiplier
		}
	}
	if !s.config.MaxMultiplier.IsZero() && multiplier.GreaterThan(s.config.MaxMultiplier) {
		return s.config.MaxMultiplier
	}
	return multiplier
}

// clip returns the part of iv that falls inside window.
func clip(iv, window domain.Interval) time.Duration {
	start, end := iv.Start, iv.End
	if start.Before(window.Start) {
		start = window.Start
	}
	if end.After(window.End) {
		end = window.End
	}
	if !start.Before(end) {
		return 0
	}
	return end.Sub(start)
}
