package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rental/internal/config"
	"rental/internal/pricing"
	"rental/internal/repository"
	"rental/internal/service"
)

// Surge modes accepted in configuration.
const (
	SurgeModeFlat   = "flat"
	SurgeModeDemand = "demand"
)

// NewTimeouts converts configured durations into service timeouts.
// Zero values fall back to the service defaults.
func NewTimeouts(cfg config.ReservationConfig) service.Timeouts {
	t := service.DefaultTimeouts()
	if cfg.StoreTimeout > 0 {
		t.Store = cfg.StoreTimeout
	}
	if cfg.ExternalTimeout > 0 {
		t.External = cfg.ExternalTimeout
	}
	if cfg.LockAcquireTimeout > 0 {
		t.LockAcquire = cfg.LockAcquireTimeout
	}
	if cfg.LockTTL > 0 {
		// A critical section must finish before its distributed lock expires.
		t.Operation = cfg.LockTTL
	}
	return t
}

// NewCalculator parses configured fee rates.
func NewCalculator(cfg config.PricingConfig) (*pricing.Calculator, error) {
	rates := pricing.DefaultRates()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"driver_fee_rate", cfg.DriverFeeRate, &rates.DriverFeeRate},
		{"platform_fee_rate", cfg.PlatformFeeRate, &rates.PlatformFeeRate},
		{"provider_share_rate", cfg.ProviderShareRate, &rates.ProviderShareRate},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := parseRate(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return pricing.NewCalculator(rates), nil
}

// NewSurgePolicy builds the configured surge policy. Demand surge reads
// existing reservations to measure asset utilization.
func NewSurgePolicy(
	cfg config.SurgeConfig,
	reservations repository.ReservationRepository,
	timeouts service.Timeouts,
	log zerolog.Logger,
) (service.SurgePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", SurgeModeFlat:
		if cfg.FlatMultiplier == "" {
			return service.NoSurge(), nil
		}
		v, err := parseMultiplier("surge flat_multiplier", cfg.FlatMultiplier)
		if err != nil {
			return nil, err
		}
		return service.FlatSurge{Value: v}, nil

	case SurgeModeDemand:
		sc := service.DefaultSurgeConfig()
		if cfg.Window > 0 {
			sc.Window = cfg.Window
		}
		if cfg.MaxMultiplier != "" {
			v, err := parseMultiplier("surge max_multiplier", cfg.MaxMultiplier)
			if err != nil {
				return nil, err
			}
			sc.MaxMultiplier = v
		}
		if len(cfg.Tiers) > 0 {
			tiers := make([]service.SurgeTier, 0, len(cfg.Tiers))
			for _, t := range cfg.Tiers {
				if t.MinUtilization < 0 || t.MinUtilization > 1 {
					return nil, fmt.Errorf("surge tier min_utilization %v out of [0,1]", t.MinUtilization)
				}
				m, err := parseMultiplier("surge tier multiplier", t.Multiplier)
				if err != nil {
					return nil, err
				}
				tiers = append(tiers, service.SurgeTier{MinUtilization: t.MinUtilization, Multiplier: m})
			}
			sc.Tiers = tiers
		}
		return service.NewDemandSurge(reservations, sc, timeouts, log), nil

	default:
		return nil, fmt.Errorf("unknown surge mode %q", cfg.Mode)
	}
}

// Surge multipliers must fit reservations.surge_multiplier NUMERIC(6,3)
// exactly, so a stored breakdown always matches a recomputation.
const multiplierPlaces = 3

var maxMultiplier = decimal.RequireFromString("999.999")

func parseMultiplier(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", name, raw, err)
	}
	if !v.IsPositive() || v.GreaterThan(maxMultiplier) {
		return decimal.Zero, fmt.Errorf("%s %s out of (0,%s]", name, v, maxMultiplier)
	}
	if !v.Equal(v.Truncate(multiplierPlaces)) {
		return decimal.Zero, fmt.Errorf("%s %s has more than %d decimal places", name, v, multiplierPlaces)
	}
	return v, nil
}

func parseRate(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", name, raw, err)
	}
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s %s out of [0,1]", name, v)
	}
	return v, nil
}
