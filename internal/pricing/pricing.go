// Package pricing converts a reservation interval into a price breakdown.
//
// Price is a pure function of its inputs: it reads no clock and no random
// source, so a stored breakdown can always be recomputed for audits and
// disputes.
package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"rental/internal/domain"
)

var (
	// ErrInvalidRatePlan is returned for an unknown rate plan.
	ErrInvalidRatePlan = errors.New("invalid rate plan")

	// ErrMissingRate is returned when the rate card has no usable price for the plan.
	ErrMissingRate = errors.New("rate card has no price for rate plan")

	// ErrInvalidSurge is returned when the surge multiplier is below 1.0.
	ErrInvalidSurge = errors.New("surge multiplier must be at least 1.0")
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
)

var (
	one        = decimal.NewFromInt(1)
	hoursInDay = decimal.NewFromInt(24)
)

// Rates holds the fee rates applied on top of the base price.
type Rates struct {
	DriverFeeRate     decimal.Decimal // fraction of base, e.g. 0.15
	PlatformFeeRate   decimal.Decimal // fraction of base+driver fee, e.g. 0.10
	ProviderShareRate decimal.Decimal // fraction of base paid out to the asset provider
}

// DefaultRates returns the rates used when nothing is configured.
func DefaultRates() Rates {
	return Rates{
		DriverFeeRate:     decimal.RequireFromString("0.15"),
		PlatformFeeRate:   decimal.RequireFromString("0.10"),
		ProviderShareRate: decimal.RequireFromString("0.70"),
	}
}

// Calculator prices reservations. It is safe for concurrent use.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given fee rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the configured fee rates.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Price computes the breakdown for the interval under the rate plan.
// Durations are rounded up to whole units with a minimum of one unit.
// Intermediate values keep full precision; every monetary output is
// rounded half-to-even to two decimal places.
func (c *Calculator) Price(
	card domain.RateCard,
	iv domain.Interval,
	plan domain.RatePlan,
	surge decimal.Decimal,
	withDriver bool,
) (domain.PriceBreakdown, error) {
	if err := iv.Validate(); err != nil {
		return domain.PriceBreakdown{}, err
	}
	if surge.LessThan(one) {
		return domain.PriceBreakdown{}, ErrInvalidSurge
	}

	units, err := Units(iv.Duration(), plan)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	unitPrice, base, err := basePrice(card, plan, units)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}

	base = base.Mul(surge)

	driverFee := decimal.Zero
	if withDriver {
		driverFee = base.Mul(c.rates.DriverFeeRate)
	}
	platformFee := base.Add(driverFee).Mul(c.rates.PlatformFeeRate)
	total := base.Add(driverFee).Add(platformFee)

	return domain.PriceBreakdown{
		Units:           units,
		UnitPrice:       round2(unitPrice),
		Base:            round2(base),
		SurgeMultiplier: surge,
		DriverFee:       round2(driverFee),
		PlatformFee:     round2(platformFee),
		Total:           round2(total),
	}, nil
}

// ProviderPayout returns the provider's share of a priced breakdown.
func (c *Calculator) ProviderPayout(b domain.PriceBreakdown) decimal.Decimal {
	return round2(b.Base.Mul(c.rates.ProviderShareRate))
}

// Units converts a duration into billable units for the plan.
func Units(d time.Duration, plan domain.RatePlan) (int64, error) {
	var unit time.Duration
	switch plan {
	case domain.RatePlanHour:
		unit = time.Hour
	case domain.RatePlanDay:
		unit = day
	case domain.RatePlanWeek:
		unit = week
	case domain.RatePlanMonth:
		unit = month
	default:
		return 0, ErrInvalidRatePlan
	}

	units := int64(d / unit)
	if d%unit != 0 {
		units++
	}
	if units < 1 {
		units = 1
	}
	return units, nil
}

// basePrice returns the unit price and unit price * units before surge.
func basePrice(card domain.RateCard, plan domain.RatePlan, units int64) (decimal.Decimal, decimal.Decimal, error) {
	n := decimal.NewFromInt(units)

	var unitPrice decimal.Decimal
	switch plan {
	case domain.RatePlanHour:
		if card.PricePerHour.Valid {
			unitPrice = card.PricePerHour.Decimal
			break
		}
		// No hourly rate: bill a 24th of the daily rate. Multiply before
		// dividing so whole days stay exact.
		if !card.PricePerDay.IsPositive() {
			return decimal.Zero, decimal.Zero, ErrMissingRate
		}
		return card.PricePerDay.Div(hoursInDay), card.PricePerDay.Mul(n).Div(hoursInDay), nil
	case domain.RatePlanDay:
		unitPrice = card.PricePerDay
	case domain.RatePlanWeek:
		unitPrice = card.PricePerWeek
	case domain.RatePlanMonth:
		unitPrice = card.PricePerMonth
	default:
		return decimal.Zero, decimal.Zero, ErrInvalidRatePlan
	}

	if !unitPrice.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrMissingRate
	}
	return unitPrice, unitPrice.Mul(n), nil
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}
