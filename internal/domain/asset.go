package domain

import "github.com/shopspring/decimal"

// AssetStatus is the catalog-maintained availability flag of a vehicle.
type AssetStatus string

const (
	AssetStatusAvailable   AssetStatus = "AVAILABLE"
	AssetStatusRented      AssetStatus = "RENTED"
	AssetStatusMaintenance AssetStatus = "MAINTENANCE"
	AssetStatusUnavailable AssetStatus = "UNAVAILABLE"
)

// RateCard holds the per-unit prices of a vehicle.
// PricePerHour is optional; hourly plans fall back to PricePerDay/24.
type RateCard struct {
	PricePerHour  decimal.NullDecimal
	PricePerDay   decimal.Decimal
	PricePerWeek  decimal.Decimal
	PricePerMonth decimal.Decimal
}

// Asset is a vehicle as seen by the reservation engine. The catalog owns it.
type Asset struct {
	ID         string
	ProviderID string
	Status     AssetStatus
	RateCard   RateCard
}

// Bookable reports whether the catalog allows new reservations on the asset.
func (a *Asset) Bookable() bool {
	return a.Status == AssetStatusAvailable || a.Status == AssetStatusRented
}
