package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus represents the lifecycle status of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending    ReservationStatus = "PENDING"
	ReservationStatusConfirmed  ReservationStatus = "CONFIRMED"
	ReservationStatusInProgress ReservationStatus = "IN_PROGRESS"
	ReservationStatusCompleted  ReservationStatus = "COMPLETED"
	ReservationStatusCancelled  ReservationStatus = "CANCELLED"
	ReservationStatusRejected   ReservationStatus = "REJECTED"
)

// BlockingStatuses are the statuses that count against availability.
var BlockingStatuses = []ReservationStatus{
	ReservationStatusConfirmed,
	ReservationStatusInProgress,
}

// IsBlocking reports whether a reservation in this status holds the asset.
func (s ReservationStatus) IsBlocking() bool {
	return s == ReservationStatusConfirmed || s == ReservationStatusInProgress
}

// IsTerminal reports whether no further transitions are possible.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusCompleted, ReservationStatusCancelled, ReservationStatusRejected:
		return true
	}
	return false
}

// Mutable reports whether interval, locations and requests may still change.
func (s ReservationStatus) Mutable() bool {
	return s == ReservationStatusPending || s == ReservationStatusConfirmed
}

// reservationTransitions lists every legal edge of the reservation lifecycle.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending:    {ReservationStatusConfirmed, ReservationStatusRejected, ReservationStatusCancelled},
	ReservationStatusConfirmed:  {ReservationStatusInProgress, ReservationStatusCompleted, ReservationStatusCancelled},
	ReservationStatusInProgress: {ReservationStatusCompleted},
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s ReservationStatus) CanTransitionTo(to ReservationStatus) bool {
	for _, next := range reservationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RatePlan is the billing granularity of a reservation.
type RatePlan string

const (
	RatePlanHour  RatePlan = "HOUR"
	RatePlanDay   RatePlan = "DAY"
	RatePlanWeek  RatePlan = "WEEK"
	RatePlanMonth RatePlan = "MONTH"
)

// Valid reports whether the plan is one of the known plans.
func (p RatePlan) Valid() bool {
	switch p {
	case RatePlanHour, RatePlanDay, RatePlanWeek, RatePlanMonth:
		return true
	}
	return false
}

// PriceBreakdown is the priced result for a reservation interval.
// Monetary fields are rounded half-to-even to two decimal places.
type PriceBreakdown struct {
	Units           int64
	UnitPrice       decimal.Decimal
	Base            decimal.Decimal
	SurgeMultiplier decimal.Decimal // 1.0 = no surge
	DriverFee       decimal.Decimal
	PlatformFee     decimal.Decimal
	Total           decimal.Decimal
}

// Reservation is a time-bound exclusive hold of an asset by a customer.
type Reservation struct {
	ID              string
	CustomerID      string
	AssetID         string
	ProviderID      string
	Interval        Interval
	RatePlan        RatePlan
	Price           PriceBreakdown
	Status          ReservationStatus
	WithDriver      bool
	ContractID      string
	PickupLocation  string
	ReturnLocation  string
	SpecialRequests string
	RejectReason    string
	CancelledBy     string
	CancelledAt     time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy safe to mutate.
func (r *Reservation) Clone() *Reservation {
	c := *r
	return &c
}
