package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// ReservationHandler handles HTTP requests for reservations and quotes.
type ReservationHandler struct {
	reservations *service.ReservationService
}

// NewReservationHandler creates a new ReservationHandler.
func NewReservationHandler(reservations *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations}
}

// CreateReservationRequest is the HTTP request body for creating a reservation.
type CreateReservationRequest struct {
	CustomerID      string    `json:"customer_id" binding:"required"`
	AssetID         string    `json:"asset_id" binding:"required"`
	Start           time.Time `json:"start" binding:"required"`
	End             time.Time `json:"end" binding:"required,gtfield=Start"`
	RatePlan        string    `json:"rate_plan" binding:"required,rateplan"` // HOUR, DAY, WEEK, MONTH
	WithDriver      bool      `json:"with_driver,omitempty"`
	PickupLocation  string    `json:"pickup_location,omitempty"`
	ReturnLocation  string    `json:"return_location,omitempty"`
	SpecialRequests string    `json:"special_requests,omitempty"`
}

// UpdateReservationRequest is the HTTP request body for a partial update.
type UpdateReservationRequest struct {
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	PickupLocation  *string    `json:"pickup_location,omitempty"`
	ReturnLocation  *string    `json:"return_location,omitempty"`
	SpecialRequests *string    `json:"special_requests,omitempty"`
}

// RejectReservationRequest is the HTTP request body for rejecting a reservation.
type RejectReservationRequest struct {
	Reason string `json:"reason"`
}

// QuoteRequest is the HTTP request body for pricing an interval.
type QuoteRequest struct {
	AssetID    string    `json:"asset_id" binding:"required"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required,gtfield=Start"`
	RatePlan   string    `json:"rate_plan" binding:"required,rateplan"`
	WithDriver bool      `json:"with_driver,omitempty"`
}

// ReservationResponse is the HTTP response for a reservation.
type ReservationResponse struct {
	ID              string        `json:"id"`
	CustomerID      string        `json:"customer_id"`
	AssetID         string        `json:"asset_id"`
	ProviderID      string        `json:"provider_id"`
	Start           string        `json:"start"`
	End             string        `json:"end"`
	RatePlan        string        `json:"rate_plan"`
	Status          string        `json:"status"`
	WithDriver      bool          `json:"with_driver"`
	Price           PriceResponse `json:"price"`
	ContractID      string        `json:"contract_id,omitempty"`
	PickupLocation  string        `json:"pickup_location,omitempty"`
	ReturnLocation  string        `json:"return_location,omitempty"`
	SpecialRequests string        `json:"special_requests,omitempty"`
	RejectReason    string        `json:"reject_reason,omitempty"`
	CancelledBy     string        `json:"cancelled_by,omitempty"`
	CancelledAt     string        `json:"cancelled_at,omitempty"`
	Version         int64         `json:"version"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

// ListReservationsResponse is a page of a customer's reservations.
type ListReservationsResponse struct {
	Items []ReservationResponse `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// QuoteResponse is the HTTP response for a quote.
type QuoteResponse struct {
	AssetID        string        `json:"asset_id"`
	Start          string        `json:"start"`
	End            string        `json:"end"`
	RatePlan       string        `json:"rate_plan"`
	Available      bool          `json:"available"`
	Conflicts      int           `json:"conflicts"`
	Price          PriceResponse `json:"price"`
	ProviderPayout string        `json:"provider_payout"`
}

func toReservationResponse(r *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		AssetID:         r.AssetID,
		ProviderID:      r.ProviderID,
		Start:           optionalTime(r.Interval.Start),
		End:             optionalTime(r.Interval.End),
		RatePlan:        string(r.RatePlan),
		Status:          string(r.Status),
		WithDriver:      r.WithDriver,
		Price:           toPriceResponse(r.Price),
		ContractID:      r.ContractID,
		PickupLocation:  r.PickupLocation,
		ReturnLocation:  r.ReturnLocation,
		SpecialRequests: r.SpecialRequests,
		RejectReason:    r.RejectReason,
		CancelledBy:     r.CancelledBy,
		CancelledAt:     optionalTime(r.CancelledAt),
		Version:         r.Version,
		CreatedAt:       optionalTime(r.CreatedAt),
		UpdatedAt:       optionalTime(r.UpdatedAt),
	}
}

// CreateReservation handles POST /v1/reservations
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var req CreateReservationRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.reservations.Create(c.Request.Context(), service.CreateReservationRequest{
		CustomerID:      req.CustomerID,
		AssetID:         req.AssetID,
		Start:           req.Start,
		End:             req.End,
		RatePlan:        domain.RatePlan(strings.ToUpper(req.RatePlan)),
		WithDriver:      req.WithDriver,
		PickupLocation:  req.PickupLocation,
		ReturnLocation:  req.ReturnLocation,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toReservationResponse(r))
}

// GetReservation handles GET /v1/reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	r, err := h.reservations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(r))
}

// ListCustomerReservations handles GET /v1/customers/:id/reservations?status=&page=&limit=
func (h *ReservationHandler) ListCustomerReservations(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid page"})
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}

	result, err := h.reservations.ListByCustomer(
		c.Request.Context(),
		c.Param("id"),
		domain.ReservationStatus(c.Query("status")),
		page, limit,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]ReservationResponse, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, toReservationResponse(r))
	}
	respondJSON(c, http.StatusOK, ListReservationsResponse{
		Items: items,
		Total: result.Total,
		Page:  result.Page,
		Limit: result.Limit,
	})
}

// UpdateReservation handles PATCH /v1/reservations/:id
func (h *ReservationHandler) UpdateReservation(c *gin.Context) {
	var req UpdateReservationRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.reservations.Update(c.Request.Context(), c.Param("id"), service.UpdateReservationRequest{
		Actor:           actorFrom(c),
		Start:           req.Start,
		End:             req.End,
		PickupLocation:  req.PickupLocation,
		ReturnLocation:  req.ReturnLocation,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(r))
}

// ConfirmReservation handles POST /v1/reservations/:id/confirm (admin)
func (h *ReservationHandler) ConfirmReservation(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	h.respond(c, h.reservations.Confirm)
}

// RejectReservation handles POST /v1/reservations/:id/reject (admin)
func (h *ReservationHandler) RejectReservation(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req RejectReservationRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.reservations.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(r))
}

// CancelReservation handles POST /v1/reservations/:id/cancel
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	r, err := h.reservations.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(r))
}

// StartReservation handles POST /v1/reservations/:id/start (admin)
func (h *ReservationHandler) StartReservation(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	h.respond(c, h.reservations.Start)
}

// CompleteReservation handles POST /v1/reservations/:id/complete (admin)
func (h *ReservationHandler) CompleteReservation(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	h.respond(c, h.reservations.Complete)
}

// Quote handles POST /v1/quotes
func (h *ReservationHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if !bindJSON(c, &req) {
		return
	}

	q, err := h.reservations.Quote(c.Request.Context(), service.QuoteRequest{
		AssetID:    req.AssetID,
		Start:      req.Start,
		End:        req.End,
		RatePlan:   domain.RatePlan(strings.ToUpper(req.RatePlan)),
		WithDriver: req.WithDriver,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, QuoteResponse{
		AssetID:        q.AssetID,
		Start:          optionalTime(q.Interval.Start),
		End:            optionalTime(q.Interval.End),
		RatePlan:       string(q.RatePlan),
		Available:      q.Available,
		Conflicts:      q.Conflicts,
		Price:          toPriceResponse(q.Price),
		ProviderPayout: q.ProviderPayout.StringFixed(2),
	})
}

// respond runs a by-id transition and writes the resulting reservation.
func (h *ReservationHandler) respond(
	c *gin.Context,
	op func(ctx context.Context, id string) (*domain.Reservation, error),
) {
	r, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(r))
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
