package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/repository"
	"rental/internal/service"
)

const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
	roleAdmin       = "admin"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Server-side failures are attached to the context for the APM middleware.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, service.ErrAssetUnavailable),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrContractExists),
		errors.Is(err, service.ErrPaymentMismatch):
		return http.StatusConflict

	case errors.Is(err, service.ErrExternalUnavailable):
		return http.StatusBadGateway

	case errors.Is(err, service.ErrUnavailable),
		errors.Is(err, service.ErrReconcileInProgress):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes and validates the request body, answering 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// actorFrom identifies the caller. Authentication happens upstream; the
// gateway forwards the caller's ID and role.
func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		ID:    c.GetHeader(actorIDHeader),
		Admin: strings.EqualFold(c.GetHeader(actorRoleHeader), roleAdmin),
	}
}

// requireAdmin rejects callers without the admin role.
func requireAdmin(c *gin.Context) bool {
	if actorFrom(c).Admin {
		return true
	}
	c.JSON(http.StatusForbidden, ErrorResponse{Error: service.ErrForbidden.Error()})
	return false
}

// PriceResponse is the HTTP form of a price breakdown. Amounts are decimal strings.
type PriceResponse struct {
	Units           int64  `json:"units"`
	UnitPrice       string `json:"unit_price"`
	Base            string `json:"base"`
	SurgeMultiplier string `json:"surge_multiplier"`
	DriverFee       string `json:"driver_fee"`
	PlatformFee     string `json:"platform_fee"`
	Total           string `json:"total"`
}

func toPriceResponse(p domain.PriceBreakdown) PriceResponse {
	return PriceResponse{
		Units:           p.Units,
		UnitPrice:       p.UnitPrice.StringFixed(2),
		Base:            p.Base.StringFixed(2),
		SurgeMultiplier: p.SurgeMultiplier.String(),
		DriverFee:       p.DriverFee.StringFixed(2),
		PlatformFee:     p.PlatformFee.StringFixed(2),
		Total:           p.Total.StringFixed(2),
	}
}

// optionalTime formats t, or returns "" for the zero time.
func optionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
