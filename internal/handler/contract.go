package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// ContractHandler handles HTTP requests for rental contracts.
type ContractHandler struct {
	contracts *service.ContractService
}

// NewContractHandler creates a new ContractHandler.
func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// OpenContractRequest is the HTTP request body for opening a contract.
type OpenContractRequest struct {
	TermsAndConditions string `json:"terms_and_conditions,omitempty"`
	SpecialConditions  string `json:"special_conditions,omitempty"`
}

// SignContractRequest is the HTTP request body for signing a contract.
type SignContractRequest struct {
	Party string `json:"party" binding:"required,party"` // CUSTOMER or PROVIDER
}

// ExternalStatusRequest carries a status reported by the regulator.
type ExternalStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ContractResponse is the HTTP response for a contract.
type ContractResponse struct {
	ID                 string `json:"id"`
	ReservationID      string `json:"reservation_id"`
	ContractNumber     string `json:"contract_number"`
	CustomerID         string `json:"customer_id"`
	AssetID            string `json:"asset_id"`
	ProviderID         string `json:"provider_id"`
	Status             string `json:"status"`
	ExternalRef        string `json:"external_ref,omitempty"`
	ExternalStatus     string `json:"external_status,omitempty"`
	StartsAt           string `json:"starts_at"`
	EndsAt             string `json:"ends_at"`
	CustomerSignedAt   string `json:"customer_signed_at,omitempty"`
	ProviderSignedAt   string `json:"provider_signed_at,omitempty"`
	SubmittedAt        string `json:"submitted_at,omitempty"`
	TermsAndConditions string `json:"terms_and_conditions,omitempty"`
	SpecialConditions  string `json:"special_conditions,omitempty"`
	Version            int64  `json:"version"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func toContractResponse(c *domain.Contract) ContractResponse {
	return ContractResponse{
		ID:                 c.ID,
		ReservationID:      c.ReservationID,
		ContractNumber:     c.ContractNumber,
		CustomerID:         c.CustomerID,
		AssetID:            c.AssetID,
		ProviderID:         c.ProviderID,
		Status:             string(c.Status),
		ExternalRef:        c.ExternalRef,
		ExternalStatus:     c.ExternalStatus,
		StartsAt:           optionalTime(c.StartsAt),
		EndsAt:             optionalTime(c.EndsAt),
		CustomerSignedAt:   optionalTime(c.CustomerSignedAt),
		ProviderSignedAt:   optionalTime(c.ProviderSignedAt),
		SubmittedAt:        optionalTime(c.SubmittedAt),
		TermsAndConditions: c.TermsAndConditions,
		SpecialConditions:  c.SpecialConditions,
		Version:            c.Version,
		CreatedAt:          optionalTime(c.CreatedAt),
		UpdatedAt:          optionalTime(c.UpdatedAt),
	}
}

// OpenContract handles POST /v1/reservations/:id/contract
func (h *ContractHandler) OpenContract(c *gin.Context) {
	var req OpenContractRequest
	// An empty body is allowed.
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	contract, err := h.contracts.Open(c.Request.Context(), c.Param("id"), service.OpenContractRequest{
		TermsAndConditions: req.TermsAndConditions,
		SpecialConditions:  req.SpecialConditions,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toContractResponse(contract))
}

// GetReservationContract handles GET /v1/reservations/:id/contract
func (h *ContractHandler) GetReservationContract(c *gin.Context) {
	h.respond(c, h.contracts.GetByReservation)
}

// GetContract handles GET /v1/contracts/:id
func (h *ContractHandler) GetContract(c *gin.Context) {
	h.respond(c, h.contracts.Get)
}

// SignContract handles POST /v1/contracts/:id/sign
func (h *ContractHandler) SignContract(c *gin.Context) {
	var req SignContractRequest
	if !bindJSON(c, &req) {
		return
	}

	party := domain.Party(strings.ToUpper(strings.TrimSpace(req.Party)))
	contract, err := h.contracts.Sign(c.Request.Context(), c.Param("id"), party, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toContractResponse(contract))
}

// SubmitContract handles POST /v1/contracts/:id/submit
func (h *ContractHandler) SubmitContract(c *gin.Context) {
	h.respond(c, h.contracts.Submit)
}

// ActivateContract handles POST /v1/contracts/:id/activate (admin)
func (h *ContractHandler) ActivateContract(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	h.respond(c, h.contracts.Activate)
}

// ReconcileExternalStatus handles POST /v1/contracts/:id/external-status (admin).
// Used by regulator callbacks and manual overrides.
func (h *ContractHandler) ReconcileExternalStatus(c *gin.Context) {
	if !requireAdmin(c) {
		return
	}
	var req ExternalStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	contract, err := h.contracts.ReconcileExternalStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toContractResponse(contract))
}

func (h *ContractHandler) respond(
	c *gin.Context,
	op func(ctx context.Context, id string) (*domain.Contract, error),
) {
	contract, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toContractResponse(contract))
}
