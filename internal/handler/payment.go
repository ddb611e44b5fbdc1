package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rental/internal/domain"
	"rental/internal/gateway/stripe"
	"rental/internal/service"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBody        = 64 << 10
)

// WebhookParser verifies and decodes a gateway callback.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (domain.PaymentEvent, error)
}

// PaymentHandler handles payment intents and gateway webhooks.
type PaymentHandler struct {
	payments *service.PaymentReconciler
	webhooks WebhookParser
	log      zerolog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments *service.PaymentReconciler, webhooks WebhookParser, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		webhooks: webhooks,
		log:      log.With().Str("component", "payment_handler").Logger(),
	}
}

// PaymentIntentResponse is the HTTP response for a created payment intent.
type PaymentIntentResponse struct {
	IntentID      string `json:"intent_id"`
	ReservationID string `json:"reservation_id"`
	ClientSecret  string `json:"client_secret"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// WebhookResponse acknowledges a processed webhook.
type WebhookResponse struct {
	Received      bool   `json:"received"`
	Result        string `json:"result,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// CreatePaymentIntent handles POST /v1/reservations/:id/payment-intent
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	actor := actorFrom(c)
	if actor.ID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: actorIDHeader + " header is required"})
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, PaymentIntentResponse{
		IntentID:      intent.IntentID,
		ReservationID: intent.ReservationID,
		ClientSecret:  intent.ClientSecret,
		Amount:        intent.Amount.StringFixed(2),
		Currency:      intent.Currency,
	})
}

// StripeWebhook handles POST /v1/webhooks/stripe
// Non-2xx responses make the gateway redeliver, so only failures worth
// retrying are reported as errors.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if len(payload) > maxWebhookBody {
		h.log.Warn().Int("limit", maxWebhookBody).Msg("webhook body too large")
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return
	}

	ev, err := h.webhooks.ParseWebhook(payload, c.GetHeader(stripeSignatureHeader))
	if errors.Is(err, stripe.ErrIgnoredEvent) {
		h.log.Debug().Err(err).Msg("webhook ignored")
		respondJSON(c, http.StatusOK, WebhookResponse{Received: true})
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook rejected")
		respondError(c, err)
		return
	}

	outcome, err := h.payments.Reconcile(c.Request.Context(), ev)
	if err != nil {
		h.log.Error().Err(err).
			Str("intent_id", ev.GatewayIntentID).
			Str("reservation_id", ev.ReservationID).
			Msg("payment reconciliation failed")
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, WebhookResponse{
		Received:      true,
		Result:        string(outcome.Result),
		ReservationID: outcome.ReservationID,
	})
}
