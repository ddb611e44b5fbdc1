package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rental/internal/domain"
)

// NotificationType represents the type of lifecycle notification.
type NotificationType string

const (
	NotificationReservationCreated   NotificationType = "RESERVATION_CREATED"
	NotificationReservationConfirmed NotificationType = "RESERVATION_CONFIRMED"
	NotificationReservationRejected  NotificationType = "RESERVATION_REJECTED"
	NotificationReservationCancelled NotificationType = "RESERVATION_CANCELLED"
	NotificationReservationStarted   NotificationType = "RESERVATION_STARTED"
	NotificationReservationCompleted NotificationType = "RESERVATION_COMPLETED"
	NotificationRefundFlagged        NotificationType = "REFUND_FLAGGED"
	NotificationContractOpened       NotificationType = "CONTRACT_OPENED"
	NotificationContractSubmitted    NotificationType = "CONTRACT_SUBMITTED"
	NotificationContractApproved     NotificationType = "CONTRACT_APPROVED"
	NotificationContractRejected     NotificationType = "CONTRACT_REJECTED"
)

// Notification is a lifecycle event addressed to a customer or provider.
type Notification struct {
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipient_id"`
	Subject     string           `json:"subject"` // reservation or contract ID
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Data        map[string]any   `json:"data,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Publisher delivers notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NotificationService turns lifecycle transitions into notifications.
// A nil *NotificationService or a nil publisher only logs.
type NotificationService struct {
	publisher Publisher
	log       zerolog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher Publisher, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		log:       log.With().Str("component", "notifications").Logger(),
	}
}

// NotifyReservation announces a reservation status change to its customer.
func (s *NotificationService) NotifyReservation(ctx context.Context, r *domain.Reservation) {
	var typ NotificationType
	var title string
	switch r.Status {
	case domain.ReservationStatusPending:
		typ, title = NotificationReservationCreated, "Reservation Received"
	case domain.ReservationStatusConfirmed:
		typ, title = NotificationReservationConfirmed, "Reservation Confirmed"
	case domain.ReservationStatusRejected:
		typ, title = NotificationReservationRejected, "Reservation Rejected"
	case domain.ReservationStatusCancelled:
		typ, title = NotificationReservationCancelled, "Reservation Cancelled"
	case domain.ReservationStatusInProgress:
		typ, title = NotificationReservationStarted, "Rental Started"
	case domain.ReservationStatusCompleted:
		typ, title = NotificationReservationCompleted, "Rental Completed"
	default:
		return
	}

	data := map[string]any{
		"asset_id":  r.AssetID,
		"starts_at": r.Interval.Start,
		"ends_at":   r.Interval.End,
		"total":     r.Price.Total.StringFixed(2),
		"version":   r.Version,
	}
	if r.RejectReason != "" {
		data["reason"] = r.RejectReason
	}
	if r.CancelledBy != "" {
		data["cancelled_by"] = r.CancelledBy
	}

	s.send(ctx, Notification{
		Type:        typ,
		RecipientID: r.CustomerID,
		Subject:     r.ID,
		Title:       title,
		Message:     fmt.Sprintf("Reservation %s is now %s", r.ID, r.Status),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	})
}

// NotifyRefundFlagged tells the customer a captured payment will be returned.
func (s *NotificationService) NotifyRefundFlagged(ctx context.Context, r *domain.Reservation, intentID string) {
	s.send(ctx, Notification{
		Type:        NotificationRefundFlagged,
		RecipientID: r.CustomerID,
		Subject:     r.ID,
		Title:       "Refund Issued",
		Message:     "The vehicle is no longer available for your dates. Your payment will be refunded.",
		Data: map[string]any{
			"payment_intent_id": intentID,
			"amount":            r.Price.Total.StringFixed(2),
		},
		CreatedAt: time.Now().UTC(),
	})
}

// NotifyContract announces a contract status change to its provider.
func (s *NotificationService) NotifyContract(ctx context.Context, c *domain.Contract) {
	var typ NotificationType
	switch c.Status {
	case domain.ContractStatusDraft:
		typ = NotificationContractOpened
	case domain.ContractStatusSubmitted:
		typ = NotificationContractSubmitted
	case domain.ContractStatusApproved:
		typ = NotificationContractApproved
	case domain.ContractStatusRejected:
		typ = NotificationContractRejected
	default:
		return
	}

	s.send(ctx, Notification{
		Type:        typ,
		RecipientID: c.ProviderID,
		Subject:     c.ID,
		Title:       "Contract " + string(c.Status),
		Message:     fmt.Sprintf("Contract %s is now %s", c.ContractNumber, c.Status),
		Data: map[string]any{
			"reservation_id": c.ReservationID,
			"external_ref":   c.ExternalRef,
		},
		CreatedAt: time.Now().UTC(),
	})
}

// send publishes best-effort. Delivery failures never fail the transition.
func (s *NotificationService) send(ctx context.Context, n Notification) {
	if s == nil {
		return
	}
	s.log.Info().
		Str("type", string(n.Type)).
		Str("recipient", n.RecipientID).
		Str("subject", n.Subject).
		Msg(n.Title)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("type", string(n.Type)).Msg("failed to publish notification")
	}
}
