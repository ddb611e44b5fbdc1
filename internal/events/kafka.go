// Package events publishes reservation lifecycle and loyalty events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"rental/internal/domain"
	"rental/internal/metrics"
	"rental/internal/service"
)

// MessageWriter is the part of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a Kafka writer for topic. Messages with the same key
// land on the same partition, so events for one reservation stay ordered.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Publisher sends lifecycle notifications to the lifecycle topic.
type Publisher struct {
	writer  MessageWriter
	topic   string
	metrics *metrics.Metrics
}

// NewPublisher creates a new Publisher.
func NewPublisher(writer MessageWriter, topic string, m *metrics.Metrics) *Publisher {
	return &Publisher{writer: writer, topic: topic, metrics: m}
}

// Publish writes n keyed by its subject.
func (p *Publisher) Publish(ctx context.Context, n service.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Subject),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
		Time: n.CreatedAt,
	})
	p.metrics.EventPublished(p.topic, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// completedEvent is consumed by the loyalty program.
type completedEvent struct {
	ReservationID string    `json:"reservation_id"`
	CustomerID    string    `json:"customer_id"`
	AssetID       string    `json:"asset_id"`
	ProviderID    string    `json:"provider_id"`
	RatePlan      string    `json:"rate_plan"`
	Units         int64     `json:"units"`
	Total         string    `json:"total"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// LoyaltyNotifier announces completed reservations on the loyalty topic.
type LoyaltyNotifier struct {
	writer  MessageWriter
	topic   string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewLoyaltyNotifier creates a new LoyaltyNotifier.
func NewLoyaltyNotifier(writer MessageWriter, topic string, m *metrics.Metrics, log zerolog.Logger) *LoyaltyNotifier {
	return &LoyaltyNotifier{
		writer:  writer,
		topic:   topic,
		metrics: m,
		log:     log.With().Str("component", "loyalty").Logger(),
	}
}

// NotifyCompleted publishes the completion keyed by customer.
func (l *LoyaltyNotifier) NotifyCompleted(ctx context.Context, r *domain.Reservation) error {
	payload, err := json.Marshal(completedEvent{
		ReservationID: r.ID,
		CustomerID:    r.CustomerID,
		AssetID:       r.AssetID,
		ProviderID:    r.ProviderID,
		RatePlan:      string(r.RatePlan),
		Units:         r.Price.Units,
		Total:         r.Price.Total.StringFixed(2),
		StartsAt:      r.Interval.Start,
		EndsAt:        r.Interval.End,
		CompletedAt:   r.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}

	err = l.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.CustomerID), Value: payload})
	l.metrics.EventPublished(l.topic, err)
	if err != nil {
		return fmt.Errorf("publish completion %s: %w", r.ID, err)
	}
	l.log.Debug().Str("reservation_id", r.ID).Msg("completion published")
	return nil
}

// Close flushes and closes the writer.
func (l *LoyaltyNotifier) Close() error {
	return l.writer.Close()
}

var (
	_ service.Publisher       = (*Publisher)(nil)
	_ service.LoyaltyNotifier = (*LoyaltyNotifier)(nil)
)
