package tests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rental/internal/domain"
	"rental/internal/lock"
	"rental/internal/pricing"
	"rental/internal/repository"
	"rental/internal/repository/memory"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// MOCK RESERVATION REPOSITORY
// ──────────────────────────────────────────────

// MockReservationRepository wraps the in-memory repository with error and
// latency injection. Set the injection fields before the service runs.
type MockReservationRepository struct {
	*memory.ReservationRepository

	// Counters for verification
	UpdateCallCount int32

	// Error injection
	ListOverlappingError error
	ListOverlappingDelay time.Duration
	UpdateError          error
}

// NewMockReservationRepository creates a new mock reservation repository.
func NewMockReservationRepository() *MockReservationRepository {
	return &MockReservationRepository{ReservationRepository: memory.NewReservationRepository()}
}

func (m *MockReservationRepository) ListOverlapping(ctx context.Context, assetID string, iv domain.Interval, statuses []domain.ReservationStatus) ([]*domain.Reservation, error) {
	if m.ListOverlappingDelay > 0 {
		select {
		case <-time.After(m.ListOverlappingDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.ListOverlappingError != nil {
		return nil, m.ListOverlappingError
	}
	return m.ReservationRepository.ListOverlapping(ctx, assetID, iv, statuses)
}

func (m *MockReservationRepository) UpdateIfVersion(ctx context.Context, r *domain.Reservation, expected int64) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	return m.ReservationRepository.UpdateIfVersion(ctx, r, expected)
}

// ──────────────────────────────────────────────
// MOCK LOCKER
// ──────────────────────────────────────────────

// MockTimeoutLocker never grants a lock.
type MockTimeoutLocker struct {
	AcquireCallCount int32
}

func (m *MockTimeoutLocker) Acquire(ctx context.Context, key string) (func(), error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	return nil, fmt.Errorf("%w: %s: %w", lock.ErrTimeout, key, context.DeadlineExceeded)
}

// ──────────────────────────────────────────────
// MOCK PAYMENT GATEWAY
// ──────────────────────────────────────────────

// IntentCall records one CreateIntent call.
type IntentCall struct {
	ReservationID string
	Amount        decimal.Decimal
	Currency      string
}

// MockPaymentGateway is a mock implementation of service.PaymentGateway.
type MockPaymentGateway struct {
	mu    sync.Mutex
	calls []IntentCall

	// Error injection
	CreateError error
}

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{}
}

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, reservationID string, amount decimal.Decimal, currency string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, IntentCall{ReservationID: reservationID, Amount: amount, Currency: currency})
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	return &domain.PaymentIntent{
		IntentID:      fmt.Sprintf("pi_%d", len(m.calls)),
		ReservationID: reservationID,
		ClientSecret:  "secret",
		Amount:        amount,
		Currency:      currency,
	}, nil
}

func (m *MockPaymentGateway) Calls() []IntentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]IntentCall(nil), m.calls...)
}

// ──────────────────────────────────────────────
// MOCK REFUND FLAGGER
// ──────────────────────────────────────────────

// RefundCall records one FlagRefund call.
type RefundCall struct {
	IntentID      string
	ReservationID string
	Reason        string
}

// MockRefundFlagger is a mock implementation of service.RefundFlagger.
type MockRefundFlagger struct {
	mu    sync.Mutex
	calls []RefundCall
	err   error
}

func NewMockRefundFlagger() *MockRefundFlagger {
	return &MockRefundFlagger{}
}

func (m *MockRefundFlagger) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockRefundFlagger) FlagRefund(ctx context.Context, intentID, reservationID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, RefundCall{IntentID: intentID, ReservationID: reservationID, Reason: reason})
	return nil
}

func (m *MockRefundFlagger) Calls() []RefundCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RefundCall(nil), m.calls...)
}

// ──────────────────────────────────────────────
// MOCK REGULATORY CLIENT
// ──────────────────────────────────────────────

// MockRegulatoryClient is a mock implementation of service.RegulatoryClient.
type MockRegulatoryClient struct {
	mu       sync.Mutex
	statuses map[string]string
	next     int

	// Counters for verification
	SubmitCallCount int32

	// Error injection
	SubmitError error
	StatusError error
}

func NewMockRegulatoryClient() *MockRegulatoryClient {
	return &MockRegulatoryClient{statuses: make(map[string]string)}
}

func (m *MockRegulatoryClient) Submit(ctx context.Context, c *domain.Contract) (string, error) {
	atomic.AddInt32(&m.SubmitCallCount, 1)
	if m.SubmitError != nil {
		return "", m.SubmitError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := fmt.Sprintf("RTA-%03d", m.next)
	m.statuses[ref] = "pending"
	return ref, nil
}

func (m *MockRegulatoryClient) GetStatus(ctx context.Context, ref string) (string, error) {
	if m.StatusError != nil {
		return "", m.StatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[ref]
	if !ok {
		return "", fmt.Errorf("unknown contract %s", ref)
	}
	return status, nil
}

// SetStatus changes what the regulator reports for ref.
func (m *MockRegulatoryClient) SetStatus(ref, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[ref] = status
}

// ──────────────────────────────────────────────
// MOCK LOYALTY NOTIFIER / PUBLISHER
// ──────────────────────────────────────────────

// MockLoyaltyNotifier delivers completed reservation IDs on Completed.
type MockLoyaltyNotifier struct {
	Completed chan string
}

func NewMockLoyaltyNotifier() *MockLoyaltyNotifier {
	return &MockLoyaltyNotifier{Completed: make(chan string, 16)}
}

func (m *MockLoyaltyNotifier) NotifyCompleted(ctx context.Context, r *domain.Reservation) error {
	m.Completed <- r.ID
	return nil
}

// MockPublisher records published notifications.
type MockPublisher struct {
	mu   sync.Mutex
	sent []service.Notification
}

func (m *MockPublisher) Publish(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *MockPublisher) Types() []service.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]service.NotificationType, 0, len(m.sent))
	for _, n := range m.sent {
		types = append(types, n.Type)
	}
	return types
}

// ──────────────────────────────────────────────
// HARNESS
// ──────────────────────────────────────────────

// harness wires the three services over in-memory stores and mocks.
type harness struct {
	assets       *memory.AssetRepository
	reservations *MockReservationRepository
	contracts    *memory.ContractRepository
	events       *memory.PaymentEventRepository
	regulatory   *MockRegulatoryClient
	gateway      *MockPaymentGateway
	refunds      *MockRefundFlagger
	loyalty      *MockLoyaltyNotifier
	publisher    *MockPublisher

	reservationSvc *service.ReservationService
	contractSvc    *service.ContractService
	payments       *service.PaymentReconciler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	locker   lock.Locker
	surge    service.SurgePolicy
	timeouts service.Timeouts
}

func withLocker(l lock.Locker) harnessOption {
	return func(c *harnessConfig) { c.locker = l }
}

func withSurge(p service.SurgePolicy) harnessOption {
	return func(c *harnessConfig) { c.surge = p }
}

func withTimeouts(t service.Timeouts) harnessOption {
	return func(c *harnessConfig) { c.timeouts = t }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		locker:   lock.NewLocalLocker(),
		timeouts: service.DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		assets:       memory.NewAssetRepository(),
		reservations: NewMockReservationRepository(),
		contracts:    memory.NewContractRepository(),
		events:       memory.NewPaymentEventRepository(),
		regulatory:   NewMockRegulatoryClient(),
		gateway:      NewMockPaymentGateway(),
		refunds:      NewMockRefundFlagger(),
		loyalty:      NewMockLoyaltyNotifier(),
		publisher:    &MockPublisher{},
	}
	h.assets.Put(testAsset("car-1"))
	h.assets.Put(testAsset("car-2"))

	log := zerolog.Nop()
	notifications := service.NewNotificationService(h.publisher, log)

	h.contractSvc = service.NewContractService(service.ContractDeps{
		Contracts:     h.contracts,
		Reservations:  h.reservations,
		Locker:        cfg.locker,
		Regulatory:    h.regulatory,
		Notifications: notifications,
		Timeouts:      cfg.timeouts,
		Log:           log,
	})
	h.reservationSvc = service.NewReservationService(service.ReservationDeps{
		Reservations:  h.reservations,
		Catalog:       h.assets,
		Locker:        cfg.locker,
		Pricing:       pricing.NewCalculator(pricing.DefaultRates()),
		Surge:         cfg.surge,
		Contracts:     h.contractSvc,
		Loyalty:       h.loyalty,
		Notifications: notifications,
		Timeouts:      cfg.timeouts,
		Log:           log,
	})
	h.payments = service.NewPaymentReconciler(service.PaymentDeps{
		Events:        h.events,
		Reservations:  h.reservationSvc,
		Gateway:       h.gateway,
		Refunds:       h.refunds,
		Currency:      "aed",
		Notifications: notifications,
		Timeouts:      cfg.timeouts,
		Log:           log,
	})
	return h
}

// ──────────────────────────────────────────────
// HELPER FUNCTIONS
// ──────────────────────────────────────────────

var epoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

var (
	asCustomer = service.Actor{ID: "customer-1"}
	asProvider = service.Actor{ID: "provider-1"}
)

// at returns the instant h hours after the fixture epoch.
func at(h int) time.Time {
	return epoch.Add(time.Duration(h) * time.Hour)
}

func testAsset(id string) *domain.Asset {
	return &domain.Asset{
		ID:         id,
		ProviderID: "provider-1",
		Status:     domain.AssetStatusAvailable,
		RateCard: domain.RateCard{
			PricePerDay:   decimal.NewFromInt(100),
			PricePerWeek:  decimal.NewFromInt(600),
			PricePerMonth: decimal.NewFromInt(2000),
		},
	}
}

// createReservation creates a PENDING DAY reservation for customer-1.
func (h *harness) createReservation(t *testing.T, assetID string, from, to int) *domain.Reservation {
	t.Helper()
	r, err := h.reservationSvc.Create(context.Background(), service.CreateReservationRequest{
		CustomerID: "customer-1",
		AssetID:    assetID,
		Start:      at(from),
		End:        at(to),
		RatePlan:   domain.RatePlanDay,
	})
	if err != nil {
		t.Fatalf("create reservation [%d,%d): %v", from, to, err)
	}
	return r
}

// confirmedReservation creates and confirms a reservation.
func (h *harness) confirmedReservation(t *testing.T, assetID string, from, to int) *domain.Reservation {
	t.Helper()
	r := h.createReservation(t, assetID, from, to)
	confirmed, err := h.reservationSvc.Confirm(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("confirm reservation %s: %v", r.ID, err)
	}
	return confirmed
}

// signedContract opens a contract on a confirmed reservation and signs it.
func (h *harness) signedContract(t *testing.T, from, to int) (*domain.Reservation, *domain.Contract) {
	t.Helper()
	ctx := context.Background()
	r := h.confirmedReservation(t, "car-1", from, to)
	c, err := h.contractSvc.Open(ctx, r.ID, service.OpenContractRequest{TermsAndConditions: "standard terms"})
	if err != nil {
		t.Fatalf("open contract: %v", err)
	}
	if _, err := h.contractSvc.Sign(ctx, c.ID, domain.PartyCustomer, asCustomer); err != nil {
		t.Fatalf("customer sign: %v", err)
	}
	c, err = h.contractSvc.Sign(ctx, c.ID, domain.PartyProvider, asProvider)
	if err != nil {
		t.Fatalf("provider sign: %v", err)
	}
	return r, c
}

func (h *harness) reservation(t *testing.T, id string) *domain.Reservation {
	t.Helper()
	r, err := h.reservations.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get reservation %s: %v", id, err)
	}
	return r
}

var _ repository.ReservationRepository = (*MockReservationRepository)(nil)
