package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental/internal/config"
	"rental/internal/domain"
	"rental/internal/metrics"
	"rental/internal/repository/memory"
	"rental/internal/service"
)

// ──────────────────────────────────────────────
// PRICING CONFIG
// ──────────────────────────────────────────────

func TestNewCalculator_ParsesRates(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(config.PricingConfig{
		DriverFeeRate:   "0.20",
		PlatformFeeRate: "0.05",
	})
	require.NoError(t, err)

	rates := calc.Rates()
	assert.True(t, rates.DriverFeeRate.Equal(decimal.RequireFromString("0.20")))
	assert.True(t, rates.PlatformFeeRate.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, rates.ProviderShareRate.Equal(decimal.RequireFromString("0.70")), "unset rate keeps default")
}

func TestNewCalculator_RejectsBadRates(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"abc", "-0.1", "1.5"} {
		_, err := NewCalculator(config.PricingConfig{DriverFeeRate: raw})
		assert.Error(t, err, raw)
	}
}

func TestNewSurgePolicy(t *testing.T) {
	t.Parallel()
	repo := memory.NewReservationRepository()
	timeouts := service.DefaultTimeouts()
	iv := domain.Interval{
		Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}

	t.Run("flat", func(t *testing.T) {
		p, err := NewSurgePolicy(config.SurgeConfig{Mode: "flat", FlatMultiplier: "1.3"}, repo, timeouts, zerolog.Nop())
		require.NoError(t, err)
		assert.True(t, p.Multiplier(context.Background(), "car-1", iv, "").Equal(decimal.RequireFromString("1.3")))
	})

	t.Run("demand on an empty calendar", func(t *testing.T) {
		p, err := NewSurgePolicy(config.SurgeConfig{
			Mode:          "Demand",
			Window:        24 * time.Hour,
			MaxMultiplier: "1.8",
			Tiers:         config.DefaultSurgeTiers(),
		}, repo, timeouts, zerolog.Nop())
		require.NoError(t, err)
		assert.True(t, p.Multiplier(context.Background(), "car-1", iv, "").Equal(decimal.NewFromInt(1)))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewSurgePolicy(config.SurgeConfig{Mode: "weather"}, repo, timeouts, zerolog.Nop())
		assert.Error(t, err)

		_, err = NewSurgePolicy(config.SurgeConfig{
			Mode:  "demand",
			Tiers: []config.SurgeTier{{MinUtilization: 1.5, Multiplier: "2"}},
		}, repo, timeouts, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("multiplier precision", func(t *testing.T) {
		_, err := NewSurgePolicy(config.SurgeConfig{
			Mode:  "demand",
			Tiers: []config.SurgeTier{{MinUtilization: 0.5, Multiplier: "1.2345"}},
		}, repo, timeouts, zerolog.Nop())
		assert.ErrorContains(t, err, "decimal places")

		_, err = NewSurgePolicy(config.SurgeConfig{Mode: "flat", FlatMultiplier: "1.0001"}, repo, timeouts, zerolog.Nop())
		assert.Error(t, err)

		_, err = NewSurgePolicy(config.SurgeConfig{Mode: "demand", MaxMultiplier: "1000"}, repo, timeouts, zerolog.Nop())
		assert.Error(t, err)

		p, err := NewSurgePolicy(config.SurgeConfig{Mode: "flat", FlatMultiplier: "1.125"}, repo, timeouts, zerolog.Nop())
		require.NoError(t, err)
		assert.True(t, p.Multiplier(context.Background(), "car-1", iv, "").Equal(decimal.RequireFromString("1.125")))
	})
}

func TestNewTimeouts(t *testing.T) {
	t.Parallel()

	got := NewTimeouts(config.ReservationConfig{StoreTimeout: time.Second, LockTTL: 5 * time.Second})
	assert.Equal(t, time.Second, got.Store)
	assert.Equal(t, 5*time.Second, got.Operation)
	assert.Equal(t, service.DefaultTimeouts().External, got.External)
}

// ──────────────────────────────────────────────
// ROUTER
// ──────────────────────────────────────────────

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ReservationTransition("CONFIRMED")

	router := NewRouter(RouterDeps{Gatherer: reg, Log: zerolog.Nop()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rental_")
}

func TestRouter_CORSAllowList(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	router := NewRouter(RouterDeps{CORSOrigins: []string{"https://app.example.com"}, Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
