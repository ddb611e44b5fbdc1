package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PRICING_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.15", cfg.Pricing.DriverFeeRate)
	assert.Equal(t, "0.10", cfg.Pricing.PlatformFeeRate)
	assert.Equal(t, "flat", cfg.Pricing.Surge.Mode)
	assert.Equal(t, DefaultSurgeTiers(), cfg.Pricing.Surge.Tiers)
	assert.Equal(t, 3*time.Second, cfg.Reservation.StoreTimeout)
	assert.Equal(t, "aed", cfg.Stripe.Currency)
	assert.Equal(t, "0 */15 * * * *", cfg.Jobs.ContractPollSpec)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRICING_CONFIG_FILE", "")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("LOCK_BACKEND", "local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Reservation.StoreTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable values fall back to the default")
	assert.Equal(t, "local", cfg.Reservation.LockBackend)
}

func TestLoad_PricingOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	body := `
platform_fee_rate: "0.12"
surge:
  mode: demand
  window: 48h
  tiers:
    - min_utilization: 0.6
      multiplier: "1.3"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("PRICING_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.15", cfg.Pricing.DriverFeeRate, "absent keys keep env values")
	assert.Equal(t, "0.12", cfg.Pricing.PlatformFeeRate)
	assert.Equal(t, "demand", cfg.Pricing.Surge.Mode)
	assert.Equal(t, 48*time.Hour, cfg.Pricing.Surge.Window)
	assert.Equal(t, []SurgeTier{{MinUtilization: 0.6, Multiplier: "1.3"}}, cfg.Pricing.Surge.Tiers)
}

func TestLoad_PricingOverlayMissingFile(t *testing.T) {
	t.Setenv("PRICING_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
