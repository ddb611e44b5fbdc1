package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NewRelic    NewRelicConfig
	Log         LogConfig
	Reservation ReservationConfig
	Pricing     PricingConfig
	Stripe      StripeConfig
	Regulatory  RegulatoryConfig
	Kafka       KafkaConfig
	Jobs        JobsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string // empty allows any origin
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// ReservationConfig bounds every blocking call made by the reservation engine.
type ReservationConfig struct {
	StoreTimeout       time.Duration
	ExternalTimeout    time.Duration
	LockAcquireTimeout time.Duration
	LockTTL            time.Duration
	LockBackend        string // redis or local
	CatalogCacheTTL    time.Duration
}

// PricingConfig holds fee rates and the surge policy.
// Decimal values are kept as strings so they are never parsed through float64.
type PricingConfig struct {
	DriverFeeRate     string      `yaml:"driver_fee_rate"`
	PlatformFeeRate   string      `yaml:"platform_fee_rate"`
	ProviderShareRate string      `yaml:"provider_share_rate"`
	Surge             SurgeConfig `yaml:"surge"`
}

// SurgeConfig selects and parameterizes the surge policy.
type SurgeConfig struct {
	Mode           string        `yaml:"mode"` // flat or demand
	FlatMultiplier string        `yaml:"flat_multiplier"`
	Window         time.Duration `yaml:"window"`
	MaxMultiplier  string        `yaml:"max_multiplier"`
	Tiers          []SurgeTier   `yaml:"tiers"`
}

// SurgeTier applies Multiplier once asset utilization reaches MinUtilization.
type SurgeTier struct {
	MinUtilization float64 `yaml:"min_utilization"`
	Multiplier     string  `yaml:"multiplier"`
}

// StripeConfig holds payment gateway credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// RegulatoryConfig holds the contract registry endpoint.
type RegulatoryConfig struct {
	BaseURL string
	APIKey  string
}

// KafkaConfig holds lifecycle event publishing configuration.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	LifecycleTopic string
	LoyaltyTopic   string
}

// JobsConfig holds cron specs for background jobs.
type JobsConfig struct {
	ContractPollSpec string // six-field cron spec, seconds first
}

// DefaultSurgeTiers mirrors the utilization bands used when no overlay is given.
func DefaultSurgeTiers() []SurgeTier {
	return []SurgeTier{
		{MinUtilization: 0.50, Multiplier: "1.2"},
		{MinUtilization: 0.80, Multiplier: "1.5"},
	}
}

// Load loads configuration from environment variables, then applies the
// optional pricing overlay named by PRICING_CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 40*time.Second),
			CORSOrigins:  getListEnv("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "rental"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "rental-reservation-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Reservation: ReservationConfig{
			StoreTimeout:       getDurationEnv("STORE_TIMEOUT", 3*time.Second),
			ExternalTimeout:    getDurationEnv("EXTERNAL_TIMEOUT", 30*time.Second),
			LockAcquireTimeout: getDurationEnv("LOCK_ACQUIRE_TIMEOUT", 2*time.Second),
			LockTTL:            getDurationEnv("LOCK_TTL", 10*time.Second),
			LockBackend:        getEnv("LOCK_BACKEND", "redis"),
			CatalogCacheTTL:    getDurationEnv("CATALOG_CACHE_TTL", 30*time.Second),
		},
		Pricing: PricingConfig{
			DriverFeeRate:   getEnv("DRIVER_FEE_RATE", "0.15"),
			PlatformFeeRate: getEnv("PLATFORM_FEE_RATE", "0.10"),

			// Placeholder share with no documented business rule behind it.
			ProviderShareRate: getEnv("PROVIDER_SHARE_RATE", "0.70"),

			Surge: SurgeConfig{
				Mode:           getEnv("SURGE_MODE", "flat"),
				FlatMultiplier: getEnv("SURGE_FLAT_MULTIPLIER", "1.0"),
				Window:         getDurationEnv("SURGE_WINDOW", 72*time.Hour),
				MaxMultiplier:  getEnv("SURGE_MAX_MULTIPLIER", "2.0"),
				Tiers:          DefaultSurgeTiers(),
			},
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      getEnv("STRIPE_CURRENCY", "aed"),
		},
		Regulatory: RegulatoryConfig{
			BaseURL: getEnv("RTA_API_URL", "http://localhost:9090"),
			APIKey:  getEnv("RTA_API_KEY", ""),
		},
		Kafka: KafkaConfig{
			Enabled:        getBoolEnv("KAFKA_ENABLED", false),
			Brokers:        getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			LifecycleTopic: getEnv("KAFKA_LIFECYCLE_TOPIC", "reservation.lifecycle"),
			LoyaltyTopic:   getEnv("KAFKA_LOYALTY_TOPIC", "loyalty.reservation-completed"),
		},
		Jobs: JobsConfig{
			ContractPollSpec: getEnv("CONTRACT_POLL_SPEC", "0 */15 * * * *"),
		},
	}

	if path := os.Getenv("PRICING_CONFIG_FILE"); path != "" {
		if err := cfg.Pricing.overlay(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overlay replaces any field present in the YAML file at path.
func (p *PricingConfig) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pricing config: %w", err)
	}

	var file PricingConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse pricing config %s: %w", path, err)
	}

	if file.DriverFeeRate != "" {
		p.DriverFeeRate = file.DriverFeeRate
	}
	if file.PlatformFeeRate != "" {
		p.PlatformFeeRate = file.PlatformFeeRate
	}
	if file.ProviderShareRate != "" {
		p.ProviderShareRate = file.ProviderShareRate
	}
	if file.Surge.Mode != "" {
		p.Surge.Mode = file.Surge.Mode
	}
	if file.Surge.FlatMultiplier != "" {
		p.Surge.FlatMultiplier = file.Surge.FlatMultiplier
	}
	if file.Surge.Window > 0 {
		p.Surge.Window = file.Surge.Window
	}
	if file.Surge.MaxMultiplier != "" {
		p.Surge.MaxMultiplier = file.Surge.MaxMultiplier
	}
	if len(file.Surge.Tiers) > 0 {
		p.Surge.Tiers = file.Surge.Tiers
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
