package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Database
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword    string        `envconfig:"DB_PASSWORD" default:"password"`
	DBName        string        `envconfig:"DB_NAME" default:"bookings"`
	DBSSLMode     string        `envconfig:"DB_SSLMODE" default:"disable"`
	StorageDriver string        `envconfig:"STORAGE_DRIVER" default:"postgres"`
	LockTimeout   time.Duration `envconfig:"LOCK_TIMEOUT" default:"500ms"`

	// Server
	ServerPort     string   `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	RateLimitRPS   float64  `envconfig:"RATE_LIMIT_RPS" default:"10"`
	RateLimitBurst int      `envconfig:"RATE_LIMIT_BURST" default:"20"`
	CORSOrigins    []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Events
	RedisURL      string `envconfig:"REDIS_URL"`
	EventsChannel string `envconfig:"EVENTS_CHANNEL" default:"booking-events"`

	// Escrow rules
	CommissionRate      decimal.Decimal `envconfig:"COMMISSION_RATE" default:"0.20"`
	ConfirmationWindow  time.Duration   `envconfig:"CONFIRMATION_WINDOW" default:"48h"`
	CheckInRadiusMeters float64         `envconfig:"CHECKIN_RADIUS_METERS" default:"200"`
	CheckInLeadTime     time.Duration   `envconfig:"CHECKIN_LEAD_TIME" default:"1h"`
	CheckInTimeout      time.Duration   `envconfig:"CHECKIN_TIMEOUT" default:"2h"`
	CheckInClockSkew    time.Duration   `envconfig:"CHECKIN_CLOCK_SKEW" default:"2m"`
	PlatformOwnerID     string          `envconfig:"PLATFORM_OWNER_ID" default:"platform"`

	// Timer
	TimerInterval  time.Duration `envconfig:"TIMER_INTERVAL" default:"1m"`
	TimerBatchSize int           `envconfig:"TIMER_BATCH_SIZE" default:"100"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be between 0 and 1, got %s", c.CommissionRate)
	}
	if c.ConfirmationWindow <= 0 {
		return fmt.Errorf("CONFIRMATION_WINDOW must be positive")
	}
	if c.CheckInRadiusMeters <= 0 {
		return fmt.Errorf("CHECKIN_RADIUS_METERS must be positive")
	}
	if c.CheckInTimeout <= 0 || c.CheckInLeadTime < 0 {
		return fmt.Errorf("CHECKIN_TIMEOUT must be positive and CHECKIN_LEAD_TIME non-negative")
	}
	if c.CheckInClockSkew < 0 {
		return fmt.Errorf("CHECKIN_CLOCK_SKEW must be non-negative")
	}
	if c.TimerInterval <= 0 || c.TimerBatchSize <= 0 {
		return fmt.Errorf("TIMER_INTERVAL and TIMER_BATCH_SIZE must be positive")
	}
	switch c.StorageDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.StorageDriver)
	}
	if c.PlatformOwnerID == "" {
		return fmt.Errorf("PLATFORM_OWNER_ID is required")
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
