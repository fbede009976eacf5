package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.True(t, cfg.CommissionRate.Equal(decimal.RequireFromString("0.20")))
	assert.Equal(t, 48*time.Hour, cfg.ConfirmationWindow)
	assert.Equal(t, 200.0, cfg.CheckInRadiusMeters)
	assert.Equal(t, time.Hour, cfg.CheckInLeadTime)
	assert.Equal(t, 2*time.Hour, cfg.CheckInTimeout)
	assert.Equal(t, 2*time.Minute, cfg.CheckInClockSkew)
	assert.Equal(t, time.Minute, cfg.TimerInterval)
	assert.Equal(t, 100, cfg.TimerBatchSize)
	assert.Equal(t, "platform", cfg.PlatformOwnerID)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("COMMISSION_RATE", "0.15")
	t.Setenv("CONFIRMATION_WINDOW", "24h")
	t.Setenv("TIMER_INTERVAL", "30s")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "escrow")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.15", cfg.CommissionRate.String())
	assert.Equal(t, 24*time.Hour, cfg.ConfirmationWindow)
	assert.Equal(t, 30*time.Second, cfg.TimerInterval)
	assert.Contains(t, cfg.DSN(), "host=db.internal")
	assert.Contains(t, cfg.DSN(), "dbname=escrow")
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"commission above one", "COMMISSION_RATE", "1.5"},
		{"negative commission", "COMMISSION_RATE", "-0.1"},
		{"unparseable commission", "COMMISSION_RATE", "twenty"},
		{"unknown storage", "STORAGE_DRIVER", "sqlite"},
		{"zero window", "CONFIRMATION_WINDOW", "0s"},
		{"zero batch", "TIMER_BATCH_SIZE", "0"},
		{"negative clock skew", "CHECKIN_CLOCK_SKEW", "-1m"},
		{"empty platform owner", "PLATFORM_OWNER_ID", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORAGE_DRIVER", "memory")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
