package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("api")
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.RunMode)
	assert.Equal(t, time.Hour, cfg.JwtTTL)
	assert.Equal(t, 15.0, cfg.TakerFeesPercent)
	assert.Equal(t, 5.0, cfg.OwnerFeesPercent)
	assert.Equal(t, 168*time.Hour, cfg.BookingAcceptTTL)
	assert.Equal(t, 48*time.Hour, cfg.BookingPaymentTTL)
	assert.Equal(t, 14, cfg.RatingVisibilityDelayDays)
	assert.Equal(t, 4, cfg.MaxLocationsPerUser)
	assert.Equal(t, "sandbox", cfg.PaymentProvider)
	assert.Equal(t, []string{"*"}, cfg.CorsAllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CURRENCY", "usd")
	t.Setenv("TAKER_FEES_PERCENT", "12.5")
	t.Setenv("MAX_OWNER_FEES", "2500")
	t.Setenv("BOOKING_ACCEPT_TTL_HOURS", "24")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load("all")
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, 12.5, cfg.TakerFeesPercent)
	assert.Equal(t, int64(2500), cfg.MaxOwnerFees)
	assert.Equal(t, 24*time.Hour, cfg.BookingAcceptTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load("api")
	assert.ErrorContains(t, err, "MONGO_URI")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"REDIS_DB":                  "one",
		"JWT_TTL_SECONDS":           "-5",
		"TAKER_FEES_PERCENT":        "120",
		"BOOKING_PAYMENT_TTL_HOURS": "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, value)
			_, err := Load("api")
			assert.Error(t, err)
		})
	}
}
