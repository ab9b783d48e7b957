package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode   string // from the -m flag
	LogLevel  string
	LogFormat string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort            string
	ServiceApiPort     string
	CorsAllowedOrigins []string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	MockServices    bool
	LogEmailsPath   string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageMaxDimension  int
	ImageMaxSizeMB     int
	UploadURLTTL       time.Duration

	// Web push
	VapidPublicKey  string
	VapidPrivateKey string
	VapidSubscriber string

	// Accounts
	AppName             string
	PasswordRegexp      string
	EmailValidationTTL  time.Duration
	PasswordResetTTL    time.Duration
	MaxLocationsPerUser int
	DefaultCurrency     string
	TakerFeesPercent    float64
	OwnerFeesPercent    float64
	MaxTakerFees        int64 // minor units, 0 = uncapped
	MaxOwnerFees        int64
	SettingsCacheTTL    time.Duration
	BookingLockTTL      time.Duration
	BookingLockWait     time.Duration

	// Booking timing
	BookingAcceptTTL          time.Duration
	BookingPaymentTTL         time.Duration
	BookingCompletionDelay    time.Duration
	RatingVisibilityDelayDays int

	// Scheduler (cron specs)
	ScheduleBookingExpiry     string
	ScheduleBookingCompletion string
	ScheduleRatingReveal      string

	// Payment
	PaymentProvider      string
	PaymentWebhookSecret string

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// A missing .env is fine, the environment may be set by the supervisor.
	_ = godotenv.Load()

	cfg := &Config{RunMode: runMode}
	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key, def string) (int, error) {
		v, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return v, nil
	}

	getSeconds := func(key, def string, unit time.Duration) (time.Duration, error) {
		v, err := strconv.ParseInt(getEnv(key, def), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("invalid %s: must not be negative", key)
		}
		return time.Duration(v) * unit, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "marketplace")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowedOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "*"))
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@marketplace.example.com")
	cfg.MockServices = getEnv("MOCK_SERVICES", "") == "true"
	cfg.LogEmailsPath = getEnv("LOG_EMAILS", "")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.VapidPublicKey = getEnv("VAPID_PUBLIC_KEY", "")
	cfg.VapidPrivateKey = getEnv("VAPID_PRIVATE_KEY", "")
	cfg.VapidSubscriber = getEnv("VAPID_SUBSCRIBER", "mailto:admin@marketplace.example.com")
	cfg.AppName = getEnv("APP_NAME", "Marketplace")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")
	cfg.DefaultCurrency = strings.ToUpper(getEnv("CURRENCY", "EUR"))
	cfg.ScheduleBookingExpiry = getEnv("SCHEDULE_BOOKING_EXPIRY", "@every 10m")
	cfg.ScheduleBookingCompletion = getEnv("SCHEDULE_BOOKING_COMPLETION", "@every 1h")
	cfg.ScheduleRatingReveal = getEnv("SCHEDULE_RATING_REVEAL", "@every 1h")
	cfg.PaymentProvider = getEnv("PAYMENT_PROVIDER", "sandbox")
	cfg.PaymentWebhookSecret = getEnv("PAYMENT_WEBHOOK_SECRET", "")

	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}
	if cfg.SmtpPort, err = getInt("SMTP_PORT", "587"); err != nil {
		return nil, err
	}
	if cfg.ImageMaxDimension, err = getInt("IMAGE_MAX_DIMENSION", "2048"); err != nil {
		return nil, err
	}
	if cfg.ImageMaxSizeMB, err = getInt("IMAGE_MAX_SIZE_MB", "10"); err != nil {
		return nil, err
	}
	if cfg.MaxLocationsPerUser, err = getInt("MAX_LOCATIONS_PER_USER", "4"); err != nil {
		return nil, err
	}
	if cfg.RatingVisibilityDelayDays, err = getInt("RATING_VISIBILITY_DELAY_DAYS", "14"); err != nil {
		return nil, err
	}

	if cfg.JwtTTL, err = getSeconds("JWT_TTL_SECONDS", "3600", time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadURLTTL, err = getSeconds("UPLOAD_URL_TTL_SECONDS", "900", time.Second); err != nil {
		return nil, err
	}
	if cfg.EmailValidationTTL, err = getSeconds("EMAIL_VALIDATION_TTL_HOURS", "72", time.Hour); err != nil {
		return nil, err
	}
	if cfg.PasswordResetTTL, err = getSeconds("PASSWORD_RESET_TTL_MINUTES", "30", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SettingsCacheTTL, err = getSeconds("SETTINGS_CACHE_TTL_SECONDS", "60", time.Second); err != nil {
		return nil, err
	}
	if cfg.BookingLockTTL, err = getSeconds("BOOKING_LOCK_TTL_SECONDS", "10", time.Second); err != nil {
		return nil, err
	}
	if cfg.BookingLockWait, err = getSeconds("BOOKING_LOCK_WAIT_SECONDS", "5", time.Second); err != nil {
		return nil, err
	}
	if cfg.BookingAcceptTTL, err = getSeconds("BOOKING_ACCEPT_TTL_HOURS", "168", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BookingPaymentTTL, err = getSeconds("BOOKING_PAYMENT_TTL_HOURS", "48", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BookingCompletionDelay, err = getSeconds("BOOKING_COMPLETION_DELAY_HOURS", "48", time.Hour); err != nil {
		return nil, err
	}

	if cfg.TakerFeesPercent, err = strconv.ParseFloat(getEnv("TAKER_FEES_PERCENT", "15"), 64); err != nil {
		return nil, fmt.Errorf("invalid TAKER_FEES_PERCENT: %w", err)
	}
	if cfg.OwnerFeesPercent, err = strconv.ParseFloat(getEnv("OWNER_FEES_PERCENT", "5"), 64); err != nil {
		return nil, fmt.Errorf("invalid OWNER_FEES_PERCENT: %w", err)
	}
	if cfg.TakerFeesPercent < 0 || cfg.TakerFeesPercent > 100 || cfg.OwnerFeesPercent < 0 || cfg.OwnerFeesPercent > 100 {
		return nil, fmt.Errorf("invalid fees percent: must be within [0, 100]")
	}
	if cfg.MaxTakerFees, err = strconv.ParseInt(getEnv("MAX_TAKER_FEES", "0"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid MAX_TAKER_FEES: %w", err)
	}
	if cfg.MaxOwnerFees, err = strconv.ParseInt(getEnv("MAX_OWNER_FEES", "0"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid MAX_OWNER_FEES: %w", err)
	}

	// Rate Limiting
	if cfg.RateLimitSoftBucketSize, err = getInt("RATE_LIMIT_SOFT_BUCKET_SIZE", "4"); err != nil {
		return nil, err
	}
	if cfg.RateLimitSoftRefillRate, err = getInt("RATE_LIMIT_SOFT_REFILL_RATE", "2"); err != nil {
		return nil, err
	}
	if cfg.RateLimitHardBucketSize, err = getInt("RATE_LIMIT_HARD_BUCKET_SIZE", "16"); err != nil {
		return nil, err
	}
	if cfg.RateLimitHardRefillRate, err = getInt("RATE_LIMIT_HARD_REFILL_RATE", "8"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
