package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBAutoMigrate      bool
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	LogLevel        string
	LogFormat       string
	ServiceName     string
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	MetricsEnabled  bool
	MetricsBuckets  string
	SecurityHeaders bool
	EnableHSTS      bool

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTSkew     time.Duration

	CommerceBaseURL        string
	CommerceConsumerKey    string
	CommerceConsumerSecret string
	CommerceTimeout        time.Duration
	TablesSource           string
	TablesFile             string
	TablesCacheTTL         time.Duration
	TablesRefresh          time.Duration

	CurrencyCode   string
	VatHomeCountry string
	VatCacheTTL    time.Duration
	ViesBaseURL    string
	ViesTimeout    time.Duration
	ViesRatePerSec float64
	ViesBurst      int
	// ViesMaxWait bounds how long an API request queues for a VIES token.
	ViesMaxWait    time.Duration

	EmailCheckCacheTTL time.Duration

	PaymentsBaseURL string
	PaymentSuccess  string
	PaymentCancel   string

	CheckoutLockTTL time.Duration
	IdempotencyTTL  time.Duration

	RateLimitBackend string
	RateLimitWindow  time.Duration
	RateLimitMax     int

	RetryBase           time.Duration
	RetryMaxAttempts    int
	RetryJitterPercent  float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	QueueConcurrency   int
	QueueMaxRetry      int
	ReconcileTaskDelay time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		DBAutoMigrate:      parseBoolDefault(k.String("DB_AUTO_MIGRATE"), true),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),

		LogLevel:        valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:       valueOrDefault(k.String("LOG_FORMAT"), "json"),
		ServiceName:     valueOrDefault(k.String("OTEL_SERVICE_NAME"), "checkout-api"),
		OTelEnabled:     parseBoolDefault(k.String("OTEL_ENABLED"), false),
		OTelEndpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSampleRatio: parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),
		MetricsEnabled:  parseBoolDefault(k.String("METRICS_ENABLED"), true),
		MetricsBuckets:  k.String("METRICS_BUCKETS_MS"),
		SecurityHeaders: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		EnableHSTS:      parseBoolDefault(k.String("SECURITY_HSTS_ENABLED"), false),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTSkew:     parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),

		CommerceBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("COMMERCE_BASE_URL")), "/"),
		CommerceConsumerKey:    k.String("COMMERCE_CONSUMER_KEY"),
		CommerceConsumerSecret: k.String("COMMERCE_CONSUMER_SECRET"),
		CommerceTimeout:        parseDuration(k.String("COMMERCE_TIMEOUT"), "10s"),
		TablesSource:           strings.ToLower(valueOrDefault(k.String("TABLES_SOURCE"), "commerce")),
		TablesFile:             valueOrDefault(k.String("TABLES_FILE"), "tables.yaml"),
		TablesCacheTTL:         parseDuration(k.String("TABLES_CACHE_TTL"), "10m"),
		TablesRefresh:          parseDuration(k.String("TABLES_REFRESH_INTERVAL"), "5m"),

		CurrencyCode:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "EUR")),
		VatHomeCountry: strings.ToUpper(valueOrDefault(k.String("VAT_HOME_COUNTRY"), "DE")),
		VatCacheTTL:    parseDuration(k.String("VAT_CACHE_TTL"), "24h"),
		ViesBaseURL:    valueOrDefault(k.String("VIES_BASE_URL"), "https://ec.europa.eu/taxation_customs/vies/rest-api"),
		ViesTimeout:    parseDuration(k.String("VIES_TIMEOUT"), "5s"),
		ViesRatePerSec: parseFloat(k.String("VIES_RATE_PER_SEC"), 5),
		ViesBurst:      parseInt(k.String("VIES_BURST"), 10),
		ViesMaxWait:    parseDuration(k.String("VIES_MAX_WAIT"), "250ms"),

		EmailCheckCacheTTL: parseDuration(k.String("EMAIL_CHECK_CACHE_TTL"), "2m"),

		PaymentsBaseURL: strings.TrimRight(strings.TrimSpace(k.String("PAYMENTS_BASE_URL")), "/"),
		PaymentSuccess:  k.String("PAYMENT_SUCCESS_URL"),
		PaymentCancel:   k.String("PAYMENT_CANCEL_URL"),

		CheckoutLockTTL: parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RateLimitBackend: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "ulule")),
		RateLimitWindow:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:     parseInt(k.String("RATE_LIMIT_MAX"), 60),

		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:  parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		QueueConcurrency:   parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		QueueMaxRetry:      parseInt(k.String("QUEUE_MAX_RETRY"), 10),
		ReconcileTaskDelay: parseDuration(k.String("RECONCILE_TASK_DELAY"), "15m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TablesSource == "commerce" && cfg.CommerceBaseURL == "" {
		return nil, errors.New("COMMERCE_BASE_URL is required when TABLES_SOURCE=commerce")
	}
	if len(cfg.VatHomeCountry) != 2 {
		return nil, fmt.Errorf("VAT_HOME_COUNTRY must be an ISO country code, got %q", cfg.VatHomeCountry)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
