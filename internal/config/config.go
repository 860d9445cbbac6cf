package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds storefront checkout configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	BackendURL     string
	PublishableKey string

	ScriptURL         string
	ScriptEntryPoint  string
	ScriptLoadTimeout time.Duration

	StoreName        string
	ThemeColor       string
	ConfirmationPath string
	SubmitTimeout    time.Duration
	LeaseTTL         time.Duration

	OutboundTimeout           time.Duration
	CircuitBackendMinReq      int
	CircuitBackendFailureRate float64
	CircuitBackendOpenFor     time.Duration

	IdempotencyTTL time.Duration
	PayRateLimit   string

	BodyLimitBytes  int64
	SecurityHeaders bool
	HSTSEnabled     bool

	TaskQueueEnabled  bool
	TaskQueueName     string
	WorkerConcurrency int

	AlertWebhookURL    string
	AlertWebhookSecret string
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
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		BackendURL:     strings.TrimRight(strings.TrimSpace(k.String("STORE_BACKEND_URL")), "/"),
		PublishableKey: strings.TrimSpace(k.String("STORE_PUBLISHABLE_KEY")),

		ScriptURL:         valueOrDefault(k.String("CHECKOUT_SCRIPT_URL"), "https://checkout.razorpay.com/v1/checkout.js"),
		ScriptEntryPoint:  valueOrDefault(k.String("CHECKOUT_SCRIPT_ENTRYPOINT"), "Razorpay"),
		ScriptLoadTimeout: parseDuration(k.String("CHECKOUT_SCRIPT_LOAD_TIMEOUT"), "10s"),

		StoreName:        valueOrDefault(k.String("STORE_NAME"), "Your Store"),
		ThemeColor:       valueOrDefault(k.String("CHECKOUT_THEME_COLOR"), "#3399cc"),
		ConfirmationPath: valueOrDefault(k.String("ORDER_CONFIRMATION_PATH"), "/order/confirmed"),
		SubmitTimeout:    parseDuration(k.String("CHECKOUT_SUBMIT_TIMEOUT"), "0s"),
		LeaseTTL:         parseDuration(k.String("CHECKOUT_LEASE_TTL"), "30m"),

		OutboundTimeout:           parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		CircuitBackendMinReq:      parseInt(k.String("CIRCUIT_BACKEND_MIN_REQ"), 5),
		CircuitBackendFailureRate: parseFloat(k.String("CIRCUIT_BACKEND_FAILURE_RATE"), 0.5),
		CircuitBackendOpenFor:     parseDuration(k.String("CIRCUIT_BACKEND_OPEN_FOR"), "30s"),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		PayRateLimit:   valueOrDefault(k.String("RATE_LIMIT_PAY"), "20-M"),

		BodyLimitBytes:  int64(parseInt(k.String("SECURE_BODY_LIMIT_BYTES"), 16<<10)),
		SecurityHeaders: parseBoolDefault(k.String("SECURE_HEADERS_ENABLED"), true),
		HSTSEnabled:     parseBoolDefault(k.String("SECURE_HSTS_ENABLED"), false),

		TaskQueueEnabled:  parseBoolDefault(k.String("TASK_QUEUE_ENABLED"), true),
		TaskQueueName:     valueOrDefault(k.String("TASK_QUEUE_NAME"), "checkout"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),

		AlertWebhookURL:    strings.TrimSpace(k.String("ALERT_WEBHOOK_URL")),
		AlertWebhookSecret: strings.TrimSpace(k.String("ALERT_WEBHOOK_SECRET")),
	}

	if cfg.BackendURL == "" {
		return nil, errors.New("STORE_BACKEND_URL is required")
	}
	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("STORE_BACKEND_URL must be an absolute url: %q", cfg.BackendURL)
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ConfirmationPath != "" && !strings.HasPrefix(cfg.ConfirmationPath, "/") {
		cfg.ConfirmationPath = "/" + cfg.ConfirmationPath
	}
	cfg.ConfirmationPath = strings.TrimRight(cfg.ConfirmationPath, "/")

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
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
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

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
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

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
