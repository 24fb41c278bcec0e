// Package config loads the flat environment-variable configuration table
// that drives the worker: KV store connection, LLM credentials, the
// chat-gateway send endpoint, the tool-gateway upstream, and OTel export.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-derived tunable for the worker process.
type Config struct {
	// KV store (Redis-compatible).
	RedisURL string

	// LLM.
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	OpenAIEmbeddingModel  string
	AIConfidenceThreshold float64

	// Chat gateway (Infobip-style WhatsApp send + inbound HMAC verification).
	InfobipBaseURL      string
	InfobipAPIKey       string
	InfobipSenderNumber string
	InfobipSecretKey    string

	// Tool gateway upstream and OAuth2 client-credentials refresh.
	MobilityAPIURL       string
	MobilityAPIToken     string
	MobilityAuthURL      string
	MobilityClientID     string
	MobilityClientSecret string
	MobilityScope        string

	// OpenAPI hot-reload source; empty means a local file is used instead.
	SwaggerURL       string
	SwaggerLocalPath string
	ReloadInterval   time.Duration

	// AppEnv gates log encoding and the webhook signature-check bypass.
	AppEnv string

	// Optional error-reporting endpoint.
	SentryDSN string

	// Relational identity store.
	DatabaseURL string

	Telemetry TelemetryConfig
}

// TelemetryConfig configures OTel export. Field set is fixed by
// internal/telemetry.Init's signature.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// DefaultConfig returns a Config with every field set to its zero-risk
// default, then overridden by Load from the process environment.
func DefaultConfig() Config {
	return Config{
		RedisURL:              "redis://localhost:6379/0",
		OpenAIModel:           "gpt-4o-mini",
		OpenAIEmbeddingModel:  "text-embedding-3-small",
		AIConfidenceThreshold: 0.25,
		AppEnv:                EnvDevelopment,
		SwaggerLocalPath:      "openapi.json",
		ReloadInterval:        300 * time.Second,
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "fleetbridge-worker",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   0.1,
		},
	}
}

// Load builds a Config from the process environment, falling back to
// DefaultConfig's values for anything unset.
func Load() Config {
	cfg := DefaultConfig()

	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAIModel = getenv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIEmbeddingModel = getenv("OPENAI_EMBEDDING_MODEL", cfg.OpenAIEmbeddingModel)
	cfg.AIConfidenceThreshold = getfloat("AI_CONFIDENCE_THRESHOLD", cfg.AIConfidenceThreshold)

	cfg.InfobipBaseURL = os.Getenv("INFOBIP_BASE_URL")
	cfg.InfobipAPIKey = os.Getenv("INFOBIP_API_KEY")
	cfg.InfobipSenderNumber = os.Getenv("INFOBIP_SENDER_NUMBER")
	cfg.InfobipSecretKey = os.Getenv("INFOBIP_SECRET_KEY")

	cfg.MobilityAPIURL = os.Getenv("MOBILITY_API_URL")
	cfg.MobilityAPIToken = os.Getenv("MOBILITY_API_TOKEN")
	cfg.MobilityAuthURL = os.Getenv("MOBILITY_AUTH_URL")
	cfg.MobilityClientID = os.Getenv("MOBILITY_CLIENT_ID")
	cfg.MobilityClientSecret = os.Getenv("MOBILITY_CLIENT_SECRET")
	cfg.MobilityScope = os.Getenv("MOBILITY_SCOPE")

	cfg.SwaggerURL = os.Getenv("SWAGGER_URL")
	cfg.SwaggerLocalPath = getenv("SWAGGER_LOCAL_PATH", cfg.SwaggerLocalPath)
	cfg.ReloadInterval = mustDuration("SWAGGER_RELOAD_INTERVAL", cfg.ReloadInterval)
	cfg.AppEnv = getenv("APP_ENV", cfg.AppEnv)
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.Telemetry.Enabled = getbool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = getenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.SampleRate = getfloat("OTEL_SAMPLE_RATE", cfg.Telemetry.SampleRate)

	return cfg
}

// IsDevelopment reports whether AppEnv selects the development profile
// (console log encoding, webhook signature-check bypass, debug-KV preview
// caching for oversized context entries).
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getfloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getbool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// mustDuration parses a duration env var, returning def on any parse error.
func mustDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
