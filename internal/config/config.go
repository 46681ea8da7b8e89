package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	MongoURI    string
	RedisAddr   string
	RabbitURL   string

	HoldTTL       time.Duration
	SweepInterval time.Duration
	// SweepGrace delays expiry past the payment deadline so an in-flight
	// payment confirmation cannot race the sweep on a fresh deadline.
	SweepGrace time.Duration

	OTLPEndpoint string

	Provider Provider
}

// Provider configures the external venue/event catalog client.
type Provider struct {
	Enabled      bool
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxAttempts  int
	BackoffDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		HoldTTL:       duration("HOLD_TTL", 15*time.Minute),
		SweepInterval: duration("SWEEP_INTERVAL", time.Minute),
		SweepGrace:    duration("SWEEP_GRACE", 30*time.Second),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Provider: Provider{
			Enabled:      getenv("PROVIDER_ENABLED", "false") == "true",
			BaseURL:      getenv("PROVIDER_BASE_URL", "https://api.external-venues.com/v1"),
			APIKey:       os.Getenv("PROVIDER_API_KEY"),
			Timeout:      duration("PROVIDER_TIMEOUT", 30*time.Second),
			MaxAttempts:  integer("PROVIDER_MAX_ATTEMPTS", 3),
			BackoffDelay: duration("PROVIDER_BACKOFF_DELAY", time.Second),
		},
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func integer(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
