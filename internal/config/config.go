package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	GeoKeyPrefix  string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LocationTTL      time.Duration
	SamplingInterval time.Duration
	DefaultRadiusKm  float64
	VendorTypes      []string
	DefaultSpeedMps  float64

	ProfileBaseURL string
	PushEndpoint   string
	OSRMEndpoint   string
	StripeAPIKey   string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		GeoKeyPrefix:     "vendors_geo",
		KafkaTopic:       "request-state-changes",
		LocationTTL:      time.Hour,
		SamplingInterval: 30 * time.Minute,
		DefaultRadiusKm:  15,
		VendorTypes:      []string{"collector"},
		DefaultSpeedMps:  10,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.GeoKeyPrefix, "REDIS_GEO_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.LocationTTL, "LOCATION_TTL", &errs)
	setDurationFromEnv(&cfg.SamplingInterval, "HISTORY_SAMPLING_INTERVAL", &errs)
	setFloatFromEnv(&cfg.DefaultRadiusKm, "MATCH_DEFAULT_RADIUS_KM", &errs)
	if types := os.Getenv("VENDOR_TYPES"); types != "" {
		cfg.VendorTypes = splitAndTrim(types)
	}
	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)

	setStringFromEnv(&cfg.ProfileBaseURL, "PROFILE_BASE_URL")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.LocationTTL <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_TTL must be > 0"))
	}
	if cfg.SamplingInterval <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_SAMPLING_INTERVAL must be > 0"))
	}
	if cfg.DefaultRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_DEFAULT_RADIUS_KM must be > 0"))
	}
	if len(cfg.VendorTypes) == 0 {
		errs = append(errs, fmt.Errorf("VENDOR_TYPES must name at least one type"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig captures the invalidation worker's environment.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	MetricsAddr  string
}

func LoadConsumerConfig() ConsumerConfig {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "request-state-changes",
		KafkaGroup:   "pickup-dispatch-invalidator",
		RedisAddr:    "localhost:6379",
		MetricsAddr:  ":2112",
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	return cfg
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
