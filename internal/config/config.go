package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the engine.
type Config struct {
	// HTTP listen address
	HTTPAddr string
	// Path to the signal definitions file (YAML or JSON)
	SignalsFile string
	// Log level (trace, debug, info, warn, error)
	LogLevel string

	// Simulator settings
	SimInterval  time.Duration
	SimAutostart bool

	// Kafka alert publishing (disabled when Brokers is empty)
	Kafka KafkaConfig
}

// KafkaConfig holds settings for the downstream alert event stream.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTPAddr:     ":8080",
		SignalsFile:  "configs/signals.yaml",
		LogLevel:     "info",
		SimInterval:  time.Second,
		SimAutostart: false,
		Kafka: KafkaConfig{
			Topic:        "vehicle.alerts",
			BatchSize:    50,
			BatchTimeout: 200 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		},
	}
}

// Load builds a Config from the environment, falling back to defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SIGNALS_FILE"); v != "" {
		cfg.SignalsFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SimInterval = d
		}
	}
	if v := os.Getenv("SIM_AUTOSTART"); v != "" {
		cfg.SimAutostart, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_ALERTS_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}

	return cfg
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
