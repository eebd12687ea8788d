// Package config loads runtime configuration from a .env file or the
// environment, with one consistent set of defaults for every timeout used
// across the connection core.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the full runtime configuration.
type AppConfig struct {
	// Upstream endpoints.
	WSEndpoint   string
	HTTPEndpoint string

	// Connection behavior.
	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	RecvTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferCapacity   int
	EventBuffer      int

	// Supervision.
	SweepInterval   time.Duration
	StaleThreshold  time.Duration
	DisconnectGrace time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MaxAttempts     int

	// Sensor bridge.
	SensorMaxAge time.Duration

	Kafka   KafkaConfig
	Logging LoggerConfig
}

// KafkaConfig enables the message sink when Broker is non-empty.
type KafkaConfig struct {
	Broker string
	Topic  string
}

// LoggerConfig tunes the logrus setup.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Load reads configuration from .env (if present) and the environment.
func Load() *AppConfig {
	_ = godotenv.Load()

	return &AppConfig{
		WSEndpoint:   getEnv("GUST_WS_ENDPOINT", "wss://www.g-portal.com/ngpapi/"),
		HTTPEndpoint: getEnv("GUST_HTTP_ENDPOINT", "https://www.g-portal.com/ngpapi/"),

		HandshakeTimeout: getEnvAsDuration("GUST_HANDSHAKE_TIMEOUT", 30*time.Second),
		AckTimeout:       getEnvAsDuration("GUST_ACK_TIMEOUT", 10*time.Second),
		RecvTimeout:      getEnvAsDuration("GUST_RECV_TIMEOUT", 10*time.Second),
		WriteTimeout:     getEnvAsDuration("GUST_WRITE_TIMEOUT", 10*time.Second),
		BufferCapacity:   getEnvAsInt("GUST_BUFFER_CAPACITY", 500),
		EventBuffer:      getEnvAsInt("GUST_EVENT_BUFFER", 256),

		SweepInterval:   getEnvAsDuration("GUST_SWEEP_INTERVAL", 120*time.Second),
		StaleThreshold:  getEnvAsDuration("GUST_STALE_THRESHOLD", 120*time.Second),
		DisconnectGrace: getEnvAsDuration("GUST_DISCONNECT_GRACE", 5*time.Second),
		BackoffBase:     getEnvAsDuration("GUST_BACKOFF_BASE", 2*time.Second),
		BackoffCap:      getEnvAsDuration("GUST_BACKOFF_CAP", 60*time.Second),
		MaxAttempts:     getEnvAsInt("GUST_MAX_RECONNECT_ATTEMPTS", 5),

		SensorMaxAge: getEnvAsDuration("GUST_SENSOR_MAX_AGE", 60*time.Second),

		Kafka: KafkaConfig{
			Broker: getEnv("GUST_KAFKA_BROKER", ""),
			Topic:  getEnv("GUST_KAFKA_TOPIC", "gust_console"),
		},
		Logging: LoggerConfig{
			Level:  getEnv("GUST_LOG_LEVEL", "info"),
			Format: getEnv("GUST_LOG_FORMAT", "text"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
