package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies every knob falls back to its documented default
// when the environment is empty.
func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NotNil(t, cfg)

	assert.Equal(t, "wss://www.g-portal.com/ngpapi/", cfg.WSEndpoint)
	assert.Equal(t, "https://www.g-portal.com/ngpapi/", cfg.HTTPEndpoint)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, cfg.AckTimeout)
	assert.Equal(t, 10*time.Second, cfg.RecvTimeout)
	assert.Equal(t, 500, cfg.BufferCapacity)
	assert.Equal(t, 120*time.Second, cfg.SweepInterval)
	assert.Equal(t, 120*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.BackoffCap)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.SensorMaxAge)
	assert.Empty(t, cfg.Kafka.Broker)
	assert.Equal(t, "gust_console", cfg.Kafka.Topic)
	assert.Equal(t, "info", cfg.Logging.Level)
}

// TestLoadOverrides verifies environment variables take precedence over
// defaults, and that malformed values fall back instead of failing.
func TestLoadOverrides(t *testing.T) {
	t.Setenv("GUST_WS_ENDPOINT", "wss://example.test/graphql")
	t.Setenv("GUST_BUFFER_CAPACITY", "1000")
	t.Setenv("GUST_STALE_THRESHOLD", "3m")
	t.Setenv("GUST_KAFKA_BROKER", "kafka:9092")
	t.Setenv("GUST_MAX_RECONNECT_ATTEMPTS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "wss://example.test/graphql", cfg.WSEndpoint)
	assert.Equal(t, 1000, cfg.BufferCapacity)
	assert.Equal(t, 3*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, "kafka:9092", cfg.Kafka.Broker)
	assert.Equal(t, 5, cfg.MaxAttempts)
}
