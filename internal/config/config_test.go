package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "stock.changed", cfg.KafkaTopic)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 256, cfg.RetainedEvents)
	assert.Equal(t, 256, cfg.SubscriberQueueSize)
	assert.Equal(t, 10*time.Second, cfg.LeaseAbandonAfter)
	assert.Equal(t, 5*time.Second, cfg.MutationTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("RETAINED_EVENTS", "1024")
	t.Setenv("LEASE_ABANDON_AFTER", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 1024, cfg.RetainedEvents)
	assert.Equal(t, 30*time.Second, cfg.LeaseAbandonAfter)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RETAINED_EVENTS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_KafkaTopicRequiredWithBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092")
	t.Setenv("KAFKA_TOPIC", "")
	_, err := Load()
	assert.Error(t, err)
}
