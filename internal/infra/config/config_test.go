package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "clinix", cfg.MongoDB)
	require.Empty(t, cfg.MongoURI)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	require.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	require.Equal(t, 24*time.Hour, cfg.SessionTTL)
	require.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	require.Equal(t, cfg.S3Endpoint, cfg.S3PublicEndpoint, "public endpoint falls back to the internal one")
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,")
	t.Setenv("CORS_ORIGINS", "https://app.clinic.test , https://admin.clinic.test")
	t.Setenv("RETRY_BACKOFF", "2s, 10s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"https://app.clinic.test", "https://admin.clinic.test"}, cfg.CORSOrigins)
	require.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.RetryBackoff)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SESSION_TTL", "-1h")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SESSION_TTL", "garbage")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("RETRY_BACKOFF", "1s,nope")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("RETRY_BACKOFF", "1s")
	t.Setenv("S3_USE_SSL", "definitely")
	_, err = Load()
	require.Error(t, err)
}
