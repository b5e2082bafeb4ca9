package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "DATABASE_URL", "STORE_BACKEND", "SUBMISSION_BACKEND",
		"BTS_TEMPERATURE", "SETTLEMENT_MAX_RETRIES", "SETTLEMENT_TIMEOUT", "API_KEYS", "SIGNAL_PRIORITY", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}

	assert.Equal(t, ":8080", ServerAddr())
	assert.Equal(t, "sqlite", StoreBackend())
	assert.Equal(t, "store", SubmissionBackend())
	assert.Equal(t, 10.0, BTSTemperature())
	assert.Equal(t, 5, SettlementMaxRetries())
	assert.Equal(t, 30*time.Second, SettlementTimeout())
	assert.Empty(t, APIKeys())
	assert.Empty(t, KafkaBrokers())
	assert.Equal(t, []string{"truth", "relevance", "informativeness"}, SignalPriority())
}

func TestOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/veracity")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("BTS_TEMPERATURE", "2.5")
	t.Setenv("SETTLEMENT_MAX_RETRIES", "0")
	t.Setenv("SETTLEMENT_BASE_DELAY", "250ms")
	t.Setenv("API_KEYS", " a , ,b")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SIGNAL_PRIORITY", "relevance,truth")

	assert.Equal(t, ":9090", ServerAddr())
	assert.Equal(t, "postgres", StoreBackend())
	assert.Equal(t, 2.5, BTSTemperature())
	assert.Equal(t, 0, SettlementMaxRetries())
	assert.Equal(t, 250*time.Millisecond, SettlementBaseDelay())
	assert.Equal(t, []string{"a", "b"}, APIKeys())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, KafkaBrokers())
	assert.Equal(t, []string{"relevance", "truth"}, SignalPriority())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BTS_TEMPERATURE", "-1")
	t.Setenv("SETTLEMENT_CONCURRENCY", "zero")
	t.Setenv("SETTLEMENT_MAX_DELAY", "soon")

	assert.Equal(t, 10.0, BTSTemperature())
	assert.Equal(t, 4, SettlementConcurrency())
	assert.Equal(t, time.Minute, SettlementMaxDelay())
}

func TestLoad_EnvAndSecretFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("VERACITY_TEST_PORT_KEY=7070\n"), 0o600))
	require.NoError(t, os.WriteFile(envFile+".secret", []byte("VERACITY_TEST_SECRET_KEY=s3cret\n"), 0o600))

	t.Setenv("VERACITY_ENV", envFile)
	t.Setenv("VERACITY_TEST_PORT_KEY", "")
	t.Setenv("VERACITY_TEST_SECRET_KEY", "")
	require.NoError(t, os.Unsetenv("VERACITY_TEST_PORT_KEY"))
	require.NoError(t, os.Unsetenv("VERACITY_TEST_SECRET_KEY"))

	require.NoError(t, Load())
	assert.Equal(t, "7070", os.Getenv("VERACITY_TEST_PORT_KEY"))
	assert.Equal(t, "s3cret", os.Getenv("VERACITY_TEST_SECRET_KEY"))
}
