package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("KEYVALUE_SERVICE_CACHE_THREAD_TTL", "PT2H")
	t.Setenv("KEYVALUE_SERVICE_CACHE_LOCAL_MAX_SIZE", "12M")
	t.Setenv("KEYVALUE_SERVICE_COMPLETION_ALT_MODEL_MATCH", "claude")
	t.Setenv("KEYVALUE_SERVICE_COMPLETION_TEMPERATURE", "0.2")
	t.Setenv("KEYVALUE_SERVICE_KEY_INDEX_DEFAULT_LIMIT", "25")
	t.Setenv("KEYVALUE_SERVICE_DRAIN_TIMEOUT_SECONDS", "7")
	t.Setenv("KEYVALUE_SERVICE_DB_NAME", "kv_test")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.NoError(t, err)

	require.Equal(t, 2*time.Hour, cfg.CacheThreadTTL)
	require.Equal(t, int64(12*1024*1024), cfg.CacheLocalMaxCost)
	require.Equal(t, "claude", cfg.CompletionAltModelMatch)
	require.InDelta(t, 0.2, cfg.CompletionTemperature, 0.0001)
	require.Equal(t, 25, cfg.KeyIndexDefaultLimit)
	require.Equal(t, 7, cfg.DrainTimeout)
	require.Equal(t, "kv_test", cfg.DBName)
}

func TestApplyEnv_RejectsInvalidValues(t *testing.T) {
	t.Setenv("KEYVALUE_SERVICE_BCRYPT_COST", "twelve")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90s")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	d, err = ParseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	d, err = ParseDuration("pt45s")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, d)

	for _, raw := range []string{"P1D", "PT", "PT0S", ""} {
		_, err = ParseDuration(raw)
		require.Error(t, err, raw)
	}
}

func TestParseMemorySize(t *testing.T) {
	for raw, want := range map[string]int64{
		"512":   512,
		"64b":   64,
		"4K":    4 << 10,
		"12 MB": 12 << 20,
		"1g":    1 << 30,
	} {
		got, err := ParseMemorySize(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "0", "-1M", "lots"} {
		_, err := ParseMemorySize(raw)
		require.Error(t, err, raw)
	}
}
