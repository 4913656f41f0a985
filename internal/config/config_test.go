package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "key_value_system", cfg.DBName)
	require.Equal(t, 300*time.Second, cfg.CompletionTimeout)
	require.InDelta(t, 0.85, cfg.CompletionTemperature, 0.0001)
	require.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	require.False(t, cfg.KeyIndexAllowRegex)
}

func TestAltRoute(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.AltRoute("gemini-1.5-pro"), "no alternate endpoint configured")

	cfg.CompletionAltBaseURL = "https://alt.example/v1"
	require.True(t, cfg.AltRoute("Gemini-1.5-Pro"))
	require.False(t, cfg.AltRoute("gpt-4o-mini"))

	var nilCfg *Config
	require.False(t, nilCfg.AltRoute("gemini"))
}

func TestIsAdminUser(t *testing.T) {
	cfg := Config{AdminUsers: "alice, bob"}
	require.True(t, cfg.IsAdminUser("bob"))
	require.False(t, cfg.IsAdminUser("carol"))
	require.False(t, cfg.IsAdminUser(""))
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}
