package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 2*time.Second, cfg.TypingWindow)
	assert.Equal(t, 10*time.Second, cfg.DeliveryTimeout)
	assert.NotEmpty(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "Production")
	t.Setenv("PORT", "9090")
	t.Setenv("TYPING_WINDOW", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.relay.im, https://relay.im")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.TypingWindow)
	assert.Equal(t, []string{"https://app.relay.im", "https://relay.im"}, cfg.AllowedOrigins)
}

func TestLoadIgnoresInvalidDuration(t *testing.T) {
	t.Setenv("TYPING_WINDOW", "soon")
	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.TypingWindow)
}
