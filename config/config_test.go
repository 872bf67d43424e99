package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 8*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 4, cfg.DefaultConcurrency)
	assert.True(t, cfg.AbandonOnCancel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PROVIDER_MAX_ATTEMPTS", "5")
	t.Setenv("PROVIDER_CONCURRENCY", "openai=8,anthropic=2")
	t.Setenv("ABANDON_ON_CANCEL", "false")

	cfg := Load()
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 8, cfg.ProviderConcurrency["openai"])
	assert.Equal(t, 2, cfg.ProviderConcurrency["anthropic"])
	assert.False(t, cfg.AbandonOnCancel)
}

func TestConcurrencyFor(t *testing.T) {
	cfg := &Config{
		DefaultConcurrency:  4,
		ProviderConcurrency: map[string]int{"anthropic": 2},
	}

	assert.Equal(t, 2, cfg.ConcurrencyFor("anthropic"))
	assert.Equal(t, 4, cfg.ConcurrencyFor("openai"))

	empty := &Config{}
	assert.Equal(t, 1, empty.ConcurrencyFor("openai"))
}

func TestParseConcurrencyMapMalformed(t *testing.T) {
	out := parseConcurrencyMap("openai=4,broken,groq=x,together=0")
	assert.Equal(t, map[string]int{"openai": 4}, out)
}
