package tools

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryshark/agent-armory/internal/config"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
)

func TestRegisterBuiltinsSkipsMissingEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	reg := registry.New()
	lim := ratelimit.New()
	require.NoError(t, RegisterBuiltins(reg, lim, Options{Logger: zerolog.Nop()}))

	_, err := reg.Lookup("url_scraper")
	assert.NoError(t, err)
	_, err = reg.Lookup("web_search")
	assert.Error(t, err)
}

func TestRegisterBuiltinsWithEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	reg := registry.New()
	lim := ratelimit.New()
	require.NoError(t, RegisterBuiltins(reg, lim, Options{Logger: zerolog.Nop()}))

	assert.Equal(t, 2, reg.Count())

	desc, err := reg.Lookup("web_search")
	require.NoError(t, err)
	assert.Equal(t, registry.ModeReject, desc.RateLimit.Mode)
	assert.InDelta(t, 100.0, lim.Tokens("web_search"), 0.01)
}

func TestRegisterBuiltinsAppliesToolConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	reg := registry.New()
	lim := ratelimit.New()
	opts := Options{
		Logger: zerolog.Nop(),
		Configs: map[string]*config.ToolConfig{
			"url_scraper": {
				RateLimit: config.ToolRateLimit{Capacity: 5, RefillRate: 0.5, Mode: "queue", QueueDepth: 8},
				Timeout:   20,
				Settings:  map[string]interface{}{"max_retries": "1"},
			},
		},
	}
	require.NoError(t, RegisterBuiltins(reg, lim, opts))

	desc, err := reg.Lookup("url_scraper")
	require.NoError(t, err)
	assert.Equal(t, 5.0, desc.RateLimit.Capacity)
	assert.Equal(t, registry.ModeQueue, desc.RateLimit.Mode)
	assert.Equal(t, 8, desc.RateLimit.QueueDepth)
	assert.Equal(t, 20*time.Second, desc.Timeout)
	assert.InDelta(t, 5.0, lim.Tokens("url_scraper"), 0.01)
}

func TestApplyConfigNilKeepsDefaults(t *testing.T) {
	desc := ScraperDescriptor(DefaultScraperOptions())
	got := ApplyConfig(desc, nil)
	assert.Equal(t, desc.RateLimit, got.RateLimit)
	assert.Equal(t, desc.Timeout, got.Timeout)
}
