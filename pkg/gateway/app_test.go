package gateway

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryshark/agent-armory/internal/config"
	"github.com/batteryshark/agent-armory/pkg/router"
)

func newTestAppConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.History.DBPath = filepath.Join(dir, "history.db")
	cfg.Tools.ConfigDir = filepath.Join(dir, "tools")
	cfg.Logging.File = filepath.Join(dir, "armory.log")
	return cfg
}

func TestNewAppWiresEverything(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	app, err := NewApp(newTestAppConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer app.Stop()

	assert.NotNil(t, app.Registry)
	assert.NotNil(t, app.Limiter)
	assert.NotNil(t, app.Publisher)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.History)
	assert.NotNil(t, app.Server)

	// Builtins are registered at construction.
	_, err = app.Registry.Lookup("url_scraper")
	assert.NoError(t, err)
}

func TestNewAppHistoryDisabled(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := newTestAppConfig(t)
	cfg.History.Enabled = false

	app, err := NewApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Stop()

	assert.Nil(t, app.History)
}

func TestAppRouterServesDiscovery(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	app, err := NewApp(newTestAppConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer app.Stop()

	resp := app.Router.Dispatch(context.Background(), router.Message{
		Kind:      router.KindDiscovery,
		SessionID: "sess-app",
	})
	require.Equal(t, router.StatusOK, resp.Status)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := newTestAppConfig(t)
	cfg.Server.Port = -1

	_, err := NewApp(cfg, zerolog.Nop())
	assert.Error(t, err)
}
