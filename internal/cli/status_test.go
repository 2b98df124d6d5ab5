package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryshark/agent-armory/pkg/contextstore"
	"github.com/batteryshark/agent-armory/pkg/engine"
	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/batteryshark/agent-armory/pkg/gateway"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
	"github.com/batteryshark/agent-armory/pkg/router"
)

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		assert.True(t, hasSubcommand(t, "status"), "status command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})
		// statusCmd is shared package state; clear the parsed help flag so
		// later tests executing "status" do not print help instead.
		t.Cleanup(func() { _ = statusCmd.Flags().Set("help", "false") })

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "status")
	})
}

func TestStatusAgainstRunningServer(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.ToolDescriptor{
		Name:        "noop",
		Version:     "1.0.0",
		Description: "does nothing",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	}))

	pub := events.NewPublisher(events.DefaultBufferCapacity, zerolog.Nop())
	rt := router.New(router.Config{
		Registry: reg,
		Engine: engine.New(engine.Config{
			Registry:  reg,
			Limiter:   ratelimit.New(),
			Publisher: pub,
			Logger:    zerolog.Nop(),
		}),
		Store:  contextstore.New(contextstore.Config{}),
		Logger: zerolog.Nop(),
	})
	srv, err := gateway.NewServer(gateway.Config{
		Host:      "127.0.0.1",
		Port:      8080,
		Router:    rt,
		Publisher: pub,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	oldAddr := statusAddr
	statusAddr = hs.URL
	defer func() { statusAddr = oldAddr }()

	output := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"status"})
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Status: running")
	assert.Contains(t, output.String(), "noop (1.0.0)")
}

func TestStatusServerDown(t *testing.T) {
	oldAddr := statusAddr
	statusAddr = "http://127.0.0.1:1"
	defer func() { statusAddr = oldAddr }()

	output := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"status"})
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Status: stopped")
}
