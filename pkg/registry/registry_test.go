package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDescriptor(name, version string) ToolDescriptor {
	return ToolDescriptor{
		Name:        name,
		Version:     version,
		Description: "Echo the input back",
		Parameters: []ToolParameter{
			{Name: "msg", Type: "string", Description: "message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params, nil
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Run("should return the registered descriptor", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(echoDescriptor("echo", "1.0.0")))

		desc, err := reg.Lookup("echo")
		require.NoError(t, err)
		assert.Equal(t, "echo", desc.Name)
		assert.Equal(t, "1.0.0", desc.Version)
		assert.False(t, desc.RegisteredAt().IsZero())
	})

	t.Run("should fail with ErrToolNotFound for unknown tool", func(t *testing.T) {
		reg := New()

		_, err := reg.Lookup("missing")
		assert.ErrorIs(t, err, ErrToolNotFound)
	})

	t.Run("should fail with ErrDuplicateTool for same name and version", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(echoDescriptor("echo", "1.0.0")))

		err := reg.Register(echoDescriptor("echo", "1.0.0"))
		assert.ErrorIs(t, err, ErrDuplicateTool)
	})

	t.Run("should swap descriptor on version upgrade", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(echoDescriptor("echo", "1.0.0")))

		old, err := reg.Lookup("echo")
		require.NoError(t, err)

		require.NoError(t, reg.Register(echoDescriptor("echo", "1.1.0")))

		upgraded, err := reg.Lookup("echo")
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", upgraded.Version)

		// The old descriptor is untouched; in-flight executions keep it.
		assert.Equal(t, "1.0.0", old.Version)
	})

	t.Run("should reject invalid descriptors", func(t *testing.T) {
		reg := New()

		err := reg.Register(ToolDescriptor{Name: "", Version: "1.0.0"})
		assert.Error(t, err)

		desc := echoDescriptor("bad", "1.0.0")
		desc.Handler = nil
		assert.Error(t, reg.Register(desc))

		desc = echoDescriptor("bad", "1.0.0")
		desc.Parameters = []ToolParameter{{Name: "x", Type: "uuid", Description: "x"}}
		assert.Error(t, reg.Register(desc))
	})
}

func TestRegistry_List(t *testing.T) {
	t.Run("should iterate a sorted snapshot", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(echoDescriptor("zeta", "1.0.0")))
		require.NoError(t, reg.Register(echoDescriptor("alpha", "1.0.0")))

		names := []string{}
		for desc := range reg.List() {
			names = append(names, desc.Name)
		}
		assert.Equal(t, []string{"alpha", "zeta"}, names)
	})

	t.Run("should not observe registrations made mid-iteration", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(echoDescriptor("alpha", "1.0.0")))

		seq := reg.List()
		require.NoError(t, reg.Register(echoDescriptor("beta", "1.0.0")))

		names := []string{}
		for desc := range seq {
			names = append(names, desc.Name)
		}
		assert.Equal(t, []string{"alpha"}, names)

		// Restartable: a second pass yields the same snapshot.
		again := []string{}
		for desc := range seq {
			again = append(again, desc.Name)
		}
		assert.Equal(t, names, again)
	})
}

func TestToolDescriptor_ValidateParams(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(echoDescriptor("echo", "1.0.0")))
	desc, err := reg.Lookup("echo")
	require.NoError(t, err)

	t.Run("should accept valid params", func(t *testing.T) {
		assert.NoError(t, desc.ValidateParams(map[string]interface{}{"msg": "hi"}))
	})

	t.Run("should reject missing required param", func(t *testing.T) {
		err := desc.ValidateParams(map[string]interface{}{})
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("should reject wrong type", func(t *testing.T) {
		err := desc.ValidateParams(map[string]interface{}{"msg": 42})
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("should reject undeclared params", func(t *testing.T) {
		err := desc.ValidateParams(map[string]interface{}{"msg": "hi", "extra": true})
		assert.ErrorIs(t, err, ErrInvalidParams)
	})
}
