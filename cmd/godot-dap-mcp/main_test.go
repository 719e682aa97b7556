package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/internal/config"
	"github.com/ctagard/godot-dap-mcp/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "godot-dap-mcp version "+version.Version+"\n", out)
}

func TestFlagsReachConfig(t *testing.T) {
	_, err := execute(t, "version", "--mode", "readonly", "--port", "6010", "--log-level", "warn")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, config.ModeReadOnly, cfg.Mode)
	assert.Equal(t, 6010, cfg.Engine.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestInvalidMode(t *testing.T) {
	_, err := execute(t, "version", "--mode", "sometimes")
	assert.ErrorContains(t, err, "mode must be")
}

func TestUnknownLogLevel(t *testing.T) {
	_, err := execute(t, "version", "--log-level", "chatty")
	assert.ErrorContains(t, err, "log level")
}

func TestSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"mcp", "dap", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	dap, _, err := root.Find([]string{"dap"})
	require.NoError(t, err)
	assert.NotNil(t, dap.Flags().Lookup("listen"))
}
