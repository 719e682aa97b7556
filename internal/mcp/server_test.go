package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/internal/command"
	"github.com/ctagard/godot-dap-mcp/internal/config"
	"github.com/ctagard/godot-dap-mcp/internal/godot/godottest"
	"github.com/ctagard/godot-dap-mcp/internal/variant"
	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.Port = 0
	cfg.Engine.ConnectTimeout = godottest.Wait
	cfg.Engine.InspectTimeout = godottest.Wait
	cfg.Engine.RequestTimeout = godottest.Wait
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(cfg, log.New(io.Discard))
	t.Cleanup(s.Close)
	return s
}

func call(t *testing.T, h handler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, text(t, res))
	var out T
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	return out
}

type attachResult struct {
	Session types.SessionInfo `json:"session"`
	Hint    string            `json:"hint"`
}

func TestControlToolsFollowMode(t *testing.T) {
	full := newTestServer(t, nil)
	assert.NotNil(t, full.MCPServer().GetTool("debug_continue"))
	assert.NotNil(t, full.MCPServer().GetTool("debug_snapshot"))

	readonly := newTestServer(t, func(c *config.Config) { c.Mode = config.ModeReadOnly })
	assert.Nil(t, readonly.MCPServer().GetTool("debug_continue"))
	assert.Nil(t, readonly.MCPServer().GetTool("debug_breakpoints"))
	assert.NotNil(t, readonly.MCPServer().GetTool("debug_snapshot"))
	assert.NotNil(t, readonly.MCPServer().GetTool("godot_launch"))
}

func TestLaunchPermissionDenied(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.AllowSpawn = false })
	res := call(t, s.handleGodotLaunch, map[string]any{"project": t.TempDir()})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "allowSpawn")
}

func TestLaunchValidatesParameters(t *testing.T) {
	s := newTestServer(t, nil)

	res := call(t, s.handleGodotLaunch, map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "'project' is missing")

	res = call(t, s.handleGodotLaunch, map[string]any{"project": "/p", "breakpoints": "[{"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "invalid JSON in parameter 'breakpoints'")

	res = call(t, s.handleGodotLaunch, map[string]any{"project": "/p", "breakpoints": `[{"file": "res://a.gd", "line": 0}]`})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "line of 1 or more")
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)
	for _, h := range []handler{s.handleDebugSnapshot, s.handleDebugContinue, s.handleDebugPause} {
		res := call(t, h, map[string]any{"sessionId": "nope"})
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "session 'nope' not found")
	}
	res := call(t, s.handleDebugDisconnect, map[string]any{"sessionId": "nope"})
	assert.True(t, res.IsError)
}

func TestListConfigs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vscode", "launch.json"), []byte(`{
		"configurations": [
			{"name": "Game", "type": "godot", "request": "launch", "port": 6007},
			{"name": "Broken", "type": "godot", "request": "debug"},
			{"name": "Other", "type": "go", "request": "launch"}
		]
	}`), 0o600))

	s := newTestServer(t, nil)
	out := decode[struct {
		Configurations []types.LaunchConfigInfo `json:"configurations"`
		Warnings       []string                 `json:"validationWarnings"`
	}](t, call(t, s.handleDebugListConfigs, map[string]any{"workspace": root}))

	require.Len(t, out.Configurations, 2)
	assert.Equal(t, "Game", out.Configurations[0].Name)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "Broken")

	res := call(t, s.handleGodotAttach, map[string]any{"workspace": root, "configName": "Missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Available configurations: Game, Broken")
}

func TestAttachSnapshotAndControl(t *testing.T) {
	s := newTestServer(t, nil)

	attached := decode[attachResult](t, call(t, s.handleGodotAttach, map[string]any{
		"breakpoints": `[{"file": "res://player.gd", "line": 12}]`,
	}))
	id := attached.Session.SessionID
	assert.Equal(t, types.SessionStatusWaiting, attached.Session.Status)
	assert.Contains(t, attached.Hint, attached.Session.Address)

	// Not stopped yet: control and inspection explain what is missing.
	res := call(t, s.handleDebugContinue, map[string]any{"sessionId": id})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "requires the game to be stopped")

	engine := godottest.Dial(t, attached.Session.Address)
	engine.Expect(command.CmdBreakpoint)

	engine.Send(command.Output, variant.String("hello"))
	engine.Stop(godottest.Frame("res://player.gd", 12, "_process"))

	// The stop event follows the output, so once it is seen both are.
	require.Eventually(t, func() bool {
		_, stopped := s.output(id).lastStop()
		return stopped
	}, godottest.Wait, 10*time.Millisecond)

	snapCh := make(chan *mcp.CallToolResult, 1)
	go func() {
		var req mcp.CallToolRequest
		req.Params.Arguments = map[string]any{"sessionId": id}
		res, _ := s.handleDebugSnapshot(context.Background(), req)
		snapCh <- res
	}()
	engine.Expect(command.CmdGetStackFrameVars)
	engine.Send(command.StackFrameVars, godottest.FrameVars(
		[]variant.Value{variant.String("hp"), variant.Int(10), variant.String("pos"), variant.Vector2{X: 1, Y: 2}},
		[]variant.Value{variant.String("speed"), variant.Float(2.5)},
		[]variant.Value{variant.String("Game"), variant.String("autoload")},
	)...)

	var snap types.DebugSnapshot
	select {
	case res := <-snapCh:
		snap = decode[types.DebugSnapshot](t, res)
	case <-time.After(godottest.Wait):
		t.Fatal("snapshot did not return")
	}

	assert.Equal(t, types.SessionStatusStopped, snap.Status)
	assert.Equal(t, "breakpoint", snap.StopReason)
	require.Len(t, snap.Stack, 1)
	assert.Equal(t, "_process", snap.Stack[0].Function)
	require.Len(t, snap.Scopes, 3)
	assert.Equal(t, []string{"Locals", "Members", "Globals"}, []string{snap.Scopes[0].Name, snap.Scopes[1].Name, snap.Scopes[2].Name})
	assert.NotContains(t, snap.Variables, "Globals")

	locals := snap.Variables["Locals"]
	require.Len(t, locals, 2)
	assert.Equal(t, "hp", locals[0].Name)
	assert.Equal(t, "10", locals[0].Value)
	assert.Zero(t, locals[0].VariablesReference)
	require.Len(t, locals[1].Children, 2, "depth 1 expands pos")
	assert.Equal(t, "pos.x", locals[1].Children[0].Path)
	assert.Equal(t, []types.OutputLine{{Category: "stdout", Text: "hello\n"}}, snap.Output)

	vars := decode[struct {
		Variables []types.Variable `json:"variables"`
	}](t, call(t, s.handleDebugVariables, map[string]any{
		"sessionId":          id,
		"variablesReference": snap.Scopes[1].VariablesReference,
	}))
	require.Len(t, vars.Variables, 1)
	assert.Equal(t, "speed", vars.Variables[0].Name)

	res = call(t, s.handleDebugVariables, map[string]any{"sessionId": id, "variablesReference": 9999})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Take a new debug_snapshot")

	bps := decode[struct {
		Breakpoints []types.Breakpoint `json:"breakpoints"`
	}](t, call(t, s.handleDebugBreakpoints, map[string]any{
		"sessionId": id,
		"path":      "res://player.gd",
		"lines":     "[12, 20]",
	}))
	engine.Expect(command.CmdBreakpoint)
	require.Len(t, bps.Breakpoints, 2)
	assert.True(t, bps.Breakpoints[0].Verified)
	assert.Equal(t, 20, bps.Breakpoints[1].Line)

	res = call(t, s.handleDebugStep, map[string]any{"sessionId": id, "type": "sideways"})
	assert.True(t, res.IsError)

	decode[map[string]any](t, call(t, s.handleDebugStep, map[string]any{"sessionId": id, "type": "into"}))
	engine.Expect(command.CmdStep)
	decode[map[string]any](t, call(t, s.handleDebugStep, map[string]any{"sessionId": id, "type": "out"}))
	engine.Expect(command.CmdNext)

	res = call(t, s.handleDebugPause, map[string]any{"sessionId": id})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "already stopped")

	decode[map[string]any](t, call(t, s.handleDebugContinue, map[string]any{"sessionId": id}))
	engine.Expect(command.CmdContinue)

	decode[map[string]any](t, call(t, s.handleDebugDisconnect, map[string]any{"sessionId": id}))
	listed := decode[struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}](t, call(t, s.handleDebugListSessions, nil))
	assert.Empty(t, listed.Sessions)
}
