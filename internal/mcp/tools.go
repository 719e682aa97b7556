package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the debug API. Control tools only exist in full
// mode.
func (s *Server) registerTools() {
	// Session Management
	s.registerGodotLaunch()
	s.registerGodotAttach()
	s.registerDebugDisconnect()
	s.registerDebugListSessions()
	s.registerDebugListConfigs()

	// Inspection
	s.registerDebugSnapshot()
	s.registerDebugVariables()

	// Control
	if s.config.CanUseControlTools() {
		s.registerDebugBreakpoints()
		s.registerDebugContinue()
		s.registerDebugStep()
		s.registerDebugPause()
	}
}

const breakpointsParamHelp = "JSON array of breakpoints: [{\"file\": \"res://player.gd\", \"line\": 12}]. File may be res:// or a path inside the project."

// Session Management Tools

func (s *Server) registerGodotLaunch() {
	tool := mcp.NewTool("godot_launch",
		mcp.WithDescription("Run a Godot 3 project under the debugger and wait for it to connect. Can use direct arguments OR a godot configuration from .vscode/launch.json. Returns the sessionId needed by all other tools. Breakpoints given here are active from the first frame."),
		mcp.WithString("project",
			mcp.Description("Directory containing project.godot. Not required if configName is provided."),
		),
		mcp.WithString("scene",
			mcp.Description("Scene to run instead of the main scene, e.g. res://levels/test.tscn"),
		),
		mcp.WithString("args",
			mcp.Description("JSON array of extra command line arguments for the game"),
		),
		mcp.WithString("breakpoints",
			mcp.Description(breakpointsParamHelp),
		),
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("configName",
			mcp.Description("Name of a godot configuration in launch.json to use."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace root for ${workspaceFolder} and config discovery."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleGodotLaunch)
}

func (s *Server) registerGodotAttach() {
	tool := mcp.NewTool("godot_attach",
		mcp.WithDescription("Listen for a game started outside the debugger, e.g. with 'godot --remote-debug 127.0.0.1:6007' or from the editor with 'Deploy with Remote Debug'. Returns immediately with status 'waiting'; the session becomes 'running' once the game connects."),
		mcp.WithString("project",
			mcp.Description("Directory containing project.godot, used to map res:// paths to files"),
		),
		mcp.WithString("address",
			mcp.Description("Address to listen on (default: 127.0.0.1)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Port to listen on (default: 6007)"),
		),
		mcp.WithString("breakpoints",
			mcp.Description(breakpointsParamHelp),
		),
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("configName",
			mcp.Description("Name of a godot attach configuration in launch.json to use."),
		),
		mcp.WithString("workspace",
			mcp.Description("Workspace root for ${workspaceFolder} and config discovery."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleGodotAttach)
}

func (s *Server) registerDebugDisconnect() {
	tool := mcp.NewTool("debug_disconnect",
		mcp.WithDescription("End a debug session. A launched game is killed."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID to disconnect from"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugDisconnect)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List all debug sessions with their status (waiting, running, stopped, terminated)"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

func (s *Server) registerDebugListConfigs() {
	tool := mcp.NewTool("debug_list_configs",
		mcp.WithDescription("List the godot configurations of a VS Code launch.json"),
		mcp.WithString("configPath",
			mcp.Description("Path to launch.json file. Auto-discovers from workspace if not provided."),
		),
		mcp.WithString("workspace",
			mcp.Description("Directory to start searching for .vscode/launch.json (default: current directory)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListConfigs)
}

// Inspection Tools

func (s *Server) registerDebugSnapshot() {
	tool := mcp.NewTool("debug_snapshot",
		mcp.WithDescription("Get the debug state in ONE call: status, stop reason, call stack, Locals/Members/Globals scopes with variables, and game output since the last snapshot. This is the primary inspection tool. Stack and variables are only available while the game is stopped."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("maxStackDepth",
			mcp.Description("Maximum stack depth to return (default: 10)"),
		),
		mcp.WithNumber("frame",
			mcp.Description("Stack level whose scopes are returned (default: 0, the innermost frame)"),
		),
		mcp.WithBoolean("expandVariables",
			mcp.Description("Include the variables of each scope (default: true)"),
		),
		mcp.WithBoolean("includeGlobals",
			mcp.Description("Include the Globals scope variables, which can be large (default: false)"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Levels of children to expand below each variable (default: 1)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugSnapshot)
}

func (s *Server) registerDebugVariables() {
	tool := mcp.NewTool("debug_variables",
		mcp.WithDescription("List the children of a variable or scope by its variablesReference from debug_snapshot. Objects are inspected on the game side and listed with their properties."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithNumber("variablesReference",
			mcp.Required(),
			mcp.Description("The variablesReference to expand"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Levels of children to expand below each variable (default: 0)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugVariables)
}

// Control Tools (Full mode only)

func (s *Server) registerDebugBreakpoints() {
	tool := mcp.NewTool("debug_breakpoints",
		mcp.WithDescription("Set the breakpoints of a script. This REPLACES all breakpoints in the file: pass every line you want, or an empty array to clear the file. Use skipAll to ignore every breakpoint without losing them."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("path",
			mcp.Description("Script path, res://... or a file inside the project"),
		),
		mcp.WithString("lines",
			mcp.Description("JSON array of line numbers, e.g. [12, 30]"),
		),
		mcp.WithBoolean("skipAll",
			mcp.Description("Ignore all breakpoints (true) or honour them again (false)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugBreakpoints)
}

func (s *Server) registerDebugContinue() {
	tool := mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume the game until the next breakpoint, error or pause. Returns immediately - use debug_snapshot to check state after stopping."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugContinue)
}

func (s *Server) registerDebugStep() {
	tool := mcp.NewTool("debug_step",
		mcp.WithDescription("Execute a step command. Use type='over' to step to the next line or 'into' to enter function calls. GDScript has no step out; 'out' behaves like 'over'. Follow with debug_snapshot to see the new state."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Step type: 'over', 'into' or 'out'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStep)
}

func (s *Server) registerDebugPause() {
	tool := mcp.NewTool("debug_pause",
		mcp.WithDescription("Pause the running game at the next script line so it can be inspected."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugPause)
}
