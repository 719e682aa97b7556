// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the Godot debugger through MCP tools that can be used
// by AI assistants and other MCP clients:
//
// Session Management (always available):
//   - godot_launch: Run a project under the debugger
//   - godot_attach: Wait for a game started with --remote-debug
//   - debug_disconnect: End a session
//   - debug_list_sessions: List active sessions
//   - debug_list_configs: List godot configurations in launch.json
//
// Inspection (always available):
//   - debug_snapshot: Stack, scopes and variables of a stopped game
//   - debug_variables: Expand one variables reference
//
// Control (full mode only):
//   - debug_breakpoints: Replace the breakpoints of a file
//   - debug_continue: Resume execution
//   - debug_step: Step over/into
//   - debug_pause: Pause execution
package mcp

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/godot-dap-mcp/internal/config"
	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/internal/version"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	sessions  *godot.SessionManager
	config    *config.Config
	logger    *log.Logger

	mu      sync.Mutex
	outputs map[string]*outputLog
}

// NewServer creates a new MCP server for cfg.
func NewServer(cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	mcpServer := server.NewMCPServer(
		"godot-dap-mcp",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	// Launched games pick a free port so several can run at once; attach
	// listens on the configured port.
	launcher := &godot.Launcher{
		Executable:     cfg.Engine.Path,
		Address:        cfg.Engine.Address,
		ConnectTimeout: cfg.Engine.ConnectTimeout,
		Logger:         logger.WithPrefix("launcher"),
	}

	s := &Server{
		mcpServer: mcpServer,
		sessions: godot.NewSessionManager(godot.SessionConfig{
			MaxSessions:    cfg.MaxSessions,
			SessionTimeout: cfg.SessionTimeout,
			Launcher:       launcher,
			Runtime: godot.Options{
				InspectTimeout: cfg.Engine.InspectTimeout,
				RequestTimeout: cfg.Engine.RequestTimeout,
				WriteHighWater: cfg.Engine.WriteHighWater,
			},
			Logger: logger,
		}),
		config:  cfg,
		logger:  logger.WithPrefix("mcp"),
		outputs: make(map[string]*outputLog),
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying tool server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Close shuts down every session.
func (s *Server) Close() {
	s.sessions.Close()
}
