package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctagard/godot-dap-mcp/internal/dapserver"
	"github.com/ctagard/godot-dap-mcp/internal/mcp"
	"github.com/ctagard/godot-dap-mcp/internal/version"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP debugging tools on stdio",
		Long: `Serve the MCP debugging tools on stdio.

Add to your MCP client configuration:

    {
        "mcpServers": {
            "godot": {
                "command": "godot-dap-mcp",
                "args": ["mcp", "--mode", "full"]
            }
        }
    }

Session management: godot_launch, godot_attach, debug_disconnect,
debug_list_sessions, debug_list_configs
Inspection: debug_snapshot, debug_variables
Control (full mode only): debug_breakpoints, debug_continue, debug_step,
debug_pause`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	server := mcp.NewServer(cfg, logger)
	defer server.Close()

	logger.Info("MCP server starting", "version", version.Version, "mode", cfg.Mode)
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
		logger.Info("shutting down")
		return nil
	}
}

func newDAPCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "dap",
		Short: "Serve the Debug Adapter Protocol to an editor",
		Long: `Serve the Debug Adapter Protocol to an editor.

Without --listen a single session runs on stdio, which is how editors
usually start a debug adapter. With --listen every client that connects
gets its own session.

Launch and attach arguments: project, scene, address, port, executable,
args, env, or configName (with configPath or workspace) to use a godot
configuration from .vscode/launch.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := dapserver.NewServer(cfg, logger)
			if listen == "" {
				return server.ServeStdio(cmd.Context())
			}
			return server.ListenAndServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve DAP clients on this TCP address instead of stdio, e.g. 127.0.0.1:4711")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version and optionally check for a newer release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "godot-dap-mcp version %s\n", version.Version)
			if !check {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			info, err := (&version.Checker{}).CheckForUpdates(ctx)
			if err != nil {
				return err
			}
			if msg := info.UpdateMessage(); msg != "" {
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "You are running the latest version.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "ask GitHub whether a newer release exists")
	return cmd
}
