// Command godot-dap-mcp debugs Godot 3 games. It serves the engine's remote
// debugger to AI agents over MCP and to editors over DAP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ctagard/godot-dap-mcp/internal/config"
	"github.com/ctagard/godot-dap-mcp/internal/logging"
	"github.com/ctagard/godot-dap-mcp/internal/version"
)

var (
	// cfgFile allows specifying a configuration file
	cfgFile string

	// Loaded by the root command before any subcommand runs.
	cfg    *config.Config
	logger *log.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "godot-dap-mcp",
		Short: "Debug Godot 3 games from an AI agent or an editor",
		Long: `godot-dap-mcp speaks the Godot 3 remote debugger protocol and exposes it
two ways:

  mcp   Model Context Protocol tools on stdio, for AI agents (default)
  dap   Debug Adapter Protocol on stdio or TCP, for editors

The game is either launched by the debugger or started by you with
--remote-debug pointing at the address the debugger listens on.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err = logging.New(os.Stderr, cfg.LogLevel)
			return err
		},
		RunE: runMCP,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (JSON, YAML or TOML)")
	root.PersistentFlags().String("mode", "", "capability mode: 'readonly' or 'full' (default: full)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error (default: info)")
	root.PersistentFlags().String("godot", "", "godot 3 executable (default: searched on PATH)")
	root.PersistentFlags().Int("port", 0, "port to listen on for games started with --remote-debug (default: 6007)")

	root.AddCommand(newMCPCmd())
	root.AddCommand(newDAPCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
