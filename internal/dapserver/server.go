// Package dapserver exposes the Godot debugger to editors through the Debug
// Adapter Protocol.
//
// Each client connection is one debug session: the editor either launches
// a project, in which case the game is started once configuration is done
// so that its breakpoints can be passed on the command line, or attaches by
// listening for a game started with --remote-debug. The game always runs
// as a single thread.
package dapserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/godot-dap-mcp/internal/config"
)

// Server serves DAP clients over stdio or TCP.
type Server struct {
	config *config.Config
	logger *log.Logger
}

// NewServer creates a DAP server for cfg.
func NewServer(cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		config: cfg,
		logger: logger.WithPrefix("dap"),
	}
}

// ServeStdio serves a single client on stdin and stdout. Nothing else may
// write to stdout while it runs.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, NewStdioTransport(os.Stdin, os.Stdout))
}

// ListenAndServe accepts clients on addr until ctx is done. Every client
// gets its own session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen for DAP clients: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts clients on ln until ctx is done. ln is closed on
// return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("listening for DAP clients", "addr", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept DAP client: %w", err)
			}
			s.logger.Debug("client connected", "remote", conn.RemoteAddr())
			g.Go(func() error {
				if err := s.Serve(ctx, NewTransport(conn)); err != nil {
					s.logger.Warn("client session ended", "remote", conn.RemoteAddr(), "error", err)
				}
				return nil
			})
		}
	})
	return g.Wait()
}

// Serve runs one debug session over t until the client disconnects or ctx
// is done. t is closed on return.
func (s *Server) Serve(ctx context.Context, t *Transport) error {
	return newSession(ctx, s, t).run()
}
