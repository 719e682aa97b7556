package godot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultPort is the port the Godot editor uses for its own debugger.
	DefaultPort           = 6007
	DefaultAddress        = "127.0.0.1"
	DefaultConnectTimeout = 30 * time.Second
)

var ErrEngineExited = errors.New("engine exited before connecting")

// LaunchRequest describes one game run.
type LaunchRequest struct {
	// Project is the directory containing project.godot.
	Project string
	// Scene optionally runs a scene (res://...) instead of the main scene.
	Scene string
	// Breakpoints are passed on the command line as res://file.gd:line so
	// they are active before the first frame.
	Breakpoints []string
	Args        []string
	Env         map[string]string
}

// Launcher starts the engine and waits for its debugger to connect back.
type Launcher struct {
	// Executable is the godot binary; "godot" is looked up on PATH if empty.
	Executable     string
	Address        string
	Port           int
	ConnectTimeout time.Duration

	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// Engine is a connected engine. Cmd is nil when the game was started by
// someone else and only connected to us.
type Engine struct {
	Conn net.Conn
	Cmd  *exec.Cmd
	Addr string

	exited chan struct{}
	once   sync.Once
}

// PID returns the engine process id, or 0 for an attached engine.
func (e *Engine) PID() int {
	if e.Cmd == nil || e.Cmd.Process == nil {
		return 0
	}
	return e.Cmd.Process.Pid
}

// Exited is closed when a launched engine process ends. It is nil for an
// attached engine.
func (e *Engine) Exited() <-chan struct{} {
	return e.exited
}

// Close drops the connection and kills a launched engine.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		err = errors.Join(closeConn(e.Conn), killProcessGroup(e.Cmd))
	})
	return err
}

func closeConn(c net.Conn) error {
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// BuildArgs returns the engine command line for req with the debugger at
// addr.
func BuildArgs(req LaunchRequest, addr string) []string {
	args := []string{"--path", req.Project, "--remote-debug", addr}
	if len(req.Breakpoints) > 0 {
		args = append(args, "--breakpoints", strings.Join(req.Breakpoints, ","))
	}
	if req.Scene != "" {
		args = append(args, req.Scene)
	}
	return append(args, req.Args...)
}

func (l *Launcher) logger() *log.Logger {
	if l.Logger == nil {
		return log.Default()
	}
	return l.Logger
}

func (l *Launcher) executable() string {
	if l.Executable != "" {
		return l.Executable
	}
	return "godot"
}

func (l *Launcher) connectTimeout() time.Duration {
	if l.ConnectTimeout > 0 {
		return l.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// Listen opens the debugger port. Port 0 picks a free port.
func (l *Launcher) Listen() (net.Listener, error) {
	addr := l.Address
	if addr == "" {
		addr = DefaultAddress
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(l.Port)))
	if err != nil {
		return nil, fmt.Errorf("listen for engine: %w", err)
	}
	return ln, nil
}

// Launch starts the game and returns once its debugger has connected.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*Engine, error) {
	if req.Project == "" {
		return nil, errors.New("launch: project directory is required")
	}
	if _, err := os.Stat(req.Project); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	ln, err := l.Listen()
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	addr := ln.Addr().String()

	//nolint:gosec // G204: the debugger exists to run the user's game
	cmd := exec.Command(l.executable(), BuildArgs(req, addr)...)
	cmd.Dir = req.Project
	cmd.Env = os.Environ()
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.executable(), err)
	}
	l.logger().Info("engine started", "pid", cmd.Process.Pid, "project", req.Project, "debugger", addr)

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		l.logger().Debug("engine process exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()

	conn, err := l.accept(ctx, ln, exited)
	if err != nil {
		if kerr := killProcessGroup(cmd); kerr != nil {
			l.logger().Warn("kill engine", "pid", cmd.Process.Pid, "error", kerr)
		}
		return nil, err
	}
	return &Engine{Conn: conn, Cmd: cmd, Addr: addr, exited: exited}, nil
}

// Attach waits on ln for a game started elsewhere (for example with
// --remote-debug from a terminal) to connect. ln is closed on return.
func (l *Launcher) Attach(ctx context.Context, ln net.Listener) (*Engine, error) {
	defer ln.Close()
	addr := ln.Addr().String()
	l.logger().Info("waiting for engine", "debugger", addr)

	conn, err := l.accept(ctx, ln, nil)
	if err != nil {
		return nil, err
	}
	return &Engine{Conn: conn, Addr: addr}, nil
}

func (l *Launcher) accept(ctx context.Context, ln net.Listener, exited <-chan struct{}) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, l.connectTimeout())
	defer cancel()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn: conn, err: err}
	}()

	var cause error
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept engine connection: %w", res.err)
		}
		return res.conn, nil
	case <-exited:
		cause = ErrEngineExited
	case <-ctx.Done():
		cause = ctx.Err()
	}

	ln.Close()
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
	return nil, fmt.Errorf("wait for engine on %s: %w", ln.Addr(), cause)
}
