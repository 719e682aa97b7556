package godot

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/internal/godot/godottest"
)

const testWait = godottest.Wait

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

type harness struct {
	rt     *Runtime
	engine *godottest.Engine
	served chan error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	opts.Logger = quietLogger()
	if opts.InspectTimeout == 0 {
		opts.InspectTimeout = testWait
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = testWait
	}
	rt, err := NewRuntime(opts)
	require.NoError(t, err)

	game, debugger := net.Pipe()
	h := &harness{
		rt:     rt,
		engine: godottest.New(t, game),
		served: make(chan error, 1),
	}
	go func() { h.served <- rt.Serve(context.Background(), debugger) }()
	t.Cleanup(func() { rt.Close() })
	require.Eventually(t, func() bool {
		st, err := rt.Status(context.Background())
		return err == nil && st.State != StateWaiting
	}, testWait, 5*time.Millisecond, "engine connection was not attached")
	return h
}

func waitEvent[T Event](t *testing.T, rt *Runtime) T {
	t.Helper()
	timeout := time.After(testWait)
	for {
		select {
		case ev, ok := <-rt.Events():
			require.True(t, ok, "event stream closed")
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T within %s", zero, testWait)
			return zero
		}
	}
}
