package command

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

type recorder struct {
	calls [][]variant.Value
}

func (r *recorder) handle(params []variant.Value) {
	r.calls = append(r.calls, params)
}

func tokens(vs ...any) []variant.Value {
	out := make([]variant.Value, len(vs))
	for i, v := range vs {
		switch t := v.(type) {
		case string:
			out[i] = variant.String(t)
		case int:
			out[i] = variant.Int(t)
		case bool:
			out[i] = variant.Bool(t)
		case variant.Value:
			out[i] = t
		default:
			panic("unsupported token")
		}
	}
	return out
}

func TestDispatcherFixedArity(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 3, Handler: rec.handle}))

	d.Feed(tokens("debug_enter", true, "Breakpoint", false))

	require.Len(t, rec.calls, 1)
	if diff := cmp.Diff(tokens(true, "Breakpoint", false), rec.calls[0]); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, d.Idle())
}

func TestDispatcherSplitStream(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 3, Handler: rec.handle}))

	d.Feed(tokens("debug_enter", true))
	assert.Empty(t, rec.calls, "handler fired on a partial command")
	assert.False(t, d.Idle())
	assert.Equal(t, DebugEnter, d.Pending())

	d.Feed(tokens("Breakpoint", false))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, tokens(true, "Breakpoint", false), rec.calls[0])
	assert.True(t, d.Idle())
}

func TestDispatcherTokenAtATime(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(SelfDescribing(Output, rec.handle)))

	for _, tok := range tokens("output", 2, "a", "b", "output", 1, "c") {
		d.Feed([]variant.Value{tok})
	}
	require.Len(t, rec.calls, 2)
	assert.Equal(t, tokens(2, "a", "b"), rec.calls[0])
	assert.Equal(t, tokens(1, "c"), rec.calls[1])
}

func TestDispatcherSelfDescribing(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(SelfDescribing(Output, rec.handle)))

	d.Feed(tokens("output", 2, "first line"))
	assert.Empty(t, rec.calls)

	d.Feed(tokens("second line"))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, tokens(2, "first line", "second line"), rec.calls[0])
}

func TestDispatcherSelfDescribingEmpty(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(SelfDescribing(StackDump, rec.handle)))

	d.Feed(tokens("stack_dump", 0))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, tokens(0), rec.calls[0])
}

func TestDispatcherManyCommandsInOneFeed(t *testing.T) {
	var order []string
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(
		Command{Name: DebugExit, Handler: func([]variant.Value) { order = append(order, "exit") }},
		Command{Name: DebugEnter, Arity: 2, Handler: func([]variant.Value) { order = append(order, "enter") }},
		SelfDescribing(Output, func([]variant.Value) { order = append(order, "output") }),
	))

	d.Feed(tokens("debug_enter", true, "Breakpoint", "output", 1, "hi", "debug_exit", "debug_enter", false, "Pause"))
	assert.Equal(t, []string{"enter", "output", "exit", "enter"}, order)
	assert.True(t, d.Idle())
}

func TestDispatcherSkipsUnknown(t *testing.T) {
	var rec recorder
	var logs bytes.Buffer
	d := NewDispatcher(log.New(&logs))
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 2, Handler: rec.handle}))

	d.Feed(tokens("not_a_command", 5, "debug_enter", true, "Breakpoint"))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, tokens(true, "Breakpoint"), rec.calls[0])
	assert.Contains(t, logs.String(), "unknown command")
	assert.Contains(t, logs.String(), "not_a_command")
}

func TestDispatcherReset(t *testing.T) {
	var rec recorder
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 2, Handler: rec.handle}))

	d.Feed(tokens("debug_enter", true))
	d.Reset()
	assert.True(t, d.Idle())

	d.Feed(tokens("Breakpoint"))
	assert.Empty(t, rec.calls)

	d.Feed(tokens("debug_enter", false, "Pause"))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, tokens(false, "Pause"), rec.calls[0])
}

func TestDispatcherHandlerSeesClearedState(t *testing.T) {
	d := NewDispatcher(quietLogger())
	var idle bool
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 1, Handler: func([]variant.Value) {
		idle = d.Idle()
	}}))

	d.Feed(tokens("debug_enter", true))
	assert.True(t, idle)
}

func TestDispatcherRegister(t *testing.T) {
	d := NewDispatcher(quietLogger())
	require.NoError(t, d.Register(Command{Name: DebugEnter, Arity: 2}))

	err := d.Register(Command{Name: DebugEnter, Arity: 3})
	assert.ErrorIs(t, err, ErrDuplicateCommand)

	assert.Error(t, d.Register(Command{Name: ""}))
	assert.Error(t, d.Register(Command{Name: "bad", Arity: -1}))
}

// pipeWriter records writes and reports backpressure when blocked is set.
type pipeWriter struct {
	writes  [][]byte
	blocked bool
	err     error
}

func (w *pipeWriter) Write(p []byte) (bool, error) {
	if w.err != nil {
		return false, w.err
	}
	w.writes = append(w.writes, p)
	return !w.blocked, nil
}

func TestSenderBackpressureOrdering(t *testing.T) {
	s := NewSender(quietLogger())
	w := &pipeWriter{blocked: true}

	// The transport takes one buffer, then reports it is full.
	require.NoError(t, s.Attach(w))
	require.NoError(t, s.Send(CmdBreak))
	require.NoError(t, s.Send(CmdGetStackDump))
	require.NoError(t, s.Send(CmdGetStackFrameVars, variant.Int(0)))

	require.Len(t, w.writes, 1)
	assert.Equal(t, 2, s.Pending())

	w.blocked = false
	require.NoError(t, s.Drained())
	assert.Equal(t, 0, s.Pending())

	want := make([][]byte, 0, 3)
	for _, c := range []struct {
		name   string
		params []variant.Value
	}{
		{CmdBreak, nil},
		{CmdGetStackDump, nil},
		{CmdGetStackFrameVars, []variant.Value{variant.Int(0)}},
	} {
		buf, err := EncodeCommand(c.name, c.params...)
		require.NoError(t, err)
		want = append(want, buf)
	}
	assert.Equal(t, want, w.writes)
}

func TestSenderQueuesUntilAttached(t *testing.T) {
	s := NewSender(quietLogger())
	require.NoError(t, s.Send(CmdBreak))
	require.NoError(t, s.Send(CmdContinue))
	assert.Equal(t, 2, s.Pending())

	w := &pipeWriter{}
	require.NoError(t, s.Attach(w))
	require.Len(t, w.writes, 2)

	_, tokens, err := variant.DecodePacket(w.writes[1], 0)
	require.NoError(t, err)
	assert.True(t, variant.Equal(variant.Array{variant.String("continue")}, tokens[0]))
}

func TestSenderClose(t *testing.T) {
	s := NewSender(quietLogger())
	w := &pipeWriter{blocked: true}
	require.NoError(t, s.Attach(w))
	require.NoError(t, s.Send(CmdNext))
	require.NoError(t, s.Send(CmdStep))

	s.Close()
	assert.Equal(t, 0, s.Pending())
	require.NoError(t, s.Drained())
	assert.Len(t, w.writes, 1)

	assert.ErrorIs(t, s.Send(CmdContinue), ErrSenderClosed)
}

func TestSenderWriteError(t *testing.T) {
	s := NewSender(quietLogger())
	boom := errors.New("connection reset")
	require.NoError(t, s.Attach(&pipeWriter{err: boom}))
	assert.ErrorIs(t, s.Send(CmdBreak), boom)
}

func TestEncodeCommand(t *testing.T) {
	buf, err := EncodeCommand(CmdBreakpoint, variant.String("res://player.gd"), variant.Int(12), variant.Bool(true))
	require.NoError(t, err)

	n, tokens, err := variant.DecodePacket(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	require.Len(t, tokens, 1)

	want := variant.Array{
		variant.String("breakpoint"),
		variant.String("res://player.gd"),
		variant.Int(12),
		variant.Bool(true),
	}
	assert.True(t, variant.Equal(want, tokens[0]), "got %#v", tokens[0])

	_, err = EncodeCommand(CmdInspectObject, variant.Vector2{})
	assert.ErrorIs(t, err, variant.ErrUnencodable)
}

func TestSenderHelpers(t *testing.T) {
	s := NewSender(quietLogger())
	w := &pipeWriter{}
	require.NoError(t, s.Attach(w))

	require.NoError(t, s.Breakpoint("res://main.gd", 3, false))
	require.NoError(t, s.SetSkipBreakpoints(true))
	require.NoError(t, s.InspectObject(1234))

	var got []variant.Value
	for _, buf := range w.writes {
		_, tokens, err := variant.DecodePacket(buf, 0)
		require.NoError(t, err)
		got = append(got, tokens...)
	}
	want := []variant.Value{
		variant.Array{variant.String("breakpoint"), variant.String("res://main.gd"), variant.Int(3), variant.Bool(false)},
		variant.Array{variant.String("set_skip_breakpoints"), variant.Bool(true)},
		variant.Array{variant.String("inspect_object"), variant.Int(1234)},
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, variant.Equal(want[i], got[i]), "command %d: got %#v", i, got[i])
	}
}
