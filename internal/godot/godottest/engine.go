// Package godottest provides a scripted stand-in for a Godot 3 game on the
// far side of a debugger connection.
package godottest

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/internal/command"
	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Wait bounds every read and write the engine makes.
const Wait = 2 * time.Second

// Engine plays the game side of a debugger connection. It encodes values
// the way the engine does, including the types the debugger itself never
// sends.
type Engine struct {
	t       testing.TB
	Conn    net.Conn
	Packets *variant.PacketReader
}

// New wraps the game end of a connection. The connection is closed when the
// test ends.
func New(t testing.TB, conn net.Conn) *Engine {
	t.Cleanup(func() { conn.Close() })
	return &Engine{t: t, Conn: conn, Packets: variant.NewPacketReader(conn)}
}

// Dial connects to a debugger listening on addr, as a game started with
// --remote-debug does.
func Dial(t testing.TB, addr string) *Engine {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, Wait)
	require.NoError(t, err)
	return New(t, conn)
}

// Value appends the engine encoding of v to buf.
func Value(buf []byte, v variant.Value) []byte {
	u32 := func(n uint32) { buf = binary.LittleEndian.AppendUint32(buf, n) }
	f32 := func(f float64) { u32(math.Float32bits(float32(f))) }
	switch t := v.(type) {
	case nil, variant.Nil:
		u32(uint32(variant.TypeNil))
	case variant.Bool:
		u32(uint32(variant.TypeBool))
		if t {
			u32(1)
		} else {
			u32(0)
		}
	case variant.Int:
		u32(uint32(variant.TypeInt))
		u32(uint32(int32(t)))
	case variant.Float:
		u32(uint32(variant.TypeReal))
		f32(float64(t))
	case variant.String:
		u32(uint32(variant.TypeString))
		u32(uint32(len(t)))
		buf = append(buf, t...)
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}
	case variant.Vector2:
		u32(uint32(variant.TypeVector2))
		f32(t.X)
		f32(t.Y)
	case variant.ObjectID:
		u32(uint32(variant.TypeObject) | 1<<16)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(t))
	case variant.Array:
		u32(uint32(variant.TypeArray))
		u32(uint32(len(t)))
		for _, e := range t {
			buf = Value(buf, e)
		}
	case variant.Dictionary:
		u32(uint32(variant.TypeDictionary))
		u32(uint32(len(t)))
		for _, e := range t {
			buf = Value(buf, e.Key)
			buf = Value(buf, e.Value)
		}
	default:
		panic("godottest: cannot encode " + v.Type().String())
	}
	return buf
}

// Packet prefixes body with its length.
func Packet(body []byte) []byte {
	return append(binary.LittleEndian.AppendUint32(nil, uint32(len(body))), body...)
}

// Write sends raw bytes to the debugger.
func (e *Engine) Write(p []byte) {
	e.t.Helper()
	require.NoError(e.t, e.Conn.SetWriteDeadline(time.Now().Add(Wait)))
	_, err := e.Conn.Write(p)
	require.NoError(e.t, err)
}

// Send writes a command the way the engine does: the name, the parameter
// count, then each parameter, one value per packet.
func (e *Engine) Send(name string, params ...variant.Value) {
	e.t.Helper()
	e.Write(Packet(Value(nil, variant.String(name))))
	e.Write(Packet(Value(nil, variant.Int(len(params)))))
	for _, p := range params {
		e.Write(Packet(Value(nil, p)))
	}
}

// Expect reads the next command from the debugger, checks its name and
// returns its parameters.
func (e *Engine) Expect(name string) variant.Array {
	e.t.Helper()
	require.NoError(e.t, e.Conn.SetReadDeadline(time.Now().Add(Wait)))
	tokens, err := e.Packets.ReadPacket()
	require.NoError(e.t, err)
	require.Len(e.t, tokens, 1)
	arr, ok := tokens[0].(variant.Array)
	require.True(e.t, ok, "command is %T, want Array", tokens[0])
	require.NotEmpty(e.t, arr)
	got, _ := variant.AsString(arr[0])
	require.Equal(e.t, name, got)
	return arr[1:]
}

// Stop drives a breakpoint stop at frames[0] through the stack dump.
func (e *Engine) Stop(frames ...variant.Dictionary) {
	e.t.Helper()
	e.Send(command.DebugEnter, variant.Bool(true), variant.String("Breakpoint"))
	e.Expect(command.CmdGetStackDump)
	params := make([]variant.Value, len(frames))
	for i, f := range frames {
		params[i] = f
	}
	e.Send(command.StackDump, params...)
}

// Frame builds one stack_dump entry.
func Frame(file string, line int, function string) variant.Dictionary {
	return variant.Dictionary{
		{Key: variant.String("file"), Value: variant.String(file)},
		{Key: variant.String("line"), Value: variant.Int(line)},
		{Key: variant.String("function"), Value: variant.String(function)},
		{Key: variant.String("id"), Value: variant.Int(0)},
	}
}

// FrameVars lays out stack_frame_vars parameters from name/value pairs per
// scope.
func FrameVars(locals, members, globals []variant.Value) []variant.Value {
	var out []variant.Value
	for _, pairs := range [][]variant.Value{locals, members, globals} {
		out = append(out, variant.Int(len(pairs)/2))
		out = append(out, pairs...)
	}
	return out
}
