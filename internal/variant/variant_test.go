package variant

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wire builds raw engine bytes for decoder tests.
type wire struct {
	b []byte
}

func (w *wire) u32(v uint32) *wire {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
	return w
}

func (w *wire) u64(v uint64) *wire {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
	return w
}

func (w *wire) f32(fs ...float32) *wire {
	for _, f := range fs {
		w.u32(math.Float32bits(f))
	}
	return w
}

func (w *wire) str(s string) *wire {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
	for len(w.b)%4 != 0 {
		w.b = append(w.b, 0)
	}
	return w
}

func (w *wire) raw(p []byte) *wire {
	w.b = append(w.b, p...)
	return w
}

func (w *wire) packet() []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(w.b)))
	return append(out, w.b...)
}

func decodeAll(t *testing.T, buf []byte) Value {
	t.Helper()
	v, next, err := Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), next, "decoder did not consume the whole buffer")
	return v
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"nil", Nil{}},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"zero", Int(0)},
		{"negative", Int(-42)},
		{"min int32", Int(math.MinInt32)},
		{"max int32", Int(math.MaxInt32)},
		{"empty string", String("")},
		{"three byte string", String("abc")},
		{"four byte string", String("abcd")},
		{"non-ascii string", String("héllo, 世界")},
		{"empty array", Array{}},
		{"empty dictionary", Dictionary{}},
		{"nested", Array{
			String("debug_enter"),
			Int(-1),
			Dictionary{
				{Key: String("a"), Value: Array{Bool(true), Nil{}}},
				{Key: Int(7), Value: String("seven")},
			},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.v)
			require.NoError(t, err)

			size, err := Size(tc.v)
			require.NoError(t, err)
			assert.Len(t, buf, size)

			got := decodeAll(t, buf)
			assert.True(t, Equal(tc.v, got), "round trip mismatch: want %#v, got %#v", tc.v, got)
		})
	}
}

func TestStringPadding(t *testing.T) {
	tests := []struct {
		s    string
		size int
	}{
		{"", 8},
		{"a", 12},
		{"abc", 12},
		{"abcd", 12},
		{"abcde", 16},
		{"é", 12},
	}

	for _, tc := range tests {
		t.Run(tc.s, func(t *testing.T) {
			buf, err := Encode(String(tc.s))
			require.NoError(t, err)
			assert.Len(t, buf, tc.size)
			assert.Equal(t, uint32(len(tc.s)), binary.LittleEndian.Uint32(buf[4:]))
		})
	}
}

func TestStringPaddingIsSkipped(t *testing.T) {
	// "abc" occupies 4 payload bytes, "abcd" occupies 4, the next value must
	// start right after.
	buf := (&wire{}).
		u32(uint32(TypeString)).str("abc").
		u32(uint32(TypeString)).str("abcd").
		u32(uint32(TypeInt)).u32(9).b

	d := NewDecoder(buf, 0)
	var got []Value
	for d.Offset() < len(buf) {
		v, err := d.Decode()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []Value{String("abc"), String("abcd"), Int(9)}, got)
}

func TestEncodeNegativeInt(t *testing.T) {
	buf, err := Encode(Int(-2))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}, buf)
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(Int(math.MaxInt32 + 1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Encode(Array{Vector2{X: 1}})
	assert.ErrorIs(t, err, ErrUnencodable)

	_, err = Encode(Float(1.5))
	assert.ErrorIs(t, err, ErrUnencodable)
}

func TestEncodePacket(t *testing.T) {
	buf, err := EncodePacket(Array{String("get_stack_dump")})
	require.NoError(t, err)

	// Array header (8) + string header (8) + "get_stack_dump" padded to 16.
	assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(buf))
	assert.Len(t, buf, 36)

	n, tokens, err := DecodePacket(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 36, n)
	require.Len(t, tokens, 1)
	assert.True(t, Equal(Array{String("get_stack_dump")}, tokens[0]))
}

func TestDictionaryOrderIndependence(t *testing.T) {
	ab := Dictionary{{Key: String("a"), Value: Int(1)}, {Key: String("b"), Value: Int(2)}}
	ba := Dictionary{{Key: String("b"), Value: Int(2)}, {Key: String("a"), Value: Int(1)}}

	bufAB, err := Encode(ab)
	require.NoError(t, err)
	bufBA, err := Encode(ba)
	require.NoError(t, err)

	gotAB := decodeAll(t, bufAB)
	gotBA := decodeAll(t, bufBA)
	assert.True(t, Equal(gotAB, gotBA))
	assert.Equal(t, Render(gotAB), Render(gotBA))

	assert.False(t, Equal(ab, Dictionary{{Key: String("a"), Value: Int(1)}, {Key: String("b"), Value: Int(3)}}))
	assert.False(t, Equal(ab, Dictionary{{Key: String("a"), Value: Int(1)}, {Key: String("a"), Value: Int(1)}}))
}

func TestDecodeWideNumbers(t *testing.T) {
	buf := (&wire{}).u32(uint32(TypeInt) | flag64).u64(uint64(1) << 40).b
	assert.Equal(t, Int(1<<40), decodeAll(t, buf))

	buf = (&wire{}).u32(uint32(TypeInt) | flag64).u64(math.MaxUint64).b
	assert.Equal(t, Int(-1), decodeAll(t, buf))

	buf = (&wire{}).u32(uint32(TypeReal) | flag64).u64(math.Float64bits(0.1)).b
	assert.Equal(t, Float(0.1), decodeAll(t, buf))

	buf = (&wire{}).u32(uint32(TypeReal)).f32(2.5).b
	assert.Equal(t, Float(2.5), decodeAll(t, buf))
}

func TestDecodeGeometry(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want Value
	}{
		{
			"vector2",
			(&wire{}).u32(uint32(TypeVector2)).f32(1, 2).b,
			Vector2{X: 1, Y: 2},
		},
		{
			"rect2",
			(&wire{}).u32(uint32(TypeRect2)).f32(1, 2, 3, 4).b,
			Rect2{Position: Vector2{X: 1, Y: 2}, Size: Vector2{X: 3, Y: 4}},
		},
		{
			"transform2d",
			(&wire{}).u32(uint32(TypeTransform2D)).f32(1, 0, 0, 1, 5, 6).b,
			Transform2D{X: Vector2{X: 1}, Y: Vector2{Y: 1}, Origin: Vector2{X: 5, Y: 6}},
		},
		{
			"plane",
			(&wire{}).u32(uint32(TypePlane)).f32(0, 1, 0, 3).b,
			Plane{Normal: Vector3{Y: 1}, D: 3},
		},
		{
			"quat",
			(&wire{}).u32(uint32(TypeQuat)).f32(0, 0, 0, 1).b,
			Quat{W: 1},
		},
		{
			"aabb",
			(&wire{}).u32(uint32(TypeAABB)).f32(1, 2, 3, 4, 5, 6).b,
			AABB{Position: Vector3{X: 1, Y: 2, Z: 3}, Size: Vector3{X: 4, Y: 5, Z: 6}},
		},
		{
			"transform",
			(&wire{}).u32(uint32(TypeTransform)).f32(1, 0, 0, 0, 1, 0, 0, 0, 1, 7, 8, 9).b,
			Transform{
				Basis:  Basis{X: Vector3{X: 1}, Y: Vector3{Y: 1}, Z: Vector3{Z: 1}},
				Origin: Vector3{X: 7, Y: 8, Z: 9},
			},
		},
		{
			"color",
			(&wire{}).u32(uint32(TypeColor)).f32(1, 0.5, 0.25, 1).b,
			Color{R: 1, G: 0.5, B: 0.25, A: 1},
		},
		{
			"rid",
			(&wire{}).u32(uint32(TypeRID)).b,
			Nil{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, decodeAll(t, tc.buf)); diff != "" {
				t.Errorf("decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeNodePath(t *testing.T) {
	t.Run("absolute", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeNodePath)).
			u32(2 | 0x80000000).u32(1).u32(1).
			str("root").str("Player").str("position").b

		got := decodeAll(t, buf)
		want := NodePath{Names: []string{"root", "Player"}, SubNames: []string{"position"}, Absolute: true}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("node path mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "/root/Player:position", Render(got))
	})

	t.Run("obsolete format adds a sub-name", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeNodePath)).
			u32(1 | 0x80000000).u32(1).u32(2).
			str("Sprite").str("modulate").str("r").b

		got := decodeAll(t, buf)
		want := NodePath{Names: []string{"Sprite"}, SubNames: []string{"modulate", "r"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("node path mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDecodeObjects(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeObject)).str("Node2D").u32(2).
			str("name").u32(uint32(TypeString)).str("Player").
			str("visible").u32(uint32(TypeBool)).u32(1).b

		want := Object{Class: "Node2D", Properties: []Property{
			{Name: "name", Value: String("Player")},
			{Name: "visible", Value: Bool(true)},
		}}
		if diff := cmp.Diff(want, decodeAll(t, buf)); diff != "" {
			t.Errorf("object mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("null", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeObject)).str("").b
		assert.Equal(t, Nil{}, decodeAll(t, buf))
	})

	t.Run("id", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeObject) | flag64).u64(1234).b
		got := decodeAll(t, buf)
		assert.Equal(t, ObjectID(1234), got)
		assert.Equal(t, "Object<1234>", Render(got))
	})
}

func TestDecodeSharedCounts(t *testing.T) {
	buf := (&wire{}).u32(uint32(TypeArray)).u32(1 | 0x80000000).
		u32(uint32(TypeInt)).u32(3).b
	assert.True(t, Equal(Array{Int(3)}, decodeAll(t, buf)))
}

func TestDecodePools(t *testing.T) {
	t.Run("bytes are padded", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypePoolByteArray)).u32(3).raw([]byte{1, 2, 3, 0}).
			u32(uint32(TypeInt)).u32(7).b

		v, next, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.True(t, Equal(Array{Int(1), Int(2), Int(3)}, v))

		v, _, err = Decode(buf, next)
		require.NoError(t, err)
		assert.Equal(t, Int(7), v)
	})

	t.Run("strings", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypePoolStringArray)).u32(2).str("a").str("bcde").b
		assert.True(t, Equal(Array{String("a"), String("bcde")}, decodeAll(t, buf)))
	})

	t.Run("vector2", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypePoolVector2Array)).u32(1).f32(3, 4).b
		assert.True(t, Equal(Array{Vector2{X: 3, Y: 4}}, decodeAll(t, buf)))
	})
}

func TestDecodeTruncated(t *testing.T) {
	buf := (&wire{}).u32(uint32(TypeString)).u32(10).raw([]byte("abc")).b
	_, _, err := Decode(buf, 0)
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Decode([]byte{1, 0}, 0)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodePacketBackToBack(t *testing.T) {
	var stream []byte
	for _, name := range []string{"debug_enter", "stack_dump", "debug_exit"} {
		stream = append(stream, (&wire{}).u32(uint32(TypeString)).str(name).u32(uint32(TypeInt)).u32(0).packet()...)
	}

	var names []string
	for off := 0; off < len(stream); {
		n, tokens, err := DecodePacket(stream, off)
		require.NoError(t, err)
		require.Len(t, tokens, 2)
		names = append(names, string(tokens[0].(String)))
		off += n
	}
	assert.Equal(t, []string{"debug_enter", "stack_dump", "debug_exit"}, names)

	packets, err := DecodeAll(stream)
	require.NoError(t, err)
	assert.Len(t, packets, 3)
}

func TestDecodePacketUnknownTag(t *testing.T) {
	t.Run("mid packet desyncs", func(t *testing.T) {
		bad := (&wire{}).u32(uint32(TypeString)).str("output").u32(0xfe).u32(uint32(TypeInt)).u32(1).packet()
		good := (&wire{}).u32(uint32(TypeString)).str("debug_exit").packet()
		stream := append(bad, good...)

		n, tokens, err := DecodePacket(stream, 0)
		var desync *DesyncError
		require.True(t, errors.As(err, &desync), "expected desync, got %v", err)
		assert.Nil(t, tokens)
		assert.Equal(t, len(bad), n)
		assert.Equal(t, []uint32{0xfe}, desync.Unknown)

		_, tokens, err = DecodePacket(stream, n)
		require.NoError(t, err)
		assert.Equal(t, []Value{String("debug_exit")}, tokens)
	})

	t.Run("trailing tag decodes to nil", func(t *testing.T) {
		buf := (&wire{}).u32(uint32(TypeString)).str("x").u32(0xfe).packet()
		_, tokens, err := DecodePacket(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, []Value{String("x"), Nil{}}, tokens)
	})

	t.Run("overrun desyncs", func(t *testing.T) {
		// The string claims more bytes than the packet holds.
		body := (&wire{}).u32(uint32(TypeString)).u32(64).raw([]byte("abcd"))
		buf := append(body.packet(), (&wire{}).u32(uint32(TypeNil)).packet()...)
		n, _, err := DecodePacket(buf, 0)
		var desync *DesyncError
		require.True(t, errors.As(err, &desync))
		assert.ErrorIs(t, err, ErrTruncated)
		assert.Equal(t, 16, n)
	})
}

func TestPacketReader(t *testing.T) {
	var stream bytes.Buffer
	stream.Write((&wire{}).u32(uint32(TypeString)).str("debug_enter").u32(uint32(TypeInt)).u32(2).packet())
	stream.Write((&wire{}).u32(uint32(TypeBool)).u32(1).u32(uint32(TypeString)).str("Breakpoint").packet())

	r := NewPacketReader(iotest.OneByteReader(&stream))

	first, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []Value{String("debug_enter"), Int(2)}, first)

	second, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []Value{Bool(true), String("Breakpoint")}, second)

	_, err = r.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPacketReaderTooLarge(t *testing.T) {
	buf := binary.LittleEndian.AppendUint32(nil, MaxPacketSize+1)
	_, err := NewPacketReader(bytes.NewReader(buf)).ReadPacket()
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestRender(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Nil{}, "null"},
		{nil, "null"},
		{Bool(true), "true"},
		{Int(-3), "-3"},
		{Float(1), "1"},
		{Float(1.5), "1.5"},
		{Float(3.14159), "3.14"},
		{Float(1e21), "1000000000000000000000"},
		{Float(-0.001), "0"},
		{Float(math.Inf(1)), "inf"},
		{String(`say "hi"`), `"say \"hi\""`},
		{Vector2{X: 1, Y: 2.25}, "(1, 2.25)"},
		{Vector3{X: 0.5}, "(0.5, 0, 0)"},
		{Rect2{Size: Vector2{X: 2, Y: 3}}, "(0, 0), (2, 3)"},
		{Color{R: 1, A: 1}, "(1, 0, 0, 1)"},
		{NodePath{Names: []string{"Enemy"}}, "Enemy"},
		{Object{Class: "Sprite"}, "Sprite"},
		{Array{Int(1), Int(2)}, "Array[2]"},
		{Dictionary{}, "Dictionary[0]"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.v))
		})
	}
}

func TestFields(t *testing.T) {
	d := Dictionary{
		{Key: String("x"), Value: Int(1)},
		{Key: String("two words"), Value: Int(2)},
		{Key: Int(3), Value: Int(3)},
	}
	got := Fields(d)
	want := []Field{
		{Name: "x", Path: ".x", Value: Int(1)},
		{Name: "two words", Path: `["two words"]`, Value: Int(2)},
		{Name: "3", Path: "[3]", Value: Int(3)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	arr := Fields(Array{String("a"), String("b")})
	require.Len(t, arr, 2)
	assert.Equal(t, "[1]", arr[1].Path)

	vec := Fields(Vector2{X: 1, Y: 2})
	assert.Equal(t, []Field{{Name: "x", Path: ".x", Value: Float(1)}, {Name: "y", Path: ".y", Value: Float(2)}}, vec)

	assert.Empty(t, Fields(Int(1)))
	assert.Empty(t, Fields(ObjectID(9)))
}
