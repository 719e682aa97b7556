package variant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned when a value extends past the end of the buffer.
var ErrTruncated = errors.New("variant: truncated data")

// Decoder reads consecutive Variants from a byte buffer.
type Decoder struct {
	buf []byte
	off int

	// unknown collects type words with an unrecognized type id. Their payload
	// length is unknown, so the cursor may be misaligned after one.
	unknown []uint32
	// unknownEnd is the offset just past the last unrecognized type word.
	unknownEnd int
}

// NewDecoder returns a decoder positioned at off.
func NewDecoder(buf []byte, off int) *Decoder {
	return &Decoder{buf: buf, off: off}
}

// Offset returns the cursor position.
func (d *Decoder) Offset() int {
	return d.off
}

// Unknown returns the unrecognized type words seen so far.
func (d *Decoder) Unknown() []uint32 {
	return d.unknown
}

// Decode reads one Variant from buf at off and returns it together with the
// offset just past it.
func Decode(buf []byte, off int) (Value, int, error) {
	d := NewDecoder(buf, off)
	v, err := d.Decode()
	return v, d.off, err
}

// Decode reads the next Variant and advances the cursor.
func (d *Decoder) Decode() (Value, error) {
	word, err := d.u32()
	if err != nil {
		return nil, err
	}
	wide := word&flag64 != 0

	switch Type(word & typeMask) {
	case TypeNil:
		return Nil{}, nil
	case TypeBool:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		return Bool(n != 0), nil
	case TypeInt:
		if wide {
			n, err := d.u64()
			return Int(int64(n)), err
		}
		n, err := d.u32()
		return Int(int32(n)), err
	case TypeReal:
		if wide {
			f, err := d.f64()
			return Float(f), err
		}
		f, err := d.f32()
		return Float(f), err
	case TypeString:
		s, err := d.str()
		return String(s), err
	case TypeVector2:
		return d.vector2()
	case TypeRect2:
		pos, err := d.vector2()
		if err != nil {
			return nil, err
		}
		size, err := d.vector2()
		return Rect2{Position: pos, Size: size}, err
	case TypeVector3:
		return d.vector3()
	case TypeTransform2D:
		var t Transform2D
		for _, dst := range []*Vector2{&t.X, &t.Y, &t.Origin} {
			if *dst, err = d.vector2(); err != nil {
				return nil, err
			}
		}
		return t, nil
	case TypePlane:
		n, err := d.vector3()
		if err != nil {
			return nil, err
		}
		dist, err := d.f32()
		return Plane{Normal: n, D: dist}, err
	case TypeQuat:
		f, err := d.floats(4)
		if err != nil {
			return nil, err
		}
		return Quat{X: f[0], Y: f[1], Z: f[2], W: f[3]}, nil
	case TypeAABB:
		pos, err := d.vector3()
		if err != nil {
			return nil, err
		}
		size, err := d.vector3()
		return AABB{Position: pos, Size: size}, err
	case TypeBasis:
		return d.basis()
	case TypeTransform:
		b, err := d.basis()
		if err != nil {
			return nil, err
		}
		o, err := d.vector3()
		return Transform{Basis: b, Origin: o}, err
	case TypeColor:
		return d.color()
	case TypeNodePath:
		return d.nodePath()
	case TypeRID:
		// RIDs carry no payload over the debugger connection.
		return Nil{}, nil
	case TypeObject:
		if wide {
			id, err := d.u64()
			return ObjectID(id), err
		}
		return d.object()
	case TypeDictionary:
		return d.dictionary()
	case TypeArray:
		return d.array()
	case TypePoolByteArray:
		return d.poolBytes()
	case TypePoolIntArray:
		return d.pool(func() (Value, error) {
			n, err := d.u32()
			return Int(int32(n)), err
		})
	case TypePoolRealArray:
		return d.pool(func() (Value, error) {
			f, err := d.f32()
			return Float(f), err
		})
	case TypePoolStringArray:
		return d.pool(func() (Value, error) {
			s, err := d.str()
			return String(s), err
		})
	case TypePoolVector2Array:
		return d.pool(func() (Value, error) { return d.vector2() })
	case TypePoolVector3Array:
		return d.pool(func() (Value, error) { return d.vector3() })
	case TypePoolColorArray:
		return d.pool(func() (Value, error) { return d.color() })
	default:
		d.unknown = append(d.unknown, word)
		d.unknownEnd = d.off
		return Nil{}, nil
	}
}

func (d *Decoder) need(n int) error {
	if n < 0 || d.off+n > len(d.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, d.off, len(d.buf)-d.off)
	}
	return nil
}

func (d *Decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return n, nil
}

func (d *Decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return n, nil
}

func (d *Decoder) f32() (float64, error) {
	n, err := d.u32()
	return float64(math.Float32frombits(n)), err
}

func (d *Decoder) f64() (float64, error) {
	n, err := d.u64()
	return math.Float64frombits(n), err
}

func (d *Decoder) floats(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		f, err := d.f32()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// str reads a length-prefixed UTF-8 string and skips its padding.
func (d *Decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	size := int(n)
	padded := pad4(size)
	if err := d.need(padded); err != nil {
		return "", err
	}
	s := string(d.buf[d.off : d.off+size])
	d.off += padded
	return s, nil
}

func (d *Decoder) count() (int, error) {
	n, err := d.u32()
	return int(n & countMask), err
}

// capacity bounds a preallocation by what the remaining bytes could hold.
func (d *Decoder) capacity(n, elemSize int) int {
	if limit := (len(d.buf) - d.off) / elemSize; n > limit {
		return limit
	}
	return n
}

func (d *Decoder) vector2() (Vector2, error) {
	f, err := d.floats(2)
	if err != nil {
		return Vector2{}, err
	}
	return Vector2{X: f[0], Y: f[1]}, nil
}

func (d *Decoder) vector3() (Vector3, error) {
	f, err := d.floats(3)
	if err != nil {
		return Vector3{}, err
	}
	return Vector3{X: f[0], Y: f[1], Z: f[2]}, nil
}

func (d *Decoder) basis() (Basis, error) {
	var b Basis
	var err error
	for _, dst := range []*Vector3{&b.X, &b.Y, &b.Z} {
		if *dst, err = d.vector3(); err != nil {
			return Basis{}, err
		}
	}
	return b, nil
}

func (d *Decoder) color() (Color, error) {
	f, err := d.floats(4)
	if err != nil {
		return Color{}, err
	}
	return Color{R: f[0], G: f[1], B: f[2], A: f[3]}, nil
}

func (d *Decoder) nodePath() (Value, error) {
	names, err := d.u32()
	if err != nil {
		return nil, err
	}
	subNames, err := d.u32()
	if err != nil {
		return nil, err
	}
	flags, err := d.u32()
	if err != nil {
		return nil, err
	}
	nameCount := int(names & countMask)
	subCount := int(subNames)
	if flags&2 != 0 {
		// Obsolete format that sent the property apart from the sub-path.
		subCount++
	}

	p := NodePath{Absolute: flags&1 != 0}
	for i := 0; i < nameCount+subCount; i++ {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		if i < nameCount {
			p.Names = append(p.Names, s)
		} else {
			p.SubNames = append(p.SubNames, s)
		}
	}
	return p, nil
}

func (d *Decoder) object() (Value, error) {
	class, err := d.str()
	if err != nil {
		return nil, err
	}
	if class == "" {
		// A null object is sent as an empty class name.
		return Nil{}, nil
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	obj := Object{Class: class, Properties: make([]Property, 0, d.capacity(int(n), 8))}
	for i := 0; i < int(n); i++ {
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		obj.Properties = append(obj.Properties, Property{Name: name, Value: v})
	}
	return obj, nil
}

func (d *Decoder) dictionary() (Value, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	out := make(Dictionary, 0, d.capacity(n, 8))
	for i := 0; i < n; i++ {
		k, err := d.Decode()
		if err != nil {
			return nil, err
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

func (d *Decoder) array() (Value, error) {
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	out := make(Array, 0, d.capacity(n, 4))
	for i := 0; i < n; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) pool(elem func() (Value, error)) (Value, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make(Array, 0, d.capacity(int(n), 4))
	for i := 0; i < int(n); i++ {
		v, err := elem()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// poolBytes reads a byte array, which the engine pads to a multiple of four.
func (d *Decoder) poolBytes() (Value, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	size := int(n)
	if err := d.need(pad4(size)); err != nil {
		return nil, err
	}
	out := make(Array, size)
	for i := 0; i < size; i++ {
		out[i] = Int(d.buf[d.off+i])
	}
	d.off += pad4(size)
	return out, nil
}

// pad4 rounds n up to the next multiple of four.
func pad4(n int) int {
	return (n + 3) &^ 3
}
