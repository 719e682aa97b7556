package variant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnencodable is returned for types the debugger never sends to the
	// engine (geometry, objects, node paths).
	ErrUnencodable = errors.New("variant: type cannot be encoded")

	// ErrOverflow is returned for integers that do not fit the 32-bit wire
	// width used for outbound values.
	ErrOverflow = errors.New("variant: integer does not fit in 32 bits")
)

// Size returns the exact number of bytes Encode produces for v.
func Size(v Value) (int, error) {
	switch t := v.(type) {
	case nil, Nil:
		return 4, nil
	case Bool:
		return 8, nil
	case Int:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d", ErrOverflow, int64(t))
		}
		return 8, nil
	case String:
		return 8 + pad4(len(t)), nil
	case Array:
		size := 8
		for _, e := range t {
			n, err := Size(e)
			if err != nil {
				return 0, err
			}
			size += n
		}
		return size, nil
	case Dictionary:
		size := 8
		for _, e := range t {
			k, err := Size(e.Key)
			if err != nil {
				return 0, err
			}
			val, err := Size(e.Value)
			if err != nil {
				return 0, err
			}
			size += k + val
		}
		return size, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnencodable, v.Type())
	}
}

// Encode serializes v without a length prefix.
func Encode(v Value) ([]byte, error) {
	size, err := Size(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	put(buf, v)
	return buf, nil
}

// EncodePacket serializes v behind the 4-byte total length prefix used for
// every packet on the debugger connection.
func EncodePacket(v Value) ([]byte, error) {
	size, err := Size(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size+4)
	binary.LittleEndian.PutUint32(buf, uint32(size))
	put(buf[4:], v)
	return buf, nil
}

// put writes v into buf, which Size has already validated and sized. It
// returns the number of bytes written.
func put(buf []byte, v Value) int {
	switch t := v.(type) {
	case nil, Nil:
		binary.LittleEndian.PutUint32(buf, uint32(TypeNil))
		return 4
	case Bool:
		binary.LittleEndian.PutUint32(buf, uint32(TypeBool))
		var n uint32
		if t {
			n = 1
		}
		binary.LittleEndian.PutUint32(buf[4:], n)
		return 8
	case Int:
		binary.LittleEndian.PutUint32(buf, uint32(TypeInt))
		binary.LittleEndian.PutUint32(buf[4:], uint32(int32(t)))
		return 8
	case String:
		binary.LittleEndian.PutUint32(buf, uint32(TypeString))
		binary.LittleEndian.PutUint32(buf[4:], uint32(len(t)))
		// buf comes from make, so the padding is already zero.
		copy(buf[8:], t)
		return 8 + pad4(len(t))
	case Array:
		binary.LittleEndian.PutUint32(buf, uint32(TypeArray))
		binary.LittleEndian.PutUint32(buf[4:], uint32(len(t)))
		off := 8
		for _, e := range t {
			off += put(buf[off:], e)
		}
		return off
	case Dictionary:
		binary.LittleEndian.PutUint32(buf, uint32(TypeDictionary))
		binary.LittleEndian.PutUint32(buf[4:], uint32(len(t)))
		off := 8
		for _, e := range t {
			off += put(buf[off:], e.Key)
			off += put(buf[off:], e.Value)
		}
		return off
	}
	panic(fmt.Sprintf("variant: put called with unvalidated %T", v))
}
