package variant

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPacketSize bounds a single packet read from the engine (16MB). Larger
// length prefixes are treated as stream corruption.
const MaxPacketSize = 16 * 1024 * 1024

// ErrPacketTooLarge is returned when a length prefix exceeds MaxPacketSize.
var ErrPacketTooLarge = errors.New("variant: packet exceeds maximum size")

// DesyncError reports a packet whose contents could not be decoded to its
// declared length. The packet boundary is still known, so a reader can skip
// to the next packet.
type DesyncError struct {
	// Offset is where the packet starts in the buffer it was read from.
	Offset int
	// Length is the declared payload length.
	Length int
	// Consumed is how far decoding got inside the payload.
	Consumed int
	// Unknown holds unrecognized type words seen while decoding.
	Unknown []uint32
	// Err is the underlying decode error, if any.
	Err error
}

func (e *DesyncError) Error() string {
	msg := fmt.Sprintf("variant: packet at offset %d desynchronized: decoded %d of %d bytes", e.Offset, e.Consumed, e.Length)
	if len(e.Unknown) > 0 {
		msg += fmt.Sprintf(" (unknown type words %#x)", e.Unknown)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DesyncError) Unwrap() error {
	return e.Err
}

// DecodePacket reads one length-prefixed packet starting at off and decodes
// Variants until the declared length is used up.
//
// consumed is the packet's full size (prefix included) whenever the prefix
// itself could be read, even when err is a *DesyncError, so callers holding
// several back-to-back packets can move on to the next one.
func DecodePacket(buf []byte, off int) (consumed int, tokens []Value, err error) {
	if off < 0 || len(buf)-off < 4 {
		return 0, nil, fmt.Errorf("%w: packet header at offset %d", ErrTruncated, off)
	}
	length := int(binary.LittleEndian.Uint32(buf[off:]))
	consumed = length + 4
	if length > len(buf)-off-4 {
		return consumed, nil, fmt.Errorf("%w: packet of %d bytes at offset %d, have %d", ErrTruncated, length, off, len(buf)-off-4)
	}

	tokens, err = decodePayload(buf[off+4 : off+4+length])
	if err != nil {
		var desync *DesyncError
		if errors.As(err, &desync) {
			desync.Offset = off
		}
		return consumed, nil, err
	}
	return consumed, tokens, nil
}

// decodePayload decodes the Variants of one packet body. An unrecognized type
// word is only trusted when nothing follows it in the packet; otherwise its
// payload, if any, has been read as the next values.
func decodePayload(body []byte) ([]Value, error) {
	d := NewDecoder(body, 0)
	var tokens []Value
	for d.off < len(body) {
		v, err := d.Decode()
		if err != nil {
			return nil, &DesyncError{Length: len(body), Consumed: d.off, Unknown: d.unknown, Err: err}
		}
		tokens = append(tokens, v)
	}
	if len(d.unknown) > 0 && d.unknownEnd != len(body) {
		return nil, &DesyncError{Length: len(body), Consumed: d.unknownEnd, Unknown: d.unknown}
	}
	return tokens, nil
}

// DecodeAll decodes every packet held in buf.
func DecodeAll(buf []byte) ([][]Value, error) {
	var packets [][]Value
	for off := 0; off < len(buf); {
		n, tokens, err := DecodePacket(buf, off)
		if err != nil {
			return packets, err
		}
		packets = append(packets, tokens)
		off += n
	}
	return packets, nil
}

// PacketReader reads packets from a byte stream. TCP reads do not respect
// packet boundaries, so the reader buffers until a full packet is available.
type PacketReader struct {
	r   *bufio.Reader
	buf []byte
}

// NewPacketReader wraps r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: bufio.NewReader(r)}
}

// ReadPacket blocks until one whole packet has been read and returns its
// tokens. A *DesyncError leaves the stream positioned at the next packet.
func (p *PacketReader) ReadPacket() ([]Value, error) {
	var header [4]byte
	if _, err := io.ReadFull(p.r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, length)
	}
	if cap(p.buf) < int(length) {
		p.buf = make([]byte, length)
	}
	body := p.buf[:length]
	if _, err := io.ReadFull(p.r, body); err != nil {
		return nil, fmt.Errorf("read packet body: %w", err)
	}
	return decodePayload(body)
}
