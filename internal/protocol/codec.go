package protocol

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Fixed field sizes for length prefixed text.
const (
	MaxNameLength   = 16
	MaxColorLength  = 16
	MaxSerialLength = 16
)

// MaxFrameLength is the largest value the 16 bit length prefix can carry.
const MaxFrameLength = 0xFFFF

// writer appends little-endian fields to a frame under construction.
type writer struct {
	buf []byte
}

func newWriter(opcode uint8) *writer {
	// Two bytes reserved for the length prefix, filled in by frame().
	return &writer{buf: []byte{0, 0, opcode}}
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) i8(v int8)    { w.buf = append(w.buf, uint8(v)) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) i16(v int16)  { w.u16(uint16(v)) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) i64(v int64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) addr(a BdAddr) { w.buf = append(w.buf, a[:]...) }

func (w *writer) uuid(u uuid.UUID) { w.buf = append(w.buf, u[:]...) }

// str writes [len][bytes][zero padding up to max].
func (w *writer) str(s string, max int) error {
	if len(s) > max {
		return errors.Wrapf(ErrStringTooLong, "%d > %d", len(s), max)
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, make([]byte, max-len(s))...)
	return nil
}

func (w *writer) frame() ([]byte, error) {
	n := len(w.buf) - 2
	if n > MaxFrameLength {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}
	binary.LittleEndian.PutUint16(w.buf[0:2], uint16(n))
	return w.buf, nil
}

// reader consumes fields from a payload. The first short read sticks in err
// and every later read returns a zero value.
type reader struct {
	buf []byte
	pos int
	err error
}

func newReader(payload []byte) *reader {
	return &reader{buf: payload}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = errors.Wrapf(ErrShortFrame, "need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) i8() int8 { return int8(r.u8()) }

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) i16() int16 { return int16(r.u16()) }

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) i64() int64 {
	if b := r.take(8); b != nil {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *reader) boolean() bool { return r.u8() != 0 }

func (r *reader) addr() BdAddr {
	var a BdAddr
	copy(a[:], r.take(len(a)))
	return a
}

func (r *reader) uuid() uuid.UUID {
	var u uuid.UUID
	copy(u[:], r.take(len(u)))
	return u
}

// str reads [len][bytes] and skips the pad region up to max.
func (r *reader) str(max int) string {
	n := int(r.u8())
	raw := r.take(max)
	if raw == nil {
		return ""
	}
	if n > max {
		r.err = errors.Wrapf(ErrStringTooLong, "length byte %d > %d", n, max)
		return ""
	}
	return string(raw[:n])
}

// optionalStr is str for trailing fields that older daemons omit entirely.
func (r *reader) optionalStr(max int) string {
	if r.err != nil || r.remaining() == 0 {
		return ""
	}
	return r.str(max)
}
