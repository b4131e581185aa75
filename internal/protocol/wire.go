package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

var le = binary.LittleEndian

type writer struct {
	b []byte
}

func (w *writer) u8(v byte)     { w.b = append(w.b, v) }
func (w *writer) u16(v uint16)  { w.b = le.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32)  { w.b = le.AppendUint32(w.b, v) }
func (w *writer) i32(v int32)   { w.b = le.AppendUint32(w.b, uint32(v)) }
func (w *writer) i64(v int64)   { w.b = le.AppendUint64(w.b, uint64(v)) }
func (w *writer) f64(v float64) { w.b = le.AppendUint64(w.b, math.Float64bits(v)) }
func (w *writer) raw(p []byte)  { w.b = append(w.b, p...) }

func (w *writer) str8(s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("%w: string of %d bytes", ErrTooLarge, len(s))
	}
	w.u8(byte(len(s)))
	w.b = append(w.b, s...)
	return nil
}

// reader decodes sequentially; the first short read sticks in err.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.b)-r.off)
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := le.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := le.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) i64() int64 {
	if !r.need(8) {
		return 0
	}
	v := le.Uint64(r.b[r.off:])
	r.off += 8
	return int64(v)
}

func (r *reader) f64() float64 {
	if !r.need(8) {
		return 0
	}
	v := le.Uint64(r.b[r.off:])
	r.off += 8
	return math.Float64frombits(v)
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) str8() string {
	n := int(r.u8())
	return string(r.bytes(n))
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	v := r.b[r.off:]
	r.off = len(r.b)
	return v
}

func (r *reader) remaining() int { return len(r.b) - r.off }

// done fails if unread bytes remain.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b)-r.off)
	}
	return nil
}
