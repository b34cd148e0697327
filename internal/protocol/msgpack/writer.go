package msgpack

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Writer encodes MessagePack values onto an io.Writer. The first sink error
// sticks: later writes are no-ops and Err reports it.
type Writer struct {
	w       io.Writer
	err     error
	scratch [16]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered by the writer.
func (w *Writer) Err() error { return w.err }

// Fail records err unless an earlier error is already held.
func (w *Writer) Fail(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.err = err
	}
}

func (w *Writer) writeString(s string) {
	if w.err != nil {
		return
	}
	if _, err := io.WriteString(w.w, s); err != nil {
		w.err = err
	}
}

func (w *Writer) code(c byte) {
	w.scratch[0] = c
	w.write(w.scratch[:1])
}

func (w *Writer) code8(c byte, v uint8) {
	w.scratch[0] = c
	w.scratch[1] = v
	w.write(w.scratch[:2])
}

func (w *Writer) code16(c byte, v uint16) {
	w.scratch[0] = c
	binary.BigEndian.PutUint16(w.scratch[1:], v)
	w.write(w.scratch[:3])
}

func (w *Writer) code32(c byte, v uint32) {
	w.scratch[0] = c
	binary.BigEndian.PutUint32(w.scratch[1:], v)
	w.write(w.scratch[:5])
}

func (w *Writer) code64(c byte, v uint64) {
	w.scratch[0] = c
	binary.BigEndian.PutUint64(w.scratch[1:], v)
	w.write(w.scratch[:9])
}

func (w *Writer) WriteNil() { w.code(msgpcode.Nil) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.code(msgpcode.True)
		return
	}
	w.code(msgpcode.False)
}

// Fixed-width integer writers always use their own tag family.

func (w *Writer) WriteInt8(v int8)     { w.code8(msgpcode.Int8, uint8(v)) }
func (w *Writer) WriteInt16(v int16)   { w.code16(msgpcode.Int16, uint16(v)) }
func (w *Writer) WriteInt32(v int32)   { w.code32(msgpcode.Int32, uint32(v)) }
func (w *Writer) WriteInt64(v int64)   { w.code64(msgpcode.Int64, uint64(v)) }
func (w *Writer) WriteUint8(v uint8)   { w.code8(msgpcode.Uint8, v) }
func (w *Writer) WriteUint16(v uint16) { w.code16(msgpcode.Uint16, v) }
func (w *Writer) WriteUint32(v uint32) { w.code32(msgpcode.Uint32, v) }
func (w *Writer) WriteUint64(v uint64) { w.code64(msgpcode.Uint64, v) }

// WriteInt writes v in the smallest integer encoding. It backs the dynamic
// value path, where width is not part of the value's type.
func (w *Writer) WriteInt(v int64) {
	switch {
	case v >= 0:
		w.WriteUint(uint64(v))
	case v >= -32:
		w.code(byte(int8(v)))
	case v >= math.MinInt8:
		w.WriteInt8(int8(v))
	case v >= math.MinInt16:
		w.WriteInt16(int16(v))
	case v >= math.MinInt32:
		w.WriteInt32(int32(v))
	default:
		w.WriteInt64(v)
	}
}

func (w *Writer) WriteUint(v uint64) {
	switch {
	case v <= uint64(msgpcode.PosFixedNumHigh):
		w.code(byte(v))
	case v <= math.MaxUint8:
		w.WriteUint8(uint8(v))
	case v <= math.MaxUint16:
		w.WriteUint16(uint16(v))
	case v <= math.MaxUint32:
		w.WriteUint32(uint32(v))
	default:
		w.WriteUint64(v)
	}
}

func (w *Writer) WriteFloat32(v float32) { w.code32(msgpcode.Float, math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.code64(msgpcode.Double, math.Float64bits(v)) }

func (w *Writer) writeLen(n int, fixLow byte, fixMax int, c8, c16, c32 byte, kind string) {
	switch {
	case n < 0 || uint64(n) > math.MaxUint32:
		w.Fail(fmt.Errorf("msgpack: %s length %d out of range", kind, n))
	case n <= fixMax:
		w.code(fixLow | byte(n))
	case c8 != 0 && n <= math.MaxUint8:
		w.code8(c8, uint8(n))
	case n <= math.MaxUint16:
		w.code16(c16, uint16(n))
	default:
		w.code32(c32, uint32(n))
	}
}

func (w *Writer) WriteString(s string) {
	w.writeLen(len(s), msgpcode.FixedStrLow, 31, msgpcode.Str8, msgpcode.Str16, msgpcode.Str32, "string")
	w.writeString(s)
}

// WriteBytes writes a binary value; nil is written as an empty binary.
func (w *Writer) WriteBytes(b []byte) {
	w.writeLen(len(b), 0, -1, msgpcode.Bin8, msgpcode.Bin16, msgpcode.Bin32, "binary")
	w.write(b)
}

func (w *Writer) WriteArrayHeader(n int) {
	w.writeLen(n, msgpcode.FixedArrayLow, 15, 0, msgpcode.Array16, msgpcode.Array32, "array")
}

func (w *Writer) WriteMapHeader(n int) {
	w.writeLen(n, msgpcode.FixedMapLow, 15, 0, msgpcode.Map16, msgpcode.Map32, "map")
}

func (w *Writer) WriteNullableBool(v *bool) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteBool(*v)
}

func (w *Writer) WriteNullableInt32(v *int32) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteInt32(*v)
}

func (w *Writer) WriteNullableInt64(v *int64) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteInt64(*v)
}

func (w *Writer) WriteNullableUint32(v *uint32) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteUint32(*v)
}

func (w *Writer) WriteNullableUint64(v *uint64) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteUint64(*v)
}

func (w *Writer) WriteNullableFloat64(v *float64) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteFloat64(*v)
}

func (w *Writer) WriteNullableString(v *string) {
	if v == nil {
		w.WriteNil()
		return
	}
	w.WriteString(*v)
}

// WriteNullableBytes writes nil for a nil slice.
func (w *Writer) WriteNullableBytes(b []byte) {
	if b == nil {
		w.WriteNil()
		return
	}
	w.WriteBytes(b)
}

func (w *Writer) WriteNullableTime(t *time.Time) {
	if t == nil {
		w.WriteNil()
		return
	}
	w.WriteTime(*t)
}
