package msgpack

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxDepth bounds nested arrays and maps in Skip and ReadValue.
const MaxDepth = 64

// Reader decodes MessagePack values from a byte slice. A failed read leaves
// the position unchanged. Reader is not safe for concurrent use.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Reset(b []byte) {
	r.buf = b
	r.pos = 0
}

// Pos is the number of bytes consumed so far.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// PeekCode returns the next tag byte without consuming it.
func (r *Reader) PeekCode() (byte, error) {
	return r.code("", r.pos)
}

func (r *Reader) code(path string, at int) (byte, error) {
	if at >= len(r.buf) {
		return 0, decodeErr(path, at, 0, ErrTruncated, "missing code")
	}
	return r.buf[at], nil
}

func (r *Reader) take(path string, at, n int, code byte) ([]byte, error) {
	if n < 0 || len(r.buf)-at < n {
		return nil, decodeErr(path, at, code, ErrTruncated, fmt.Sprintf("need %d bytes, have %d", n, len(r.buf)-at))
	}
	return r.buf[at : at+n], nil
}

func (r *Reader) uintN(path string, at, size int, code byte) (uint64, error) {
	b, err := r.take(path, at, size, code)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	default:
		return binary.BigEndian.Uint64(b), nil
	}
}

func unexpected(path string, at int, code byte, want string) error {
	return decodeErr(path, at, code, ErrUnexpectedCode, fmt.Sprintf("expected %s, got 0x%02x", want, code))
}

// TryReadNil consumes a nil tag if one is next.
func (r *Reader) TryReadNil() bool {
	if r.pos < len(r.buf) && r.buf[r.pos] == msgpcode.Nil {
		r.pos++
		return true
	}
	return false
}

func (r *Reader) ReadNil(path string) error {
	c, err := r.code(path, r.pos)
	if err != nil {
		return err
	}
	if c != msgpcode.Nil {
		return unexpected(path, r.pos, c, "nil")
	}
	r.pos++
	return nil
}

func (r *Reader) ReadBool(path string) (bool, error) {
	c, err := r.code(path, r.pos)
	if err != nil {
		return false, err
	}
	switch c {
	case msgpcode.True:
		r.pos++
		return true, nil
	case msgpcode.False:
		r.pos++
		return false, nil
	default:
		return false, unexpected(path, r.pos, c, "bool")
	}
}

func (r *Reader) ReadNullableBool(path string) (*bool, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadBool(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// integer holds a decoded integer of either signedness.
type integer struct {
	s        int64
	u        uint64
	unsigned bool
}

func (i integer) String() string {
	if i.unsigned {
		return fmt.Sprintf("%d", i.u)
	}
	return fmt.Sprintf("%d", i.s)
}

func (i integer) signed(min, max int64) (int64, bool) {
	if i.unsigned {
		if i.u > uint64(max) {
			return 0, false
		}
		return int64(i.u), true
	}
	if i.s < min || i.s > max {
		return 0, false
	}
	return i.s, true
}

func (i integer) unsignedValue(max uint64) (uint64, bool) {
	if i.unsigned {
		return i.u, i.u <= max
	}
	if i.s < 0 || uint64(i.s) > max {
		return 0, false
	}
	return uint64(i.s), true
}

// scanInt decodes any integer encoding at offset at.
func (r *Reader) scanInt(path string, at int) (integer, int, byte, error) {
	c, err := r.code(path, at)
	if err != nil {
		return integer{}, at, 0, err
	}
	if c <= msgpcode.PosFixedNumHigh {
		return integer{s: int64(c)}, at + 1, c, nil
	}
	if c >= msgpcode.NegFixedNumLow {
		return integer{s: int64(int8(c))}, at + 1, c, nil
	}
	size := 0
	switch c {
	case msgpcode.Uint8, msgpcode.Int8:
		size = 1
	case msgpcode.Uint16, msgpcode.Int16:
		size = 2
	case msgpcode.Uint32, msgpcode.Int32:
		size = 4
	case msgpcode.Uint64, msgpcode.Int64:
		size = 8
	default:
		return integer{}, at, c, unexpected(path, at, c, "integer")
	}
	raw, err := r.uintN(path, at+1, size, c)
	if err != nil {
		return integer{}, at, c, err
	}
	var v integer
	switch c {
	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32, msgpcode.Uint64:
		v = integer{u: raw, unsigned: true}
	case msgpcode.Int8:
		v = integer{s: int64(int8(raw))}
	case msgpcode.Int16:
		v = integer{s: int64(int16(raw))}
	case msgpcode.Int32:
		v = integer{s: int64(int32(raw))}
	default:
		v = integer{s: int64(raw)}
	}
	return v, at + 1 + size, c, nil
}

func (r *Reader) readSigned(path string, min, max int64) (int64, error) {
	v, next, c, err := r.scanInt(path, r.pos)
	if err != nil {
		return 0, err
	}
	n, ok := v.signed(min, max)
	if !ok {
		return 0, decodeErr(path, r.pos, c, ErrOverflow, fmt.Sprintf("%s not in [%d, %d]", v, min, max))
	}
	r.pos = next
	return n, nil
}

func (r *Reader) readUnsigned(path string, max uint64) (uint64, error) {
	v, next, c, err := r.scanInt(path, r.pos)
	if err != nil {
		return 0, err
	}
	n, ok := v.unsignedValue(max)
	if !ok {
		return 0, decodeErr(path, r.pos, c, ErrOverflow, fmt.Sprintf("%s not in [0, %d]", v, max))
	}
	r.pos = next
	return n, nil
}

func (r *Reader) ReadInt8(path string) (int8, error) {
	n, err := r.readSigned(path, math.MinInt8, math.MaxInt8)
	return int8(n), err
}

func (r *Reader) ReadInt16(path string) (int16, error) {
	n, err := r.readSigned(path, math.MinInt16, math.MaxInt16)
	return int16(n), err
}

func (r *Reader) ReadInt32(path string) (int32, error) {
	n, err := r.readSigned(path, math.MinInt32, math.MaxInt32)
	return int32(n), err
}

func (r *Reader) ReadInt64(path string) (int64, error) {
	return r.readSigned(path, math.MinInt64, math.MaxInt64)
}

func (r *Reader) ReadUint8(path string) (uint8, error) {
	n, err := r.readUnsigned(path, math.MaxUint8)
	return uint8(n), err
}

func (r *Reader) ReadUint16(path string) (uint16, error) {
	n, err := r.readUnsigned(path, math.MaxUint16)
	return uint16(n), err
}

func (r *Reader) ReadUint32(path string) (uint32, error) {
	n, err := r.readUnsigned(path, math.MaxUint32)
	return uint32(n), err
}

func (r *Reader) ReadUint64(path string) (uint64, error) {
	return r.readUnsigned(path, math.MaxUint64)
}

// Nullable integer reads accept nil plus every integer encoding whose value
// fits the target width.

func (r *Reader) ReadNullableInt8(path string) (*int8, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadInt8(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableInt16(path string) (*int16, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadInt16(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableInt32(path string) (*int32, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadInt32(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableInt64(path string) (*int64, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadInt64(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableUint8(path string) (*uint8, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadUint8(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableUint16(path string) (*uint16, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadUint16(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableUint32(path string) (*uint32, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadUint32(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadNullableUint64(path string) (*uint64, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadUint64(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadFloat32(path string) (float32, error) {
	c, err := r.code(path, r.pos)
	if err != nil {
		return 0, err
	}
	if c != msgpcode.Float {
		return 0, unexpected(path, r.pos, c, "float32")
	}
	raw, err := r.uintN(path, r.pos+1, 4, c)
	if err != nil {
		return 0, err
	}
	r.pos += 5
	return math.Float32frombits(uint32(raw)), nil
}

// ReadFloat64 accepts float32 and float64 encodings.
func (r *Reader) ReadFloat64(path string) (float64, error) {
	c, err := r.code(path, r.pos)
	if err != nil {
		return 0, err
	}
	switch c {
	case msgpcode.Float:
		v, err := r.ReadFloat32(path)
		return float64(v), err
	case msgpcode.Double:
		raw, err := r.uintN(path, r.pos+1, 8, c)
		if err != nil {
			return 0, err
		}
		r.pos += 9
		return math.Float64frombits(raw), nil
	default:
		return 0, unexpected(path, r.pos, c, "float")
	}
}

func (r *Reader) ReadNullableFloat64(path string) (*float64, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadFloat64(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// scanLen reads a length-bearing header (str, bin, array or map family).
func (r *Reader) scanLen(path string, at int, fixLow, fixHigh, fixMask byte, c8, c16, c32 byte, want string) (int, int, byte, error) {
	c, err := r.code(path, at)
	if err != nil {
		return 0, at, 0, err
	}
	if fixHigh != 0 && c >= fixLow && c <= fixHigh {
		return int(c & fixMask), at + 1, c, nil
	}
	size := 0
	switch {
	case c8 != 0 && c == c8:
		size = 1
	case c == c16:
		size = 2
	case c == c32:
		size = 4
	default:
		return 0, at, c, unexpected(path, at, c, want)
	}
	n, err := r.uintN(path, at+1, size, c)
	if err != nil {
		return 0, at, c, err
	}
	if n > math.MaxInt32 {
		return 0, at, c, decodeErr(path, at, c, ErrOverflow, fmt.Sprintf("length %d", n))
	}
	return int(n), at + 1 + size, c, nil
}

func (r *Reader) scanStrHeader(path string, at int) (int, int, byte, error) {
	return r.scanLen(path, at, msgpcode.FixedStrLow, msgpcode.FixedStrHigh, msgpcode.FixedStrMask,
		msgpcode.Str8, msgpcode.Str16, msgpcode.Str32, "string")
}

func (r *Reader) scanBinHeader(path string, at int) (int, int, byte, error) {
	return r.scanLen(path, at, 0, 0, 0, msgpcode.Bin8, msgpcode.Bin16, msgpcode.Bin32, "binary")
}

func (r *Reader) scanArrayHeader(path string, at int) (int, int, byte, error) {
	return r.scanLen(path, at, msgpcode.FixedArrayLow, msgpcode.FixedArrayHigh, msgpcode.FixedArrayMask,
		0, msgpcode.Array16, msgpcode.Array32, "array")
}

func (r *Reader) scanMapHeader(path string, at int) (int, int, byte, error) {
	return r.scanLen(path, at, msgpcode.FixedMapLow, msgpcode.FixedMapHigh, msgpcode.FixedMapMask,
		0, msgpcode.Map16, msgpcode.Map32, "map")
}

func (r *Reader) ReadString(path string) (string, error) {
	n, next, c, err := r.scanStrHeader(path, r.pos)
	if err != nil {
		return "", err
	}
	b, err := r.take(path, next, n, c)
	if err != nil {
		return "", err
	}
	r.pos = next + n
	return string(b), nil
}

func (r *Reader) ReadNullableString(path string) (*string, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	v, err := r.ReadString(path)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadBytesView returns a binary value aliasing the reader's buffer.
func (r *Reader) ReadBytesView(path string) ([]byte, error) {
	n, next, c, err := r.scanBinHeader(path, r.pos)
	if err != nil {
		return nil, err
	}
	b, err := r.take(path, next, n, c)
	if err != nil {
		return nil, err
	}
	r.pos = next + n
	return b, nil
}

// ReadBytes returns a copy of a binary value; an empty binary is a non-nil
// empty slice.
func (r *Reader) ReadBytes(path string) ([]byte, error) {
	b, err := r.ReadBytesView(path)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadNullableBytes returns nil for a nil tag.
func (r *Reader) ReadNullableBytes(path string) ([]byte, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	return r.ReadBytes(path)
}

// ReadArrayHeader returns the element count. Counts that cannot fit in the
// remaining bytes are rejected as truncated.
func (r *Reader) ReadArrayHeader(path string) (int, error) {
	n, next, c, err := r.scanArrayHeader(path, r.pos)
	if err != nil {
		return 0, err
	}
	if n > len(r.buf)-next {
		return 0, decodeErr(path, r.pos, c, ErrTruncated, fmt.Sprintf("array of %d items", n))
	}
	r.pos = next
	return n, nil
}

func (r *Reader) ReadMapHeader(path string) (int, error) {
	n, next, c, err := r.scanMapHeader(path, r.pos)
	if err != nil {
		return 0, err
	}
	if n > (len(r.buf)-next)/2 {
		return 0, decodeErr(path, r.pos, c, ErrTruncated, fmt.Sprintf("map of %d entries", n))
	}
	r.pos = next
	return n, nil
}

// scanExtHeader reads a fixext or ext header.
func (r *Reader) scanExtHeader(path string, at int) (int8, int, int, byte, error) {
	c, err := r.code(path, at)
	if err != nil {
		return 0, 0, at, 0, err
	}
	size, lenBytes := 0, 0
	switch c {
	case msgpcode.FixExt1:
		size = 1
	case msgpcode.FixExt2:
		size = 2
	case msgpcode.FixExt4:
		size = 4
	case msgpcode.FixExt8:
		size = 8
	case msgpcode.FixExt16:
		size = 16
	case msgpcode.Ext8:
		lenBytes = 1
	case msgpcode.Ext16:
		lenBytes = 2
	case msgpcode.Ext32:
		lenBytes = 4
	default:
		return 0, 0, at, c, unexpected(path, at, c, "extension")
	}
	next := at + 1
	if lenBytes > 0 {
		n, err := r.uintN(path, next, lenBytes, c)
		if err != nil {
			return 0, 0, at, c, err
		}
		if n > math.MaxInt32 {
			return 0, 0, at, c, decodeErr(path, at, c, ErrOverflow, fmt.Sprintf("ext length %d", n))
		}
		size = int(n)
		next += lenBytes
	}
	typ, err := r.take(path, next, 1, c)
	if err != nil {
		return 0, 0, at, c, err
	}
	return int8(typ[0]), size, next + 1, c, nil
}

// Skip consumes one complete value, including nested arrays and maps.
func (r *Reader) Skip(path string) error {
	next, err := r.scanSkip(path, r.pos, 0)
	if err != nil {
		return err
	}
	r.pos = next
	return nil
}

func (r *Reader) scanSkip(path string, at, depth int) (int, error) {
	if depth > MaxDepth {
		return at, decodeErr(path, at, 0, ErrTooDeep, "")
	}
	c, err := r.code(path, at)
	if err != nil {
		return at, err
	}
	switch {
	case c <= msgpcode.PosFixedNumHigh, c >= msgpcode.NegFixedNumLow:
		return at + 1, nil
	case c >= msgpcode.FixedStrLow && c <= msgpcode.FixedStrHigh,
		c == msgpcode.Str8, c == msgpcode.Str16, c == msgpcode.Str32:
		n, next, _, err := r.scanStrHeader(path, at)
		if err != nil {
			return at, err
		}
		if _, err := r.take(path, next, n, c); err != nil {
			return at, err
		}
		return next + n, nil
	case c == msgpcode.Bin8, c == msgpcode.Bin16, c == msgpcode.Bin32:
		n, next, _, err := r.scanBinHeader(path, at)
		if err != nil {
			return at, err
		}
		if _, err := r.take(path, next, n, c); err != nil {
			return at, err
		}
		return next + n, nil
	case c >= msgpcode.FixedArrayLow && c <= msgpcode.FixedArrayHigh,
		c == msgpcode.Array16, c == msgpcode.Array32:
		n, next, _, err := r.scanArrayHeader(path, at)
		if err != nil {
			return at, err
		}
		for i := 0; i < n; i++ {
			if next, err = r.scanSkip(path, next, depth+1); err != nil {
				return at, err
			}
		}
		return next, nil
	case c >= msgpcode.FixedMapLow && c <= msgpcode.FixedMapHigh,
		c == msgpcode.Map16, c == msgpcode.Map32:
		n, next, _, err := r.scanMapHeader(path, at)
		if err != nil {
			return at, err
		}
		for i := 0; i < 2*n; i++ {
			if next, err = r.scanSkip(path, next, depth+1); err != nil {
				return at, err
			}
		}
		return next, nil
	}
	switch c {
	case msgpcode.Nil, msgpcode.True, msgpcode.False:
		return at + 1, nil
	case msgpcode.Uint8, msgpcode.Int8:
		return r.skipFixed(path, at, 1, c)
	case msgpcode.Uint16, msgpcode.Int16:
		return r.skipFixed(path, at, 2, c)
	case msgpcode.Uint32, msgpcode.Int32, msgpcode.Float:
		return r.skipFixed(path, at, 4, c)
	case msgpcode.Uint64, msgpcode.Int64, msgpcode.Double:
		return r.skipFixed(path, at, 8, c)
	case msgpcode.FixExt1, msgpcode.FixExt2, msgpcode.FixExt4, msgpcode.FixExt8, msgpcode.FixExt16,
		msgpcode.Ext8, msgpcode.Ext16, msgpcode.Ext32:
		_, n, next, _, err := r.scanExtHeader(path, at)
		if err != nil {
			return at, err
		}
		if _, err := r.take(path, next, n, c); err != nil {
			return at, err
		}
		return next + n, nil
	}
	return at, unexpected(path, at, c, "value")
}

func (r *Reader) skipFixed(path string, at, size int, c byte) (int, error) {
	if _, err := r.take(path, at+1, size, c); err != nil {
		return at, err
	}
	return at + 1 + size, nil
}
