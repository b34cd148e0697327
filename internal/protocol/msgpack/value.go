package msgpack

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// ReadValue decodes the next value without a schema:
//
//	nil            -> nil
//	bool           -> bool
//	float32/64     -> float32 / float64
//	str            -> string
//	bin            -> []byte (copied)
//	int, uint8..32 -> int64
//	uint64         -> uint64
//	ext -1         -> time.Time (UTC)
//	array          -> []any
//	map            -> map[string]any (string keys, last key wins)
func (r *Reader) ReadValue(path string) (any, error) {
	v, next, err := r.scanValue(path, r.pos, 0)
	if err != nil {
		return nil, err
	}
	r.pos = next
	return v, nil
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func keyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (r *Reader) scanValue(path string, at, depth int) (any, int, error) {
	if depth > MaxDepth {
		return nil, at, decodeErr(path, at, 0, ErrTooDeep, fmt.Sprintf("limit %d", MaxDepth))
	}
	c, err := r.code(path, at)
	if err != nil {
		return nil, at, err
	}
	switch {
	case c <= msgpcode.PosFixedNumHigh, c >= msgpcode.NegFixedNumLow:
		v, next, _, err := r.scanInt(path, at)
		return v.s, next, err
	case c >= msgpcode.FixedStrLow && c <= msgpcode.FixedStrHigh:
		return r.scanStringValue(path, at)
	case c >= msgpcode.FixedArrayLow && c <= msgpcode.FixedArrayHigh:
		return r.scanArrayValue(path, at, depth)
	case c >= msgpcode.FixedMapLow && c <= msgpcode.FixedMapHigh:
		return r.scanMapValue(path, at, depth)
	}
	switch c {
	case msgpcode.Nil:
		return nil, at + 1, nil
	case msgpcode.True:
		return true, at + 1, nil
	case msgpcode.False:
		return false, at + 1, nil
	case msgpcode.Float:
		raw, err := r.uintN(path, at+1, 4, c)
		if err != nil {
			return nil, at, err
		}
		return math.Float32frombits(uint32(raw)), at + 5, nil
	case msgpcode.Double:
		raw, err := r.uintN(path, at+1, 8, c)
		if err != nil {
			return nil, at, err
		}
		return math.Float64frombits(raw), at + 9, nil
	case msgpcode.Uint64:
		v, next, _, err := r.scanInt(path, at)
		if err != nil {
			return nil, at, err
		}
		return v.u, next, nil
	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32:
		v, next, _, err := r.scanInt(path, at)
		if err != nil {
			return nil, at, err
		}
		return int64(v.u), next, nil
	case msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64:
		v, next, _, err := r.scanInt(path, at)
		if err != nil {
			return nil, at, err
		}
		return v.s, next, nil
	case msgpcode.Str8, msgpcode.Str16, msgpcode.Str32:
		return r.scanStringValue(path, at)
	case msgpcode.Bin8, msgpcode.Bin16, msgpcode.Bin32:
		n, next, _, err := r.scanBinHeader(path, at)
		if err != nil {
			return nil, at, err
		}
		b, err := r.take(path, next, n, c)
		if err != nil {
			return nil, at, err
		}
		out := make([]byte, n)
		copy(out, b)
		return out, next + n, nil
	case msgpcode.Array16, msgpcode.Array32:
		return r.scanArrayValue(path, at, depth)
	case msgpcode.Map16, msgpcode.Map32:
		return r.scanMapValue(path, at, depth)
	case msgpcode.FixExt1, msgpcode.FixExt2, msgpcode.FixExt4, msgpcode.FixExt8, msgpcode.FixExt16,
		msgpcode.Ext8, msgpcode.Ext16, msgpcode.Ext32:
		t, next, err := r.scanTime(path, at)
		if err != nil {
			return nil, at, err
		}
		return t, next, nil
	}
	return nil, at, decodeErr(path, at, c, ErrUnexpectedCode, fmt.Sprintf("unrecognised code 0x%02x", c))
}

func (r *Reader) scanStringValue(path string, at int) (any, int, error) {
	n, next, c, err := r.scanStrHeader(path, at)
	if err != nil {
		return nil, at, err
	}
	b, err := r.take(path, next, n, c)
	if err != nil {
		return nil, at, err
	}
	return string(b), next + n, nil
}

func isStrCode(c byte) bool {
	return (c >= msgpcode.FixedStrLow && c <= msgpcode.FixedStrHigh) ||
		c == msgpcode.Str8 || c == msgpcode.Str16 || c == msgpcode.Str32
}

func (r *Reader) scanArrayValue(path string, at, depth int) (any, int, error) {
	n, next, c, err := r.scanArrayHeader(path, at)
	if err != nil {
		return nil, at, err
	}
	if n > len(r.buf)-next {
		return nil, at, decodeErr(path, at, c, ErrTruncated, fmt.Sprintf("array of %d items", n))
	}
	out := make([]any, n)
	for i := range out {
		v, after, err := r.scanValue(indexPath(path, i), next, depth+1)
		if err != nil {
			return nil, at, err
		}
		out[i] = v
		next = after
	}
	return out, next, nil
}

func (r *Reader) scanMapValue(path string, at, depth int) (any, int, error) {
	n, next, c, err := r.scanMapHeader(path, at)
	if err != nil {
		return nil, at, err
	}
	if n > (len(r.buf)-next)/2 {
		return nil, at, decodeErr(path, at, c, ErrTruncated, fmt.Sprintf("map of %d entries", n))
	}
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		kc, err := r.code(path, next)
		if err != nil {
			return nil, at, err
		}
		if !isStrCode(kc) {
			return nil, at, decodeErr(path, next, kc, ErrInvalidKey, fmt.Sprintf("entry %d", i))
		}
		key, after, err := r.scanStringValue(path, next)
		if err != nil {
			return nil, at, err
		}
		k := key.(string)
		v, after, err := r.scanValue(keyPath(path, k), after, depth+1)
		if err != nil {
			return nil, at, err
		}
		out[k] = v
		next = after
	}
	return out, next, nil
}

// WriteValue writes a dynamic value. It accepts the shapes ReadValue
// produces plus the common typed slices and maps; anything else fails the
// writer.
func (w *Writer) WriteValue(v any) {
	switch x := v.(type) {
	case nil:
		w.WriteNil()
	case bool:
		w.WriteBool(x)
	case int:
		w.WriteInt(int64(x))
	case int8:
		w.WriteInt(int64(x))
	case int16:
		w.WriteInt(int64(x))
	case int32:
		w.WriteInt(int64(x))
	case int64:
		w.WriteInt(x)
	case uint:
		w.WriteUint(uint64(x))
	case uint8:
		w.WriteUint(uint64(x))
	case uint16:
		w.WriteUint(uint64(x))
	case uint32:
		w.WriteUint(uint64(x))
	case uint64:
		w.WriteUint(x)
	case float32:
		w.WriteFloat32(x)
	case float64:
		w.WriteFloat64(x)
	case string:
		w.WriteString(x)
	case []byte:
		w.WriteNullableBytes(x)
	case time.Time:
		w.WriteTime(x)
	case *time.Time:
		w.WriteNullableTime(x)
	case *string:
		w.WriteNullableString(x)
	case []any:
		w.WriteArrayHeader(len(x))
		for _, item := range x {
			w.WriteValue(item)
		}
	case []string:
		w.WriteArrayHeader(len(x))
		for _, item := range x {
			w.WriteString(item)
		}
	case map[string]any:
		w.WriteMapHeader(len(x))
		for k, item := range x {
			w.WriteString(k)
			w.WriteValue(item)
		}
	case map[string]string:
		w.WriteMapHeader(len(x))
		for k, item := range x {
			w.WriteString(k)
			w.WriteString(item)
		}
	case map[string][]string:
		w.WriteMapHeader(len(x))
		for k, items := range x {
			w.WriteString(k)
			w.WriteValue(items)
		}
	default:
		w.Fail(fmt.Errorf("msgpack: cannot encode %T", v))
	}
}
