package cursor

import (
	"time"

	"github.com/danmuck/relaywire/internal/protocol/msgpack"
)

// Field is one value slot with its dotted path. Fields share the underlying
// reader, so each must be read before the next slot is taken.
type Field struct {
	r    *msgpack.Reader
	path string
}

// NewReader returns the root field of data.
func NewReader(data []byte) Field {
	return Field{r: msgpack.NewReader(data)}
}

func (f Field) Path() string { return f.path }

// Pos is the number of bytes consumed from the root buffer.
func (f Field) Pos() int { return f.r.Pos() }

func (f Field) Remaining() int { return f.r.Remaining() }

func (f Field) Int32() (int32, error)     { return f.r.ReadInt32(f.path) }
func (f Field) Int64() (int64, error)     { return f.r.ReadInt64(f.path) }
func (f Field) Uint32() (uint32, error)   { return f.r.ReadUint32(f.path) }
func (f Field) Uint64() (uint64, error)   { return f.r.ReadUint64(f.path) }
func (f Field) Bool() (bool, error)       { return f.r.ReadBool(f.path) }
func (f Field) Float64() (float64, error) { return f.r.ReadFloat64(f.path) }
func (f Field) Text() (string, error)     { return f.r.ReadString(f.path) }
func (f Field) Bytes() ([]byte, error)    { return f.r.ReadBytes(f.path) }
func (f Field) Time() (time.Time, error)  { return f.r.ReadTime(f.path) }
func (f Field) Any() (any, error)         { return f.r.ReadValue(f.path) }
func (f Field) Nil() error                { return f.r.ReadNil(f.path) }
func (f Field) Skip() error               { return f.r.Skip(f.path) }

func (f Field) NullableInt32() (*int32, error)   { return f.r.ReadNullableInt32(f.path) }
func (f Field) NullableInt64() (*int64, error)   { return f.r.ReadNullableInt64(f.path) }
func (f Field) NullableUint64() (*uint64, error) { return f.r.ReadNullableUint64(f.path) }
func (f Field) NullableText() (*string, error)   { return f.r.ReadNullableString(f.path) }

// NullableBytes returns nil for a nil slot.
func (f Field) NullableBytes() ([]byte, error) { return f.r.ReadNullableBytes(f.path) }

func (f Field) NullableTime() (*time.Time, error) { return f.r.ReadNullableTime(f.path) }

// Array opens an array cursor over this slot.
func (f Field) Array() (*ArrayReader, error) {
	n, err := f.r.ReadArrayHeader(f.path)
	if err != nil {
		return nil, err
	}
	return &ArrayReader{r: f.r, path: f.path, count: n}, nil
}

// NullableArray returns a nil cursor for a nil slot.
func (f Field) NullableArray() (*ArrayReader, error) {
	if f.r.TryReadNil() {
		return nil, nil
	}
	return f.Array()
}

func (f Field) Map() (*MapReader, error) {
	n, err := f.r.ReadMapHeader(f.path)
	if err != nil {
		return nil, err
	}
	return &MapReader{r: f.r, path: f.path, count: n}, nil
}

// NullableMap returns a nil cursor for a nil slot.
func (f Field) NullableMap() (*MapReader, error) {
	if f.r.TryReadNil() {
		return nil, nil
	}
	return f.Map()
}

// StringArray reads an array of strings; nil reads as an empty slice.
func (f Field) StringArray() ([]string, error) {
	arr, err := f.NullableArray()
	if err != nil {
		return nil, err
	}
	if arr == nil {
		return []string{}, nil
	}
	out := make([]string, 0, arr.Count())
	for arr.Remaining() > 0 {
		s, err := arr.Text("")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, arr.EndStrict()
}

// StringMap reads a string-to-string map; nil reads as an empty map.
func (f Field) StringMap() (map[string]string, error) {
	m, err := f.NullableMap()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, m.Count())
	for m.Remaining() > 0 {
		key, val, err := m.Next()
		if err != nil {
			return nil, err
		}
		s, err := val.Text()
		if err != nil {
			return nil, err
		}
		out[key] = s
	}
	return out, m.End()
}

// StringsMap reads a map of string arrays, the shape of HTTP headers.
func (f Field) StringsMap() (map[string][]string, error) {
	m, err := f.NullableMap()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return map[string][]string{}, nil
	}
	out := make(map[string][]string, m.Count())
	for m.Remaining() > 0 {
		key, val, err := m.Next()
		if err != nil {
			return nil, err
		}
		values, err := val.StringArray()
		if err != nil {
			return nil, err
		}
		out[key] = values
	}
	return out, m.End()
}

// ArrayReader consumes the declared slots of one array in order.
type ArrayReader struct {
	r     *msgpack.Reader
	path  string
	count int
	index int
}

func (a *ArrayReader) Path() string   { return a.path }
func (a *ArrayReader) Count() int     { return a.count }
func (a *ArrayReader) Remaining() int { return a.count - a.index }

func (a *ArrayReader) slotPath(name string) string {
	if name == "" {
		return Index(a.path, a.index)
	}
	return Join(a.path, name)
}

// Item takes the next slot. Past the declared arity it fails naming the
// requested field.
func (a *ArrayReader) Item(name string) (Field, error) {
	path := a.slotPath(name)
	if a.index >= a.count {
		return Field{}, ShapeError{Path: path, Reason: "no more items in array, field", Err: ErrNoMoreItems}
	}
	a.index++
	return Field{r: a.r, path: path}, nil
}

// Optional takes the next slot if the array still has one.
func (a *ArrayReader) Optional(name string) (Field, bool) {
	if a.index >= a.count {
		return Field{}, false
	}
	f, _ := a.Item(name)
	return f, true
}

func (a *ArrayReader) Int32(name string) (int32, error) {
	f, err := a.Item(name)
	if err != nil {
		return 0, err
	}
	return f.Int32()
}

func (a *ArrayReader) Int64(name string) (int64, error) {
	f, err := a.Item(name)
	if err != nil {
		return 0, err
	}
	return f.Int64()
}

func (a *ArrayReader) Bool(name string) (bool, error) {
	f, err := a.Item(name)
	if err != nil {
		return false, err
	}
	return f.Bool()
}

func (a *ArrayReader) Text(name string) (string, error) {
	f, err := a.Item(name)
	if err != nil {
		return "", err
	}
	return f.Text()
}

func (a *ArrayReader) Bytes(name string) ([]byte, error) {
	f, err := a.Item(name)
	if err != nil {
		return nil, err
	}
	return f.Bytes()
}

func (a *ArrayReader) Any(name string) (any, error) {
	f, err := a.Item(name)
	if err != nil {
		return nil, err
	}
	return f.Any()
}

// OptionalInt32 yields nil when the arity is exhausted or the slot is nil.
func (a *ArrayReader) OptionalInt32(name string) (*int32, error) {
	f, ok := a.Optional(name)
	if !ok {
		return nil, nil
	}
	return f.NullableInt32()
}

// OptionalText yields nil when the arity is exhausted or the slot is nil.
func (a *ArrayReader) OptionalText(name string) (*string, error) {
	f, ok := a.Optional(name)
	if !ok {
		return nil, nil
	}
	return f.NullableText()
}

// OptionalBytes yields nil when the arity is exhausted or the slot is nil.
func (a *ArrayReader) OptionalBytes(name string) ([]byte, error) {
	f, ok := a.Optional(name)
	if !ok {
		return nil, nil
	}
	return f.NullableBytes()
}

// Skip discards the next slot.
func (a *ArrayReader) Skip() error {
	f, err := a.Item("")
	if err != nil {
		return err
	}
	return f.Skip()
}

// End skips and discards every unconsumed slot. A short array whose missing
// trailing slots were read through the Optional accessors passes silently.
func (a *ArrayReader) End() error {
	for a.index < a.count {
		if err := a.Skip(); err != nil {
			return err
		}
	}
	return nil
}

// EndStrict fails if any declared slot was not consumed.
func (a *ArrayReader) EndStrict() error {
	if a.index < a.count {
		return ShapeError{Path: a.path, Reason: "have more items in array", Err: ErrTrailingItems}
	}
	return nil
}

// MapReader consumes the entries of one map in order.
type MapReader struct {
	r     *msgpack.Reader
	path  string
	count int
	index int
}

func (m *MapReader) Path() string   { return m.path }
func (m *MapReader) Count() int     { return m.count }
func (m *MapReader) Remaining() int { return m.count - m.index }

// Next reads the next key and returns the value slot at path.key.
func (m *MapReader) Next() (string, Field, error) {
	if m.index >= m.count {
		return "", Field{}, ShapeError{Path: m.path, Reason: "no more entries in map", Err: ErrNoMoreItems}
	}
	key, err := m.r.ReadString(Index(m.path, m.index))
	if err != nil {
		return "", Field{}, err
	}
	m.index++
	return key, Field{r: m.r, path: Join(m.path, key)}, nil
}

// Optional reads the next entry if the map still has one. ok is false once
// the declared count is exhausted.
func (m *MapReader) Optional() (key string, val Field, ok bool, err error) {
	if m.index >= m.count {
		return "", Field{}, false, nil
	}
	key, val, err = m.Next()
	if err != nil {
		return "", Field{}, false, err
	}
	return key, val, true, nil
}

// OptionalInt32 yields nil when the map is exhausted or the value is nil.
func (m *MapReader) OptionalInt32() (string, *int32, error) {
	key, f, ok, err := m.Optional()
	if err != nil || !ok {
		return "", nil, err
	}
	v, err := f.NullableInt32()
	return key, v, err
}

// OptionalText yields nil when the map is exhausted or the value is nil.
func (m *MapReader) OptionalText() (string, *string, error) {
	key, f, ok, err := m.Optional()
	if err != nil || !ok {
		return "", nil, err
	}
	v, err := f.NullableText()
	return key, v, err
}

// OptionalBytes yields nil when the map is exhausted or the value is nil.
func (m *MapReader) OptionalBytes() (string, []byte, error) {
	key, f, ok, err := m.Optional()
	if err != nil || !ok {
		return "", nil, err
	}
	v, err := f.NullableBytes()
	return key, v, err
}

// End fails if any entry was not consumed.
func (m *MapReader) End() error {
	if m.index < m.count {
		return ShapeError{Path: m.path, Reason: "have more entries in map", Err: ErrTrailingItems}
	}
	return nil
}
