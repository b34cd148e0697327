package cursor

import (
	"io"
	"time"

	"github.com/danmuck/relaywire/internal/protocol/msgpack"
)

// Writer is the root of a count-checked encode. Errors are sticky: once a
// write fails every later call is a no-op and Err reports the first failure.
type Writer struct {
	w *msgpack.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: msgpack.NewWriter(w)}
}

func (w *Writer) Err() error { return w.w.Err() }

// Array starts a root array of n slots.
func (w *Writer) Array(n int) *ArrayWriter {
	w.w.WriteArrayHeader(n)
	return &ArrayWriter{root: w, declared: n}
}

// Map starts a root map of n entries.
func (w *Writer) Map(n int) *MapWriter {
	w.w.WriteMapHeader(n)
	return &MapWriter{root: w, declared: n}
}

// Value writes one dynamic value at the root.
func (w *Writer) Value(v any) *Writer {
	w.w.WriteValue(v)
	return w
}

// ArrayWriter writes exactly the declared number of slots.
type ArrayWriter struct {
	root     *Writer
	path     string
	declared int
	written  int
}

func (a *ArrayWriter) slot() bool {
	if a.root.w.Err() != nil {
		return false
	}
	if a.written >= a.declared {
		a.root.w.Fail(ShapeError{Path: Index(a.path, a.written), Reason: "array overflow at", Err: ErrCountMismatch})
		return false
	}
	a.written++
	return true
}

func (a *ArrayWriter) Int32(v int32) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteInt32(v)
	}
	return a
}

func (a *ArrayWriter) Int64(v int64) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteInt64(v)
	}
	return a
}

func (a *ArrayWriter) Uint64(v uint64) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteUint64(v)
	}
	return a
}

func (a *ArrayWriter) Bool(v bool) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteBool(v)
	}
	return a
}

func (a *ArrayWriter) Text(v string) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteString(v)
	}
	return a
}

func (a *ArrayWriter) NullableText(v *string) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteNullableString(v)
	}
	return a
}

// Bytes writes a binary slot; nil is written as an empty binary.
func (a *ArrayWriter) Bytes(v []byte) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteBytes(v)
	}
	return a
}

// NullableBytes writes nil for a nil slice.
func (a *ArrayWriter) NullableBytes(v []byte) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteNullableBytes(v)
	}
	return a
}

func (a *ArrayWriter) Time(v time.Time) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteTime(v)
	}
	return a
}

func (a *ArrayWriter) Nil() *ArrayWriter {
	if a.slot() {
		a.root.w.WriteNil()
	}
	return a
}

func (a *ArrayWriter) Any(v any) *ArrayWriter {
	if a.slot() {
		a.root.w.WriteValue(v)
	}
	return a
}

func (a *ArrayWriter) StringsMap(v map[string][]string) *ArrayWriter {
	if a.slot() {
		writeStringsMap(a.root.w, v)
	}
	return a
}

// Array opens a nested array in the next slot.
func (a *ArrayWriter) Array(n int) *ArrayWriter {
	path := Index(a.path, a.written)
	if a.slot() {
		a.root.w.WriteArrayHeader(n)
	}
	return &ArrayWriter{root: a.root, path: path, declared: n}
}

// Map opens a nested map in the next slot.
func (a *ArrayWriter) Map(n int) *MapWriter {
	path := Index(a.path, a.written)
	if a.slot() {
		a.root.w.WriteMapHeader(n)
	}
	return &MapWriter{root: a.root, path: path, declared: n}
}

// End verifies the declared count was written and returns the root error.
func (a *ArrayWriter) End() error {
	if a.root.w.Err() == nil && a.written != a.declared {
		a.root.w.Fail(ShapeError{Path: a.path, Reason: "array short of declared count", Err: ErrCountMismatch})
	}
	return a.root.w.Err()
}

// MapWriter writes exactly the declared number of entries.
type MapWriter struct {
	root     *Writer
	path     string
	declared int
	written  int
}

func (m *MapWriter) entry(key string) bool {
	if m.root.w.Err() != nil {
		return false
	}
	if m.written >= m.declared {
		m.root.w.Fail(ShapeError{Path: Join(m.path, key), Reason: "map overflow at", Err: ErrCountMismatch})
		return false
	}
	m.written++
	m.root.w.WriteString(key)
	return true
}

func (m *MapWriter) Text(key, v string) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteString(v)
	}
	return m
}

func (m *MapWriter) Int32(key string, v int32) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteInt32(v)
	}
	return m
}

func (m *MapWriter) Bool(key string, v bool) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteBool(v)
	}
	return m
}

func (m *MapWriter) Bytes(key string, v []byte) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteBytes(v)
	}
	return m
}

func (m *MapWriter) Any(key string, v any) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteValue(v)
	}
	return m
}

func (m *MapWriter) StringsMap(key string, v map[string][]string) *MapWriter {
	if m.entry(key) {
		writeStringsMap(m.root.w, v)
	}
	return m
}

func (m *MapWriter) Array(key string, n int) *ArrayWriter {
	if m.entry(key) {
		m.root.w.WriteArrayHeader(n)
	}
	return &ArrayWriter{root: m.root, path: Join(m.path, key), declared: n}
}

func (m *MapWriter) Map(key string, n int) *MapWriter {
	if m.entry(key) {
		m.root.w.WriteMapHeader(n)
	}
	return &MapWriter{root: m.root, path: Join(m.path, key), declared: n}
}

// End verifies the declared count was written and returns the root error.
func (m *MapWriter) End() error {
	if m.root.w.Err() == nil && m.written != m.declared {
		m.root.w.Fail(ShapeError{Path: m.path, Reason: "map short of declared count", Err: ErrCountMismatch})
	}
	return m.root.w.Err()
}

func writeStringsMap(w *msgpack.Writer, v map[string][]string) {
	w.WriteMapHeader(len(v))
	for key, values := range v {
		w.WriteString(key)
		w.WriteArrayHeader(len(values))
		for _, s := range values {
			w.WriteString(s)
		}
	}
}
