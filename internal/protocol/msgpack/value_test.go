package msgpack

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	vmsgpack "github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/relaywire/internal/testutil/testlog"
)

func TestReadValueMapping(t *testing.T) {
	testlog.Start(t)
	when := time.Date(2024, 5, 1, 12, 30, 0, 250, time.UTC)
	data := encode(t, func(w *Writer) {
		w.WriteArrayHeader(11)
		w.WriteNil()
		w.WriteBool(true)
		w.WriteFloat32(1.5)
		w.WriteFloat64(2.25)
		w.WriteString("hi")
		w.WriteBytes([]byte{7})
		w.WriteUint32(4000000000)
		w.WriteUint64(1)
		w.WriteInt8(-3)
		w.WriteTime(when)
		w.WriteMapHeader(2)
		w.WriteString("a")
		w.WriteInt32(1)
		w.WriteString("a")
		w.WriteInt32(2)
	})
	v, err := NewReader(data).ReadValue("")
	if err != nil {
		t.Fatalf("read value: %v", err)
	}
	items, ok := v.([]any)
	if !ok || len(items) != 11 {
		t.Fatalf("expected 11 items, got %#v", v)
	}
	if ts, ok := items[9].(time.Time); !ok || !ts.Equal(when) {
		t.Fatalf("unexpected timestamp: %#v", items[9])
	}
	items[9] = nil
	want := []any{
		nil, true, float32(1.5), 2.25, "hi", []byte{7},
		int64(4000000000), uint64(1), int64(-3), nil,
		map[string]any{"a": int64(2)},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("unexpected value:\n got %#v\nwant %#v", items, want)
	}
}

func TestReadValueRejectsUnknownExtAndCode(t *testing.T) {
	testlog.Start(t)
	if _, err := NewReader([]byte{0xd4, 0x05, 0x00}).ReadValue("x"); !errors.Is(err, ErrUnsupportedExt) {
		t.Fatalf("expected unsupported ext, got %v", err)
	}
	_, err := NewReader([]byte{0xc1}).ReadValue("x")
	if !errors.Is(err, ErrUnexpectedCode) {
		t.Fatalf("expected unexpected code, got %v", err)
	}
	var decErr *DecodeError
	if !errors.As(err, &decErr) || decErr.Code != 0xc1 {
		t.Fatalf("error should name the tag: %v", err)
	}
}

func TestReadValueNonStringKey(t *testing.T) {
	testlog.Start(t)
	_, err := NewReader([]byte{0x81, 0x01, 0x02}).ReadValue("m")
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestReadValueNestedPath(t *testing.T) {
	testlog.Start(t)
	data := encode(t, func(w *Writer) {
		w.WriteMapHeader(1)
		w.WriteString("Headers")
		w.WriteArrayHeader(2)
		w.WriteString("ok")
	})
	_, err := NewReader(data).ReadValue("Body")
	var decErr *DecodeError
	if !errors.As(err, &decErr) || decErr.Path != "Body.Headers[1]" {
		t.Fatalf("expected path Body.Headers[1], got %v", err)
	}
}

func TestTimestampForms(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		when time.Time
		size int
	}{
		{time.Unix(1700000000, 0), 6},
		{time.Unix(1700000000, 5), 10},
		{time.Unix(-1, 0), 15},
		{time.Unix(1<<34, 0), 15},
	}
	for _, tc := range cases {
		data := encode(t, func(w *Writer) { w.WriteTime(tc.when) })
		if len(data) != tc.size {
			t.Fatalf("%v: encoded size %d want %d", tc.when, len(data), tc.size)
		}
		got, err := NewReader(data).ReadTime("t")
		if err != nil || !got.Equal(tc.when) || got.Location() != time.UTC {
			t.Fatalf("%v: read back %v, %v", tc.when, got, err)
		}
	}
}

func TestWriterInteropWithReferenceDecoder(t *testing.T) {
	testlog.Start(t)
	when := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)
	data := encode(t, func(w *Writer) {
		w.WriteArrayHeader(7)
		w.WriteInt32(-70000)
		w.WriteUint16(65000)
		w.WriteString("relay")
		w.WriteBytes([]byte("body"))
		w.WriteTime(when)
		w.WriteNil()
		w.WriteMapHeader(1)
		w.WriteString("k")
		w.WriteBool(true)
	})

	dec := vmsgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil || n != 7 {
		t.Fatalf("array len: %d, %v", n, err)
	}
	if v, err := dec.DecodeInt64(); err != nil || v != -70000 {
		t.Fatalf("int32: %d, %v", v, err)
	}
	if v, err := dec.DecodeUint64(); err != nil || v != 65000 {
		t.Fatalf("uint16: %d, %v", v, err)
	}
	if v, err := dec.DecodeString(); err != nil || v != "relay" {
		t.Fatalf("string: %q, %v", v, err)
	}
	if v, err := dec.DecodeBytes(); err != nil || string(v) != "body" {
		t.Fatalf("bytes: %q, %v", v, err)
	}
	if v, err := dec.DecodeTime(); err != nil || !v.Equal(when) {
		t.Fatalf("time: %v, %v", v, err)
	}
	if err := dec.DecodeNil(); err != nil {
		t.Fatalf("nil: %v", err)
	}
	if v, err := dec.DecodeMapLen(); err != nil || v != 1 {
		t.Fatalf("map len: %d, %v", v, err)
	}
	if k, err := dec.DecodeString(); err != nil || k != "k" {
		t.Fatalf("key: %q, %v", k, err)
	}
	if v, err := dec.DecodeBool(); err != nil || !v {
		t.Fatalf("bool: %v, %v", v, err)
	}
}

func TestReaderInteropWithReferenceEncoder(t *testing.T) {
	testlog.Start(t)
	when := time.Date(2024, 2, 29, 23, 59, 59, 999, time.UTC)
	var buf bytes.Buffer
	enc := vmsgpack.NewEncoder(&buf)
	steps := []error{
		enc.EncodeArrayLen(6),
		enc.EncodeInt(-129),
		enc.EncodeUint(1 << 40),
		enc.EncodeString("héllo"),
		enc.EncodeBytes([]byte{0, 1, 2}),
		enc.EncodeTime(when),
		enc.EncodeFloat64(3.5),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("reference encode step %d: %v", i, err)
		}
	}

	r := NewReader(buf.Bytes())
	if n, err := r.ReadArrayHeader("root"); err != nil || n != 6 {
		t.Fatalf("array: %d, %v", n, err)
	}
	if v, err := r.ReadInt16("a"); err != nil || v != -129 {
		t.Fatalf("int: %d, %v", v, err)
	}
	if v, err := r.ReadUint64("b"); err != nil || v != 1<<40 {
		t.Fatalf("uint: %d, %v", v, err)
	}
	if v, err := r.ReadString("c"); err != nil || v != "héllo" {
		t.Fatalf("string: %q, %v", v, err)
	}
	if v, err := r.ReadBytes("d"); err != nil || !bytes.Equal(v, []byte{0, 1, 2}) {
		t.Fatalf("bytes: %v, %v", v, err)
	}
	if v, err := r.ReadTime("e"); err != nil || !v.Equal(when) {
		t.Fatalf("time: %v, %v", v, err)
	}
	if v, err := r.ReadFloat64("f"); err != nil || v != 3.5 {
		t.Fatalf("float: %v, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("trailing bytes: %d", r.Remaining())
	}
}

func TestWriteValueRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := map[string]any{
		"list":    []string{"a", "b"},
		"headers": map[string][]string{"X-Id": {"1"}},
		"n":       int32(-5),
		"big":     uint64(1 << 63),
	}
	data := encode(t, func(w *Writer) { w.WriteValue(in) })
	got, err := NewReader(data).ReadValue("")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := map[string]any{
		"list":    []any{"a", "b"},
		"headers": map[string]any{"X-Id": []any{"1"}},
		"n":       int64(-5),
		"big":     uint64(1 << 63),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected value:\n got %#v\nwant %#v", got, want)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteValue(struct{}{})
	if w.Err() == nil {
		t.Fatalf("expected unsupported type error")
	}
}
