package tunnel

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	vmsgpack "github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/relaywire/internal/bufpool"
	"github.com/danmuck/relaywire/internal/protocol/frame"
	"github.com/danmuck/relaywire/internal/protocol/msgpack"
	"github.com/danmuck/relaywire/internal/testutil/testlog"
)

func strPtr(s string) *string { return &s }

func u64Ptr(v uint64) *uint64 { return &v }

func sampleMessages() []Message {
	return []Message{
		&HTTPRequest{
			Base:         Base{TracingID: u64Ptr(99)},
			AckID:        12,
			LocalRouting: true,
			ChannelName:  "ch-1",
			HTTPMethod:   "POST",
			URL:          "/api/items?x=1",
			Headers:      map[string][]string{"Content-Type": {"application/json"}},
			Content:      []byte(`{"name":"x"}`),
		},
		&HTTPResponse{
			AckID:       12,
			StatusCode:  201,
			ChannelName: "ch-1",
			Headers:     map[string][]string{"Location": {"/api/items/1"}},
			Content:     []byte("created"),
		},
		&HTTPResponse{
			AckID:        13,
			StatusCode:   200,
			NotCompleted: true,
			Content:      []byte("first part"),
		},
		&ServiceStatus{Message: "degraded"},
		&ConnectionClose{Message: "bye"},
		&ConnectionReconnect{TargetID: "t-1", Endpoint: "wss://a/b", Message: "move"},
		&ConnectionRebalance{TargetID: "t-2", Endpoint: "wss://c/d", Message: "scale"},
		&ConnectionConnected{ConnectionID: "conn-1", UserID: strPtr("user"), ReconnectionToken: nil},
	}
}

func TestEncodeDecodeAllVariants(t *testing.T) {
	testlog.Start(t)
	p := New()
	for _, in := range sampleMessages() {
		data, err := p.Encode(in)
		if err != nil {
			t.Fatalf("encode %s: %v", in.Type(), err)
		}
		if got := binary.LittleEndian.Uint32(data[:4]); int(got) != len(data)-4 {
			t.Fatalf("%s: prefix %d for body of %d", in.Type(), got, len(data)-4)
		}
		out, consumed, err := p.TryParse(data)
		if err != nil {
			t.Fatalf("parse %s: %v", in.Type(), err)
		}
		if consumed != len(data) {
			t.Fatalf("%s: consumed %d of %d", in.Type(), consumed, len(data))
		}
		want := stamped(in)
		normalize(want)
		if !reflect.DeepEqual(out, want) {
			t.Fatalf("%s round trip mismatch:\n got %#v\nwant %#v", in.Type(), out, want)
		}
	}
}

func TestEncodeDoesNotMutateCaller(t *testing.T) {
	testlog.Start(t)
	in := &ServiceStatus{Message: "ok"}
	if _, err := New().Encode(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if in.Kind != TypeNone {
		t.Fatalf("caller message was stamped: %v", in.Kind)
	}
}

func TestBodyLayout(t *testing.T) {
	testlog.Start(t)
	data, err := New().Encode(&HTTPRequest{HTTPMethod: "GET", URL: "/x", Content: []byte{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var body []any
	if err := vmsgpack.Unmarshal(data[4:], &body); err != nil {
		t.Fatalf("reference decode: %v", err)
	}
	if len(body) != 3 {
		t.Fatalf("expected arity 3, got %d", len(body))
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(body[1].(string)), &fields); err != nil {
		t.Fatalf("json slot: %v", err)
	}
	for _, key := range []string{"Type", "AckId", "LocalRouting", "ChannelName", "HttpMethod", "Url", "Headers"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("json slot missing %s: %s", key, body[1])
		}
	}
	if _, ok := fields["Content"]; ok {
		t.Fatalf("content must not be in json: %s", body[1])
	}
	if _, ok := fields["TracingId"]; ok {
		t.Fatalf("nil tracing id must be omitted: %s", body[1])
	}
	if fields["Type"].(float64) != 1 || fields["HttpMethod"] != "GET" || fields["Url"] != "/x" {
		t.Fatalf("unexpected json: %s", body[1])
	}

	status, err := New().Encode(&ServiceStatus{Message: "m"})
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	if status[len(status)-1] != 0xc0 {
		t.Fatalf("content-less variant should end with nil slot: % x", status)
	}
}

func TestResponseKeepsNotCompletedFlag(t *testing.T) {
	testlog.Start(t)
	body, err := vmsgpack.Marshal([]any{
		int32(TypeHTTPResponse),
		`{"Type":2,"AckId":5,"StatusCode":200,"NotCompleted":true}`,
		[]byte("part"),
	})
	if err != nil {
		t.Fatalf("reference encode: %v", err)
	}
	data, err := frame.Append(nil, body, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	p := New()
	resp, ok := p.ParseResponse(data)
	if !ok {
		t.Fatalf("expected response")
	}
	if !resp.NotCompleted || resp.AckID != 5 || string(resp.Content) != "part" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	again, err := p.Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var slots []any
	if err := vmsgpack.Unmarshal(again[4:], &slots); err != nil {
		t.Fatalf("reference decode: %v", err)
	}
	if !strings.Contains(slots[1].(string), `"NotCompleted":true`) {
		t.Fatalf("flag lost on re-encode: %s", slots[1])
	}
}

func TestGetRequestScenario(t *testing.T) {
	testlog.Start(t)
	p := New()
	data, err := p.Encode(&HTTPRequest{HTTPMethod: "GET", URL: "/x", Content: []byte{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req, ok := p.ParseRequest(data)
	if !ok {
		t.Fatalf("expected request")
	}
	if req.HTTPMethod != "GET" || req.URL != "/x" || len(req.Content) != 0 || req.Content == nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Headers == nil {
		t.Fatalf("headers must not be nil")
	}
	if _, ok := p.ParseResponse(data); ok {
		t.Fatalf("request frame is not a response")
	}
}

func TestTryParseIncomplete(t *testing.T) {
	testlog.Start(t)
	p := New()
	data, err := p.Encode(&ConnectionClose{Message: "bye"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, n := range []int{0, 3, 4, 5, len(data) - 1} {
		msg, consumed, err := p.TryParse(data[:n])
		if msg != nil || consumed != 0 || err != nil {
			t.Fatalf("prefix %d: got %v %d %v", n, msg, consumed, err)
		}
	}
}

func TestTryParseTrailingBytes(t *testing.T) {
	testlog.Start(t)
	p := New()
	first, _ := p.Encode(&ServiceStatus{Message: "one"})
	second, _ := p.Encode(&ServiceStatus{Message: "two"})
	buf := append(append([]byte{}, first...), second[:7]...)

	msg, consumed, err := p.TryParse(buf)
	if err != nil || consumed != len(first) {
		t.Fatalf("first frame: %d %v", consumed, err)
	}
	if msg.(*ServiceStatus).Message != "one" {
		t.Fatalf("unexpected first message %+v", msg)
	}
	msg, consumed, err = p.TryParse(buf[consumed:])
	if msg != nil || consumed != 0 || err != nil {
		t.Fatalf("partial second frame: %v %d %v", msg, consumed, err)
	}
}

func rawFrame(t *testing.T, typ int32, text string, content any, arity int) []byte {
	t.Helper()
	var body bytes.Buffer
	w := msgpack.NewWriter(&body)
	w.WriteArrayHeader(arity)
	w.WriteInt32(typ)
	w.WriteString(text)
	if arity > 2 {
		w.WriteValue(content)
	}
	for i := 3; i < arity; i++ {
		w.WriteString("extra")
	}
	if err := w.Err(); err != nil {
		t.Fatalf("raw body: %v", err)
	}
	out, err := frame.Append(nil, body.Bytes(), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("raw frame: %v", err)
	}
	return out
}

func TestDecodeArityTwoAndExtraSlots(t *testing.T) {
	testlog.Start(t)
	p := New()
	short := rawFrame(t, 1, `{"HttpMethod":"GET","Url":"/short"}`, nil, 2)
	req, ok := p.ParseRequest(short)
	if !ok || req.URL != "/short" || req.Content == nil || len(req.Content) != 0 {
		t.Fatalf("arity 2 request: %+v %v", req, ok)
	}

	long := rawFrame(t, 2, `{"StatusCode":404}`, []byte("nope"), 5)
	resp, ok := p.ParseResponse(long)
	if !ok || resp.StatusCode != 404 || string(resp.Content) != "nope" {
		t.Fatalf("arity 5 response: %+v %v", resp, ok)
	}
}

func TestDecodeNilContentNormalized(t *testing.T) {
	testlog.Start(t)
	data := rawFrame(t, 2, `{"StatusCode":204,"Headers":null}`, nil, 3)
	resp, ok := New().ParseResponse(data)
	if !ok {
		t.Fatalf("expected response")
	}
	if resp.Content == nil || resp.Headers == nil {
		t.Fatalf("nil content/headers must be normalized: %+v", resp)
	}
}

func TestMaxLengthBoundary(t *testing.T) {
	testlog.Start(t)
	p := New()
	// Body overhead: array header, int32 type, str32 json header, bin32
	// content header.
	msg := &HTTPRequest{HTTPMethod: "PUT", URL: "/big"}
	sized, err := p.Encode(msg)
	if err != nil {
		t.Fatalf("sized: %v", err)
	}
	overhead := len(sized) - frame.PrefixLen
	msg.Content = make([]byte, frame.MaxLength-overhead-5+2)
	// Grow the content until the body is exactly MaxLength.
	for {
		data, err := p.Encode(msg)
		if err != nil {
			t.Fatalf("encode at %d: %v", len(msg.Content), err)
		}
		bodyLen := len(data) - frame.PrefixLen
		if bodyLen == frame.MaxLength {
			out, consumed, err := p.TryParse(data)
			if err != nil || consumed != len(data) {
				t.Fatalf("MaxLength body rejected: %v", err)
			}
			if len(out.(*HTTPRequest).Content) != len(msg.Content) {
				t.Fatalf("content length mismatch")
			}
			break
		}
		if bodyLen > frame.MaxLength {
			t.Fatalf("overshot MaxLength: %d", bodyLen)
		}
		msg.Content = make([]byte, len(msg.Content)+frame.MaxLength-bodyLen)
	}

	msg.Content = append(msg.Content, 0)
	if _, err := p.Encode(msg); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on encode, got %v", err)
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], frame.MaxLength+1)
	buf := append(prefix[:], 0x93)
	msgOut, consumed, err := p.TryParse(buf)
	if !errors.Is(err, ErrFrameTooLarge) || msgOut != nil || consumed != 0 {
		t.Fatalf("expected oversized rejection before parsing: %v %d %v", msgOut, consumed, err)
	}
}

func TestUnknownTypeLenientAndStrict(t *testing.T) {
	testlog.Start(t)
	data := rawFrame(t, 42, `{}`, nil, 3)

	msg, consumed, err := New().TryParse(data)
	if err != nil || msg != nil || consumed != len(data) {
		t.Fatalf("lenient: %v %d %v", msg, consumed, err)
	}

	msg, consumed, err = New(WithStrict(true)).TryParse(data)
	if !errors.Is(err, ErrUnknownType) || msg != nil || consumed != 0 {
		t.Fatalf("strict: %v %d %v", msg, consumed, err)
	}
	var unknown UnknownTypeError
	if !errors.As(err, &unknown) || unknown.Type != 42 {
		t.Fatalf("strict error should name the type: %v", err)
	}

	if _, ok := New().ParseRequest(data); ok {
		t.Fatalf("unknown type is not a request")
	}
	if _, err := NewMessage(TypeNone); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("None is not a valid variant: %v", err)
	}
}

func TestMalformedBodies(t *testing.T) {
	testlog.Start(t)
	p := New()
	cases := map[string][]byte{
		"not an array":   {0xa1, 'x'},
		"type is string": {0x93, 0xa1, 'x', 0xa2, '{', '}', 0xc0},
		"json is int":    {0x93, 0x01, 0x01, 0xc0},
		"bad json":       {0x93, 0x01, 0xa1, '{', 0xc0},
		"truncated":      {0x93, 0x01},
		"content is int": {0x93, 0x01, 0xa2, '{', '}', 0x05},
	}
	for name, body := range cases {
		data, err := frame.Append(nil, body, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("%s: frame: %v", name, err)
		}
		msg, consumed, err := p.TryParse(data)
		if !errors.Is(err, ErrMalformed) || msg != nil || consumed != 0 {
			t.Fatalf("%s: expected malformed, got %v %d %v", name, msg, consumed, err)
		}
	}
}

func TestMalformedErrorNamesField(t *testing.T) {
	testlog.Start(t)
	body := []byte{0x93, 0x01, 0x01, 0xc0}
	data, _ := frame.Append(nil, body, frame.DefaultLimits())
	_, _, err := New().TryParse(data)
	if err == nil || !strings.Contains(err.Error(), "field Json") {
		t.Fatalf("expected error naming Json, got %v", err)
	}
}

func TestEncodeNilMessage(t *testing.T) {
	testlog.Start(t)
	p := New()
	if _, err := p.Encode(nil); !errors.Is(err, ErrNilMessage) {
		t.Fatalf("nil interface: %v", err)
	}
	var req *HTTPRequest
	if _, err := p.Encode(req); !errors.Is(err, ErrNilMessage) {
		t.Fatalf("nil pointer: %v", err)
	}
}

func TestWriteAndReadMessage(t *testing.T) {
	testlog.Start(t)
	p := New()
	var buf bytes.Buffer
	in := &ConnectionReconnect{TargetID: "t", Endpoint: "wss://e", Message: "go"}
	n, err := p.WriteMessage(&buf, in)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("reported %d bytes, wrote %d", n, buf.Len())
	}
	out, err := p.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := out.(*ConnectionReconnect)
	if got.Endpoint != "wss://e" || got.Kind != TypeConnectionReconnect {
		t.Fatalf("unexpected message %+v", got)
	}
}

type countingMetrics struct {
	mu       sync.Mutex
	encoded  map[string]int
	decoded  map[string]int
	failures map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{encoded: map[string]int{}, decoded: map[string]int{}, failures: map[string]int{}}
}

func (m *countingMetrics) FrameEncoded(kind string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoded[kind]++
}

func (m *countingMetrics) FrameDecoded(kind string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decoded[kind]++
}

func (m *countingMetrics) DecodeFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func TestMetricsAndPoolDiscipline(t *testing.T) {
	testlog.Start(t)
	pool := bufpool.NewPool()
	metrics := newCountingMetrics()
	p := New(WithPool(pool), WithMetrics(metrics))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := p.Encode(&ServiceStatus{Message: "ok"})
			if err != nil {
				t.Errorf("encode: %v", err)
				return
			}
			if _, _, err := p.TryParse(data); err != nil {
				t.Errorf("parse: %v", err)
			}
		}()
	}
	wg.Wait()
	_, _, _ = p.TryParse(rawFrame(t, 42, `{}`, nil, 3))

	stats := pool.Stats()
	if stats.Rents == 0 || stats.Rents != stats.Returns {
		t.Fatalf("pool leaked: %+v", stats)
	}
	if metrics.encoded["service_status"] != 16 || metrics.decoded["service_status"] != 16 {
		t.Fatalf("unexpected metrics: %+v %+v", metrics.encoded, metrics.decoded)
	}
	if metrics.failures["unknown_type"] != 1 {
		t.Fatalf("unexpected failures: %+v", metrics.failures)
	}
}
