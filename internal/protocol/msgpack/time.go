package msgpack

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// TimestampExt is the extension type reserved for timestamps.
const TimestampExt int8 = -1

// timestampCode is TimestampExt as it appears on the wire.
const timestampCode byte = 0xff

// WriteTime writes t as a timestamp extension in the 32-, 64- or 96-bit form,
// whichever is the smallest that holds it.
func (w *Writer) WriteTime(t time.Time) {
	secs := t.Unix()
	nsec := uint64(t.Nanosecond())
	if uint64(secs)>>34 == 0 {
		data := nsec<<34 | uint64(secs)
		if data&0xffffffff00000000 == 0 {
			w.scratch[0] = msgpcode.FixExt4
			w.scratch[1] = timestampCode
			binary.BigEndian.PutUint32(w.scratch[2:], uint32(data))
			w.write(w.scratch[:6])
			return
		}
		w.scratch[0] = msgpcode.FixExt8
		w.scratch[1] = timestampCode
		binary.BigEndian.PutUint64(w.scratch[2:], data)
		w.write(w.scratch[:10])
		return
	}
	w.scratch[0] = msgpcode.Ext8
	w.scratch[1] = 12
	w.scratch[2] = timestampCode
	w.write(w.scratch[:3])
	binary.BigEndian.PutUint32(w.scratch[:4], uint32(nsec))
	binary.BigEndian.PutUint64(w.scratch[4:12], uint64(secs))
	w.write(w.scratch[:12])
}

// ReadTime reads a timestamp extension and returns it in UTC.
func (r *Reader) ReadTime(path string) (time.Time, error) {
	t, next, err := r.scanTime(path, r.pos)
	if err != nil {
		return time.Time{}, err
	}
	r.pos = next
	return t, nil
}

func (r *Reader) ReadNullableTime(path string) (*time.Time, error) {
	if r.TryReadNil() {
		return nil, nil
	}
	t, err := r.ReadTime(path)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Reader) scanTime(path string, at int) (time.Time, int, error) {
	typ, n, next, c, err := r.scanExtHeader(path, at)
	if err != nil {
		return time.Time{}, at, err
	}
	if typ != TimestampExt {
		return time.Time{}, at, decodeErr(path, at, c, ErrUnsupportedExt, fmt.Sprintf("ext type %d", typ))
	}
	b, err := r.take(path, next, n, c)
	if err != nil {
		return time.Time{}, at, err
	}
	var secs int64
	var nsec uint32
	switch n {
	case 4:
		secs = int64(binary.BigEndian.Uint32(b))
	case 8:
		data := binary.BigEndian.Uint64(b)
		nsec = uint32(data >> 34)
		secs = int64(data & 0x3ffffffff)
	case 12:
		nsec = binary.BigEndian.Uint32(b[:4])
		secs = int64(binary.BigEndian.Uint64(b[4:]))
	default:
		return time.Time{}, at, decodeErr(path, at, c, ErrUnexpectedCode, fmt.Sprintf("timestamp of %d bytes", n))
	}
	if nsec >= 1e9 {
		return time.Time{}, at, decodeErr(path, at, c, ErrOverflow, fmt.Sprintf("nanoseconds %d", nsec))
	}
	return time.Unix(secs, int64(nsec)).UTC(), next + n, nil
}
