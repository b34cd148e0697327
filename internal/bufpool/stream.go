package bufpool

import "io"

// Stream adapts a BufferWriter to the sequential io.Writer family.
type Stream struct {
	w       BufferWriter
	written int64
}

var (
	_ io.Writer       = (*Stream)(nil)
	_ io.ByteWriter   = (*Stream)(nil)
	_ io.StringWriter = (*Stream)(nil)
)

func NewStream(w BufferWriter) *Stream {
	return &Stream{w: w}
}

func (s *Stream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		span, err := s.w.GetSpan(len(p))
		if err != nil {
			return total, err
		}
		n := copy(span, p)
		s.w.Advance(n)
		s.written += int64(n)
		total += n
		p = p[n:]
	}
	return total, nil
}

func (s *Stream) WriteByte(c byte) error {
	span, err := s.w.GetSpan(1)
	if err != nil {
		return err
	}
	span[0] = c
	s.w.Advance(1)
	s.written++
	return nil
}

func (s *Stream) WriteString(str string) (int, error) {
	total := 0
	for len(str) > 0 {
		span, err := s.w.GetSpan(len(str))
		if err != nil {
			return total, err
		}
		n := copy(span, str)
		s.w.Advance(n)
		s.written += int64(n)
		total += n
		str = str[n:]
	}
	return total, nil
}

// Written is the number of bytes written through this stream.
func (s *Stream) Written() int64 { return s.written }
