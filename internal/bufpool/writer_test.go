package bufpool

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/relaywire/internal/testutil/testlog"
)

var errExhausted = errors.New("pool exhausted")

// limitedPool fails every rent after the first budget rents.
type limitedPool struct {
	inner  Pool
	budget int
	rents  int
}

func (p *limitedPool) Rent(size int) (Owner, error) {
	if p.rents >= p.budget {
		return nil, errExhausted
	}
	p.rents++
	return p.inner.Rent(size)
}

func TestAccumulatorGrowsAcrossClasses(t *testing.T) {
	testlog.Start(t)
	p := NewPool()
	acc := NewAccumulator(p)
	s := NewStream(acc)

	want := bytes.Repeat([]byte("relay"), 1000)
	if _, err := s.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.WriteByte('!'); err != nil {
		t.Fatalf("write byte: %v", err)
	}
	if _, err := s.WriteString("end"); err != nil {
		t.Fatalf("write string: %v", err)
	}
	want = append(want, []byte("!end")...)
	if !bytes.Equal(acc.Bytes(), want) {
		t.Fatalf("accumulated bytes mismatch (len=%d want=%d)", acc.Len(), len(want))
	}
	if s.Written() != int64(len(want)) {
		t.Fatalf("unexpected written count: %d", s.Written())
	}
	acc.Release()
	stats := p.Stats()
	if stats.Rents != stats.Returns {
		t.Fatalf("leaked rentals: %+v", stats)
	}
}

func TestAccumulatorDetachExactSize(t *testing.T) {
	testlog.Start(t)
	p := NewPool()
	acc := NewAccumulator(p)
	if _, err := NewStream(acc).WriteString("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	owner, err := acc.Detach()
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if string(owner.Bytes()) != "hello" || owner.Len() != 5 {
		t.Fatalf("unexpected detached owner: %q", owner.Bytes())
	}
	if acc.Len() != 0 {
		t.Fatalf("accumulator should be empty after detach")
	}
	owner.Release()
	if p.Stats().Rents != p.Stats().Returns {
		t.Fatalf("leaked rentals: %+v", p.Stats())
	}
}

func TestAccumulatorDetachEmpty(t *testing.T) {
	testlog.Start(t)
	owner, err := NewAccumulator(nil).Detach()
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if owner != Empty() {
		t.Fatalf("expected empty owner")
	}
}

func TestAccumulatorResetKeepsRegion(t *testing.T) {
	testlog.Start(t)
	p := NewPool()
	acc := NewAccumulator(p)
	s := NewStream(acc)
	_, _ = s.WriteString("first")
	acc.Reset()
	_, _ = s.WriteString("second")
	if string(acc.Bytes()) != "second" {
		t.Fatalf("unexpected bytes: %q", acc.Bytes())
	}
	if p.Stats().Rents != 1 {
		t.Fatalf("reset should not rent again: %+v", p.Stats())
	}
	acc.Release()
}

func TestStreamSurfacesPoolExhaustion(t *testing.T) {
	testlog.Start(t)
	acc := NewAccumulator(&limitedPool{inner: NewPool(), budget: 1})
	s := NewStream(acc)

	if _, err := s.WriteString("fits"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	n, err := s.WriteString(strings.Repeat("x", 10_000))
	if !errors.Is(err, errExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no bytes written on failed grow, got %d", n)
	}
	if string(acc.Bytes()) != "fits" {
		t.Fatalf("committed bytes must survive a failed grow: %q", acc.Bytes())
	}
	acc.Release()
}

func TestAdvancePastSpanPanics(t *testing.T) {
	testlog.Start(t)
	acc := NewAccumulator(NewPool())
	defer acc.Release()
	span, err := acc.GetSpan(8)
	if err != nil {
		t.Fatalf("span: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	acc.Advance(len(span) + 1)
}

func TestAccumulatorConsumeShiftsTail(t *testing.T) {
	testlog.Start(t)
	acc := NewAccumulator(NewPool())
	defer acc.Release()
	s := NewStream(acc)
	_, _ = s.WriteString("headtail")

	acc.Consume(4)
	if string(acc.Bytes()) != "tail" {
		t.Fatalf("after consume: %q", acc.Bytes())
	}
	acc.Consume(0)
	if acc.Len() != 4 {
		t.Fatalf("consume(0) changed length: %d", acc.Len())
	}
	_, _ = s.WriteString("+more")
	if string(acc.Bytes()) != "tail+more" {
		t.Fatalf("append after consume: %q", acc.Bytes())
	}
	acc.Consume(acc.Len())
	if acc.Len() != 0 {
		t.Fatalf("expected empty accumulator, got %d", acc.Len())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("consume past committed bytes must panic")
		}
	}()
	acc.Consume(1)
}
