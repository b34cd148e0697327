package bufpool

const defaultSpan = 256

// BufferWriter is an appendable sink: GetSpan exposes writable space of at
// least sizeHint bytes (at least one when sizeHint <= 0) and Advance commits n
// bytes of it.
type BufferWriter interface {
	GetSpan(sizeHint int) ([]byte, error)
	Advance(n int)
}

// Accumulator is a BufferWriter backed by pool rentals. It is not safe for
// concurrent use.
type Accumulator struct {
	pool  Pool
	owner Owner
	buf   []byte
	n     int
}

func NewAccumulator(pool Pool) *Accumulator {
	if pool == nil {
		pool = Shared
	}
	return &Accumulator{pool: pool}
}

func (a *Accumulator) GetSpan(sizeHint int) ([]byte, error) {
	if sizeHint <= 0 {
		sizeHint = 1
	}
	if len(a.buf)-a.n < sizeHint {
		if err := a.grow(a.n + sizeHint); err != nil {
			return nil, err
		}
	}
	return a.buf[a.n:], nil
}

func (a *Accumulator) Advance(n int) {
	if n < 0 || a.n+n > len(a.buf) {
		panic(&RangeError{Arg: "advance", Value: n})
	}
	a.n += n
}

func (a *Accumulator) grow(need int) error {
	size := ClassCapacity(need)
	if size < defaultSpan {
		size = defaultSpan
	}
	next, err := a.pool.Rent(size)
	if err != nil {
		return err
	}
	buf := next.Bytes()
	copy(buf, a.buf[:a.n])
	if a.owner != nil {
		a.owner.Release()
	}
	a.owner = next
	a.buf = buf
	return nil
}

// Bytes returns the committed bytes. The slice is valid until the next write,
// Reset, Detach or Release.
func (a *Accumulator) Bytes() []byte { return a.buf[:a.n] }

func (a *Accumulator) Len() int { return a.n }

// Reset discards committed bytes and keeps the rented region.
func (a *Accumulator) Reset() { a.n = 0 }

// Consume drops the first n committed bytes and moves the rest to the front.
// It is the read-side counterpart of Advance for callers that parse frames
// out of the accumulator.
func (a *Accumulator) Consume(n int) {
	if n < 0 || n > a.n {
		panic(&RangeError{Arg: "consume", Value: n})
	}
	if n == 0 {
		return
	}
	a.n = copy(a.buf, a.buf[n:a.n])
}

// Detach hands the committed bytes to the caller as an exactly-sized owner and
// leaves the accumulator empty.
func (a *Accumulator) Detach() (Owner, error) {
	if a.owner == nil {
		return Empty(), nil
	}
	owner, n := a.owner, a.n
	a.owner, a.buf, a.n = nil, nil, 0
	return Resize(owner, 0, n)
}

// Release returns the rented region to the pool.
func (a *Accumulator) Release() {
	if a.owner != nil {
		a.owner.Release()
	}
	a.owner, a.buf, a.n = nil, nil, 0
}
