// Package bufpool hands out exactly-sized byte regions backed by shared
// capacity-class pools.
//
// Ownership boundary:
// - rent/resize/release of pooled regions
// - the appendable output accumulator and its io.Writer adapter
package bufpool

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	minClassShift = 6  // 64 B
	maxClassShift = 22 // 4 MiB
	classCount    = maxClassShift - minClassShift + 1
)

var ErrOutOfRange = errors.New("bufpool: argument out of range")

// RangeError reports an invalid size or offset argument.
type RangeError struct {
	Arg   string
	Value int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("bufpool: %s=%d out of range", e.Arg, e.Value)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Owner is a checked-out region. Bytes has exactly the rented length.
type Owner interface {
	Bytes() []byte
	Len() int
	Release()
}

// Pool rents owners of an exact logical size.
type Pool interface {
	Rent(size int) (Owner, error)
}

// Stats are cumulative counters for one pool.
type Stats struct {
	Rents    uint64
	Returns  uint64
	Oversize uint64
}

// ClassPool is a Pool with one sync.Pool per power-of-two capacity class.
type ClassPool struct {
	classes [classCount]sync.Pool

	rents    atomic.Uint64
	returns  atomic.Uint64
	oversize atomic.Uint64
}

// Shared is the process-wide pool.
var Shared = NewPool()

func NewPool() *ClassPool {
	p := &ClassPool{}
	for i := range p.classes {
		capacity := 1 << (minClassShift + i)
		p.classes[i].New = func() any {
			b := make([]byte, capacity)
			return &b
		}
	}
	return p
}

// Rent returns an owner whose Bytes has length size. Rent(0) returns the
// shared empty owner.
func (p *ClassPool) Rent(size int) (Owner, error) {
	if size < 0 {
		return nil, &RangeError{Arg: "size", Value: size}
	}
	if size == 0 {
		return Empty(), nil
	}
	p.rents.Add(1)
	idx := classIndex(size)
	if idx < 0 {
		p.oversize.Add(1)
		buf := make([]byte, size)
		return newPooledOwner(&buf, size, -1, p), nil
	}
	return newPooledOwner(p.classes[idx].Get().(*[]byte), size, idx, p), nil
}

func (p *ClassPool) Stats() Stats {
	return Stats{
		Rents:    p.rents.Load(),
		Returns:  p.returns.Load(),
		Oversize: p.oversize.Load(),
	}
}

func (p *ClassPool) put(class int, bp *[]byte) {
	p.returns.Add(1)
	if class < 0 {
		return
	}
	*bp = (*bp)[:cap(*bp)]
	p.classes[class].Put(bp)
}

// classIndex maps a size to the smallest class that holds it, or -1 when the
// size exceeds the largest class.
func classIndex(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// ClassCapacity returns the backing capacity used for size, or size itself
// when it is served outside the classes.
func ClassCapacity(size int) int {
	idx := classIndex(size)
	if idx < 0 {
		return size
	}
	return 1 << (minClassShift + idx)
}

// pooledOwner drops its buffer on Release so later Bytes calls see nil
// instead of memory another renter may hold.
type pooledOwner struct {
	buf   atomic.Pointer[[]byte]
	size  int
	class int
	pool  *ClassPool
}

func newPooledOwner(bp *[]byte, size, class int, pool *ClassPool) *pooledOwner {
	o := &pooledOwner{size: size, class: class, pool: pool}
	o.buf.Store(bp)
	return o
}

func (o *pooledOwner) Bytes() []byte {
	bp := o.buf.Load()
	if bp == nil {
		return nil
	}
	return (*bp)[:o.size]
}

func (o *pooledOwner) Len() int { return o.size }

func (o *pooledOwner) Release() {
	if bp := o.buf.Swap(nil); bp != nil {
		o.pool.put(o.class, bp)
	}
}

type emptyOwner struct{}

func (emptyOwner) Bytes() []byte { return []byte{} }
func (emptyOwner) Len() int      { return 0 }
func (emptyOwner) Release()      {}

var empty Owner = emptyOwner{}

// Empty returns the shared zero-length owner.
func Empty() Owner { return empty }

// Resize returns a view over owner.Bytes()[offset:offset+size] and takes over
// ownership: releasing the view releases owner. A zero size releases owner
// immediately and returns the empty owner.
func Resize(owner Owner, offset, size int) (Owner, error) {
	if size < 0 {
		return nil, &RangeError{Arg: "size", Value: size}
	}
	if offset < 0 || offset > owner.Len() {
		return nil, &RangeError{Arg: "offset", Value: offset}
	}
	if offset+size > owner.Len() {
		return nil, &RangeError{Arg: "size", Value: size}
	}
	if size == 0 {
		owner.Release()
		return Empty(), nil
	}
	return &viewOwner{under: owner, offset: offset, size: size}, nil
}

type viewOwner struct {
	under  Owner
	offset int
	size   int
}

func (v *viewOwner) Bytes() []byte {
	b := v.under.Bytes()
	if b == nil {
		return nil
	}
	return b[v.offset : v.offset+v.size]
}

func (v *viewOwner) Len() int  { return v.size }
func (v *viewOwner) Release() { v.under.Release() }
