// Package cursor walks MessagePack arrays and maps as positional schemas.
//
// Ownership boundary:
// - field paths for diagnostics
// - array/map read cursors with arity checks
// - count-checked array/map writers
package cursor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/relaywire/internal/protocol/msgpack"
)

var (
	ErrNoMoreItems   = errors.New("cursor: no more items")
	ErrTrailingItems = errors.New("cursor: unconsumed items")
	ErrCountMismatch = errors.New("cursor: written count differs from declared count")
)

// ShapeError reports an arity problem at a field path. Read-side shape
// errors also match msgpack.ErrMalformed.
type ShapeError struct {
	Path   string
	Reason string
	Err    error
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("cursor: %s %s", e.Reason, e.Path)
}

func (e ShapeError) Unwrap() []error {
	if errors.Is(e.Err, ErrCountMismatch) {
		return []error{e.Err}
	}
	return []error{e.Err, msgpack.ErrMalformed}
}

// Join appends name to a dotted path. Empty parts are dropped.
func Join(parent, name string) string {
	switch {
	case parent == "":
		return name
	case name == "":
		return parent
	}
	return parent + "." + name
}

// Index renders the i-th element of parent as parent[i].
func Index(parent string, i int) string {
	var b strings.Builder
	b.Grow(len(parent) + 4)
	b.WriteString(parent)
	b.WriteByte('[')
	b.WriteString(strconv.Itoa(i))
	b.WriteByte(']')
	return b.String()
}
