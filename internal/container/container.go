// Package container parses the four MODI metadata formats (C4) and turns
// each into a segment.List: the sparse-image header and band table, the
// sparse-bundle Info.plist, and the UDIF trailer plus its XML plist and
// mish block tables.
package container

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-modi/internal/codec"
)

// ErrorKind mirrors the subset of spec §7's error kinds a container parser
// can raise on its own.
type ErrorKind int

const (
	ErrMalformedHeader ErrorKind = iota
	ErrMalformedTable
	ErrOutOfBounds
	ErrUnsupportedFormat
)

// Error is the typed error every parser in this package returns.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("container: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func errf(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

var errShortRead = errors.New("short read")

// compressionMethod tracks the image-wide codec. UDIF images must use
// exactly one compression method across every compressed block-table
// entry (spec's Data Model invariant, checked across every blkx table —
// see DESIGN.md's Open Question decision on Scenario F).
type compressionMethod struct {
	method codec.Method
	set    bool
}

func (c *compressionMethod) observe(m codec.Method) error {
	if !c.set {
		c.method = m
		c.set = true
		return nil
	}
	if c.method != m {
		return errf(ErrUnsupportedFormat, "compression-method", errors.New("mixed compression methods in one image"))
	}
	return nil
}
