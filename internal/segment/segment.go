// Package segment implements the unified logical-to-physical mapping (C5):
// an ordered list of Segment records plus the LRU cache of their decoded
// bytes. Container parsers in internal/container build a List; modi.Handle
// resolves reads against it.
package segment

import (
	"errors"
	"sort"
)

// Flag classifies how a Segment's bytes are obtained.
type Flag int

const (
	// None means the bytes are stored verbatim at PhysOffset.
	None Flag = iota
	// Sparse means the region isn't stored; reads return zeros.
	Sparse
	// Compressed means PhysOffset/PhysSize describe a compressed payload
	// that must be decoded before use.
	Compressed
)

// Segment maps a contiguous run of logical media bytes to their physical
// location, per spec's Data Model.
type Segment struct {
	MappedOffset  uint64
	MappedSize    uint64
	PhysFileIndex uint32
	PhysOffset    uint64
	PhysSize      uint64
	Flags         Flag
}

var (
	// ErrNotContiguous is returned by Validate when two adjacent segments
	// don't abut exactly.
	ErrNotContiguous = errors.New("segment: segments are not contiguous")
	// ErrCoverageMismatch is returned by Validate when the segments don't
	// exactly cover the declared media size.
	ErrCoverageMismatch = errors.New("segment: total coverage does not match media size")
)

// List is the ordered segment list for one opened Handle.
type List struct {
	segments []Segment
}

// Append adds a segment that must cover [runningOffset, runningOffset+mappedSize).
// Callers append segments strictly in increasing mapped-offset order.
func (l *List) Append(physFileIndex uint32, physOffset, physSize uint64, flags Flag, mappedSize uint64) {
	var mappedOffset uint64
	if n := len(l.segments); n > 0 {
		last := l.segments[n-1]
		mappedOffset = last.MappedOffset + last.MappedSize
	}
	l.segments = append(l.segments, Segment{
		MappedOffset:  mappedOffset,
		MappedSize:    mappedSize,
		PhysFileIndex: physFileIndex,
		PhysOffset:    physOffset,
		PhysSize:      physSize,
		Flags:         flags,
	})
}

// Len reports how many segments the list holds.
func (l *List) Len() int { return len(l.segments) }

// At returns the segment at index i.
func (l *List) At(i int) Segment { return l.segments[i] }

// TotalMappedSize returns the sum of every segment's MappedSize, i.e. the
// logical media size the list describes.
func (l *List) TotalMappedSize() uint64 {
	if len(l.segments) == 0 {
		return 0
	}
	last := l.segments[len(l.segments)-1]
	return last.MappedOffset + last.MappedSize
}

// Resolve returns the index of the segment covering logicalOff and the
// offset within that segment, via binary search on MappedOffset.
func (l *List) Resolve(logicalOff uint64) (index int, intraOffset uint64, ok bool) {
	n := len(l.segments)
	if n == 0 {
		return 0, 0, false
	}
	i := sort.Search(n, func(i int) bool {
		return l.segments[i].MappedOffset+l.segments[i].MappedSize > logicalOff
	})
	if i >= n || logicalOff < l.segments[i].MappedOffset {
		return 0, 0, false
	}
	return i, logicalOff - l.segments[i].MappedOffset, true
}

// Validate checks the contiguity and total-coverage invariants from
// spec's Data Model against mediaSize, grounded on the teacher's own
// post-parse "Verify sector counts" checks in handler.go.
func (l *List) Validate(mediaSize uint64) error {
	for i := 1; i < len(l.segments); i++ {
		prev, cur := l.segments[i-1], l.segments[i]
		if prev.MappedOffset+prev.MappedSize != cur.MappedOffset {
			return ErrNotContiguous
		}
	}
	if l.TotalMappedSize() != mediaSize {
		return ErrCoverageMismatch
	}
	return nil
}
