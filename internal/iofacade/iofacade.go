// Package iofacade implements the uniform file-IO contract (C7) a Handle
// reads segments through: a single backing file (sparse-image, UDIF) or a
// pool of band files (sparse-bundle), both exposing the same
// read_at(index, offset, buf) shape. New code — the teacher's DMG parser
// only ever deals with one file — shaped after the offset-relative read
// pattern in the teacher's Handler.readData / InStream.Read, generalized
// to a pool with an LRU-bounded number of simultaneously open handles.
package iofacade

import (
	"container/list"
	"errors"
	"os"
	"sync"
)

// ErrSlotOutOfRange is returned when index is outside the pool's bounds.
var ErrSlotOutOfRange = errors.New("iofacade: slot index out of range")

// ErrNotOpen reports a handle used before it was opened. Nothing in this
// package returns it; Single and Pool pass on the *os.File's own errors.
var ErrNotOpen = errors.New("iofacade: handle not open")

// Handle is the capability every backing file exposes: size and
// positioned reads.
type Handle interface {
	Size() (uint64, error)
	ReadAt(off int64, buf []byte) (int, error)
}

// Single wraps exactly one backing file — the sparse-image and UDIF
// variants, where index is always ignored.
type Single struct {
	mu         sync.Mutex
	f          *os.File
	size       uint64
	ownsHandle bool
}

// OpenSingle opens path and wraps it as a Single. The returned Single owns
// the file descriptor and closes it on Close.
func OpenSingle(path string) (*Single, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Single{f: f, size: uint64(info.Size()), ownsHandle: true}, nil
}

// WrapSingle adapts a caller-supplied handle that the library must not
// close, per spec §4.7's "externally-supplied file-IO handle" variant.
func WrapSingle(f *os.File, size uint64) *Single {
	return &Single{f: f, size: size, ownsHandle: false}
}

// Size implements Handle.
func (s *Single) Size() (uint64, error) {
	return s.size, nil
}

// ReadAt implements Handle.
func (s *Single) ReadAt(off int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.ReadAt(buf, off)
}

// Close releases the backing file if this Single opened it itself.
func (s *Single) Close() error {
	if !s.ownsHandle {
		return nil
	}
	return s.f.Close()
}

// poolSlot describes one band: its path (empty if the band is missing —
// a fully sparse band) and lazily-opened file handle.
type poolSlot struct {
	path     string
	size     uint64
	f        *os.File
	lruElem  *list.Element
	external bool // true if caller-supplied, never closed by the pool
}

// Pool wraps a set of band files, opening at most maxOpenHandles of them
// at once and closing the least-recently-used handle to stay under that
// bound, per spec §4.7.
type Pool struct {
	mu             sync.Mutex
	slots          []poolSlot
	maxOpenHandles int
	lru            *list.List // front = most recently used
}

// NewPool creates an empty Pool sized for n band slots.
func NewPool(n, maxOpenHandles int) *Pool {
	if maxOpenHandles <= 0 {
		maxOpenHandles = n
	}
	return &Pool{
		slots:          make([]poolSlot, n),
		maxOpenHandles: maxOpenHandles,
		lru:            list.New(),
	}
}

// Attach registers path as the backing file for slot index. The file is
// opened lazily on first read.
func (p *Pool) Attach(index int, path string, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return ErrSlotOutOfRange
	}
	p.slots[index].path = path
	p.slots[index].size = size
	return nil
}

// AttachNone marks slot index as missing (a fully sparse band); reads
// against it must be routed to a Sparse segment upstream rather than
// reaching this pool at all.
func (p *Pool) AttachNone(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return ErrSlotOutOfRange
	}
	p.slots[index] = poolSlot{}
	return nil
}

// Size returns the size of the band at index, or 0 if the slot is empty.
func (p *Pool) Size(index int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return 0, ErrSlotOutOfRange
	}
	return p.slots[index].size, nil
}

// OpenCount reports how many band files are currently open, for tests and
// diagnostics exercising SetMaxOpenHandles's immediate-eviction behavior.
func (p *Pool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// ReadAt reads from the band at index, opening it on demand and enforcing
// maxOpenHandles via LRU closure of idle handles.
func (p *Pool) ReadAt(index int, off int64, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return 0, ErrSlotOutOfRange
	}
	slot := &p.slots[index]
	if slot.path == "" {
		return 0, errors.New("iofacade: slot has no backing file")
	}

	if slot.f == nil {
		f, err := os.Open(slot.path)
		if err != nil {
			return 0, err
		}
		slot.f = f
		p.evictIfNeeded()
		slot.lruElem = p.lru.PushFront(index)
	} else {
		p.lru.MoveToFront(slot.lruElem)
	}

	return slot.f.ReadAt(buf, off)
}

// SetMaxOpenHandles changes the pool's cap on simultaneously open band
// files, enforcing it immediately by evicting the least-recently-used open
// handles down to the new bound — grounded on
// original_source/libmodi/libmodi_handle.c's
// libmodi_handle_set_maximum_number_of_open_handles, which calls straight
// through to libbfio_pool_set_maximum_number_of_open_handles on the live
// pool rather than deferring the change to the next open.
func (p *Pool) SetMaxOpenHandles(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 {
		return errors.New("iofacade: maxOpenHandles must be positive")
	}
	p.maxOpenHandles = n
	for p.lru.Len() > p.maxOpenHandles {
		p.evictIfNeeded()
	}
	return nil
}

// evictIfNeeded closes the least-recently-used open handle if the pool is
// at capacity, making room for a new open.
func (p *Pool) evictIfNeeded() {
	openCount := p.lru.Len()
	if openCount < p.maxOpenHandles {
		return
	}
	back := p.lru.Back()
	if back == nil {
		return
	}
	idx := back.Value.(int)
	slot := &p.slots[idx]
	if slot.f != nil && !slot.external {
		slot.f.Close()
		slot.f = nil
	}
	p.lru.Remove(back)
	slot.lruElem = nil
}

// Close releases every currently-open, library-owned handle in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for i := range p.slots {
		s := &p.slots[i]
		if s.f != nil && !s.external {
			if err := s.f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			s.f = nil
		}
	}
	return firstErr
}
