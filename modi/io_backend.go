package modi

import "github.com/deploymenttheory/go-modi/internal/iofacade"

// ioBackend unifies iofacade.Single and iofacade.Pool behind the one
// read_at(index, offset, buf) operation spec §4.7/§9 Design Note 3 call
// for ("a sum type Io{Single, Pool} carrying the same read_at(index, off,
// buf) operation where index is ignored for Single").
type ioBackend interface {
	size(fileIndex uint32) (uint64, error)
	readAt(fileIndex uint32, off int64, buf []byte) (int, error)
	close() error

	// pool returns the backing iofacade.Pool, or nil for single-file
	// backends. Used by Handle.SetMaxOpenHandles, the Go equivalent of
	// the original library's libmodi_handle_set_maximum_number_of_open_handles
	// (original_source/libmodi/libmodi_handle.c:3949), which only reaches
	// into a band data file IO pool when one exists.
	pool() *iofacade.Pool
}

// singleBackend adapts any iofacade.Handle (an externally-supplied handle
// per spec §6, or an *iofacade.Single), ignoring fileIndex. It never
// closes h — the caller owns whatever h wraps, per spec §5's "files
// opened by the caller ... are not closed by the library."
type singleBackend struct {
	h iofacade.Handle
}

func (b singleBackend) size(uint32) (uint64, error) { return b.h.Size() }

func (b singleBackend) readAt(_ uint32, off int64, buf []byte) (int, error) {
	return b.h.ReadAt(off, buf)
}

func (b singleBackend) close() error { return nil }

func (b singleBackend) pool() *iofacade.Pool { return nil }

// poolBackend adapts a library-owned iofacade.Pool, using fileIndex as
// the band slot, closing it on close().
type poolBackend struct {
	p *iofacade.Pool
}

func (b poolBackend) size(fileIndex uint32) (uint64, error) { return b.p.Size(int(fileIndex)) }

func (b poolBackend) readAt(fileIndex uint32, off int64, buf []byte) (int, error) {
	return b.p.ReadAt(int(fileIndex), off, buf)
}

func (b poolBackend) close() error { return b.p.Close() }

func (b poolBackend) pool() *iofacade.Pool { return b.p }

// externalPoolBackend adapts a caller-supplied, caller-owned iofacade.Pool
// (spec §6's "externally-supplied pool for band files"): close() is a
// no-op since the caller manages the pool's lifetime.
type externalPoolBackend struct {
	p *iofacade.Pool
}

func (b externalPoolBackend) size(fileIndex uint32) (uint64, error) { return b.p.Size(int(fileIndex)) }

func (b externalPoolBackend) readAt(fileIndex uint32, off int64, buf []byte) (int, error) {
	return b.p.ReadAt(int(fileIndex), off, buf)
}

func (b externalPoolBackend) close() error { return nil }

func (b externalPoolBackend) pool() *iofacade.Pool { return b.p }
