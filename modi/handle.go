package modi

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/deploymenttheory/go-modi/internal/codec"
	"github.com/deploymenttheory/go-modi/internal/container"
	"github.com/deploymenttheory/go-modi/internal/iofacade"
	"github.com/deploymenttheory/go-modi/internal/logger"
	"github.com/deploymenttheory/go-modi/internal/segment"
)

// DefaultMaxOpenHandles is the sparse-bundle pool's default cap on
// simultaneously open band files when Open's caller doesn't override it.
const DefaultMaxOpenHandles = 16

// Handle is a random-access reader over one opened MODI container. Create
// it with New, which returns it in the New state with a log sink set (the
// zero value has no sink, and Open panics on it); call Open to transition
// it to Opened. Per spec §5, a single Handle is guarded end to end by one
// sync.RWMutex — the write side covers Read/Seek/Close since both mutate
// current_offset and the cache, the read side covers the read-only
// metadata accessors.
type Handle struct {
	mu sync.RWMutex

	st      state
	variant ImageType

	io        ioBackend
	segments  *segment.List
	cache     *segment.Cache
	registry  *codec.Registry
	method    codec.Method
	mediaSize uint64

	// bandsDirOverride, when set before Open, replaces the default
	// "<dirPath>/bands" location a sparse-bundle's band files are read
	// from. See SetBandDataFilesPath.
	bandsDirOverride string

	currentOffset uint64
	abort         int32 // atomic; spec §5's advisory abort flag

	sink *logger.Sink
}

// New returns a Handle in the New state, ready for Open. sink may be nil,
// in which case logging is discarded (logger.Discard()).
func New(sink *logger.Sink) *Handle {
	if sink == nil {
		sink = logger.Discard()
	}
	return &Handle{sink: sink}
}

// SetBandDataFilesPath overrides the directory a sparse-bundle Handle reads
// its band files from, in place of the default "<source>/bands" location
// Open otherwise derives from the bundle directory. It is the Go equivalent
// of the original library's libmodi_handle_set_band_data_files_path
// (original_source/libmodi/libmodi_handle.c:4028, declared in
// libmodi_handle.h:256) and must be called before Open, since this
// implementation resolves and opens band files as one step rather than the
// original's separate open/open_band_data_files calls. It has no effect on
// the Raw, SparseImage, or UDIF variants.
func (h *Handle) SetBandDataFilesPath(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateNew {
		return newError(ErrAlreadyOpen, "SetBandDataFilesPath", errors.New("must be called before Open"))
	}
	if path == "" {
		return newError(ErrInvalidArgument, "SetBandDataFilesPath", errors.New("empty path"))
	}
	h.bandsDirOverride = path
	return nil
}

// Open detects source's variant (file or directory path) per spec §4.6's
// detection order and parses its metadata. maxOpenHandles bounds a
// sparse-bundle's simultaneously open band files (<= 0 uses
// DefaultMaxOpenHandles); cacheCapacity sizes the decoded data-block cache
// (<= 0 uses segment.DefaultCacheCapacity).
//
// Any failure during Open leaves the Handle in the New state — no partial
// state is retained, per spec §4.6's Failure semantics.
func (h *Handle) Open(source string, maxOpenHandles, cacheCapacity int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st != stateNew {
		return newError(ErrAlreadyOpen, "Open", nil)
	}
	if source == "" {
		return newError(ErrInvalidArgument, "Open", errors.New("empty source"))
	}
	if maxOpenHandles <= 0 {
		maxOpenHandles = DefaultMaxOpenHandles
	}

	h.sink.Debugf("Open: probing %s", source)

	info, err := os.Stat(source)
	if err != nil {
		return newError(ErrIO, "Open", err)
	}

	if info.IsDir() {
		h.sink.Infof("Open: %s is a directory, trying sparse-bundle", source)
		if err := h.openSparseBundle(source, maxOpenHandles, cacheCapacity); err != nil {
			h.sink.Errorf("Open: %v", err)
			return err
		}
		return nil
	}

	f, err := os.Open(source)
	if err != nil {
		return newError(ErrIO, "Open", err)
	}
	fileSize := uint64(info.Size())

	if fileSize >= 512 && container.DetectUDIF(f, fileSize) {
		h.sink.Infof("Open: %s detected as UDIF", source)
		if err := h.openUDIF(f, fileSize, cacheCapacity); err != nil {
			f.Close()
			h.sink.Errorf("Open: %v", err)
			return err
		}
		return nil
	}
	if fileSize >= 4096 && container.DetectSparseImage(f) {
		h.sink.Infof("Open: %s detected as sparse-image", source)
		if err := h.openSparseImage(f, cacheCapacity); err != nil {
			f.Close()
			h.sink.Errorf("Open: %v", err)
			return err
		}
		return nil
	}

	var prefix [5]byte
	isXMLPrefixed := false
	if n, _ := f.ReadAt(prefix[:], 0); n == 5 {
		isXMLPrefixed = container.DetectSparseBundleXML(prefix[:])
	}
	if isXMLPrefixed {
		// source names an Info.plist directly rather than its containing
		// bundle directory; the bundle root is its parent, per spec
		// §4.6 step 3's "or first 5 bytes are <?xml" clause.
		f.Close()
		h.sink.Infof("Open: %s detected as sparse-bundle Info.plist", source)
		if err := h.openSparseBundle(filepath.Dir(source), maxOpenHandles, cacheCapacity); err != nil {
			h.sink.Errorf("Open: %v", err)
			return err
		}
		return nil
	}

	h.sink.Infof("Open: %s falling back to Raw", source)
	h.openRaw(f, fileSize)
	return nil
}

// OpenWithHandle is Open's "externally-supplied file-IO handle"
// variant (spec §6): detection and parsing run exactly as Open's
// single-file path, but ioHandle is never closed by the library — Close
// leaves it open for the caller to manage, per spec §5's resource
// lifetime rule. Not valid for sparse-bundle sources; use OpenWithPool
// for those.
func (h *Handle) OpenWithHandle(ioHandle iofacade.Handle, cacheCapacity int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st != stateNew {
		return newError(ErrAlreadyOpen, "Open", nil)
	}
	if ioHandle == nil {
		return newError(ErrInvalidArgument, "Open", errors.New("nil io handle"))
	}

	fileSize, err := ioHandle.Size()
	if err != nil {
		return newError(ErrIO, "Open", err)
	}
	h.sink.Debugf("Open: externally-supplied handle, size=%d", fileSize)
	backend := singleBackend{h: ioHandle}
	ra := handleReaderAt{h: ioHandle}

	if fileSize >= 512 && container.DetectUDIF(ra, fileSize) {
		list, mediaSize, method, err := container.ParseUDIF(ra, fileSize)
		if err != nil {
			return wrapContainerErr("Open", err)
		}
		variant := UdifUncompressed
		if method.IsCompressed() {
			variant = UdifCompressed
		}
		h.setOpenedSingle(backend, list, mediaSize, cacheCapacity, method, variant)
		return nil
	}
	if fileSize >= 4096 && container.DetectSparseImage(ra) {
		list, mediaSize, err := container.ParseSparseImage(ra)
		if err != nil {
			return wrapContainerErr("Open", err)
		}
		h.setOpenedSingle(backend, list, mediaSize, cacheCapacity, 0, SparseImage)
		return nil
	}

	var prefix [5]byte
	if n, _ := ioHandle.ReadAt(0, prefix[:]); n == 5 && container.DetectSparseBundleXML(prefix[:]) {
		return newError(ErrUnsupportedFormat, "Open", errors.New("sparse-bundle requires OpenWithPool, not a single handle"))
	}

	var list segment.List
	list.Append(0, 0, fileSize, segment.None, fileSize)
	h.setOpenedSingle(backend, &list, fileSize, cacheCapacity, 0, Raw)
	return nil
}

// handleReaderAt adapts an iofacade.Handle (offset first) to io.ReaderAt
// (buffer first) for the container detectors and parsers.
type handleReaderAt struct{ h iofacade.Handle }

func (r handleReaderAt) ReadAt(p []byte, off int64) (int, error) { return r.h.ReadAt(off, p) }

// OpenWithPool is Open's "externally-supplied pool for band files"
// variant (spec §6) for sparse-bundle sources: dirPath's Info.plist is
// parsed and pool is populated exactly as Open's sparse-bundle path does,
// but pool is owned by the caller — Close does not close it.
func (h *Handle) OpenWithPool(dirPath string, pool *iofacade.Pool, cacheCapacity int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st != stateNew {
		return newError(ErrAlreadyOpen, "Open", nil)
	}
	if pool == nil {
		return newError(ErrInvalidArgument, "Open", errors.New("nil pool"))
	}

	h.sink.Debugf("Open: externally-supplied pool, dir=%s", dirPath)
	list, mediaSize, err := container.ParseSparseBundleWithPool(dirPath, pool)
	if err != nil {
		h.sink.Errorf("Open: %v", err)
		return wrapContainerErr("Open", err)
	}

	h.io = externalPoolBackend{p: pool}
	h.segments = list
	h.mediaSize = mediaSize
	h.cache = segment.NewCache(cacheCapacity)
	h.registry = codec.NewRegistry()
	h.variant = SparseBundle
	h.st = stateOpened
	return nil
}

// setOpenedSingle finishes OpenWithHandle's single-file variants: common
// to Raw, SparseImage, and UDIF once their segment list and media size
// are known.
func (h *Handle) setOpenedSingle(backend ioBackend, list *segment.List, mediaSize uint64, cacheCapacity int, method codec.Method, variant ImageType) {
	h.io = backend
	h.segments = list
	h.mediaSize = mediaSize
	h.cache = segment.NewCache(cacheCapacity)
	h.registry = codec.NewRegistry()
	h.method = method
	h.variant = variant
	h.st = stateOpened
}

func (h *Handle) openRaw(f *os.File, fileSize uint64) {
	single := iofacade.WrapSingle(f, fileSize)
	var list segment.List
	list.Append(0, 0, fileSize, segment.None, fileSize)

	h.io = ownedSingleBackend{f: f, Single: single}
	h.segments = &list
	h.mediaSize = fileSize
	h.cache = segment.NewCache(0)
	h.registry = codec.NewRegistry()
	h.variant = Raw
	h.st = stateOpened
}

func (h *Handle) openSparseImage(f *os.File, cacheCapacity int) error {
	list, mediaSize, err := container.ParseSparseImage(f)
	if err != nil {
		return wrapContainerErr("Open", err)
	}
	info, statErr := f.Stat()
	if statErr != nil {
		return newError(ErrIO, "Open", statErr)
	}
	single := iofacade.WrapSingle(f, uint64(info.Size()))

	h.io = ownedSingleBackend{f: f, Single: single}
	h.segments = list
	h.mediaSize = mediaSize
	h.cache = segment.NewCache(cacheCapacity)
	h.registry = codec.NewRegistry()
	h.variant = SparseImage
	h.st = stateOpened
	return nil
}

func (h *Handle) openUDIF(f *os.File, fileSize uint64, cacheCapacity int) error {
	list, mediaSize, method, err := container.ParseUDIF(f, fileSize)
	if err != nil {
		return wrapContainerErr("Open", err)
	}
	single := iofacade.WrapSingle(f, fileSize)

	h.io = ownedSingleBackend{f: f, Single: single}
	h.segments = list
	h.mediaSize = mediaSize
	h.cache = segment.NewCache(cacheCapacity)
	h.registry = codec.NewRegistry()
	h.method = method
	if method.IsCompressed() {
		h.variant = UdifCompressed
	} else {
		h.variant = UdifUncompressed
	}
	h.st = stateOpened
	return nil
}

func (h *Handle) openSparseBundle(dirPath string, maxOpenHandles, cacheCapacity int) error {
	list, mediaSize, pool, err := container.ParseSparseBundle(dirPath, maxOpenHandles, h.bandsDirOverride)
	if err != nil {
		return wrapContainerErr("Open", err)
	}

	h.io = poolBackend{p: pool}
	h.segments = list
	h.mediaSize = mediaSize
	h.cache = segment.NewCache(cacheCapacity)
	h.registry = codec.NewRegistry()
	h.variant = SparseBundle
	h.st = stateOpened
	return nil
}

// ownedSingleBackend closes the file it wraps, since Open always opens
// its own *os.File for the three single-file variants (no caller-supplied
// external handle has been attached here).
type ownedSingleBackend struct {
	f *os.File
	*iofacade.Single
}

func (b ownedSingleBackend) close() error {
	_ = b.Single.Close() // Single's Close is a no-op for WrapSingle (ownsHandle=false)
	return b.f.Close()
}

func (b ownedSingleBackend) size(uint32) (uint64, error) { return b.Single.Size() }

func (b ownedSingleBackend) readAt(_ uint32, off int64, buf []byte) (int, error) {
	return b.Single.ReadAt(off, buf)
}

func (b ownedSingleBackend) pool() *iofacade.Pool { return nil }

// Size returns the logical media size in bytes.
func (h *Handle) Size() (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.st != stateOpened {
		return 0, newError(ErrNotOpen, "Size", nil)
	}
	return h.mediaSize, nil
}

// ImageType reports which container variant this Handle opened.
func (h *Handle) ImageType() (ImageType, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.st != stateOpened {
		return 0, newError(ErrNotOpen, "ImageType", nil)
	}
	return h.variant, nil
}

// Tell returns the current read offset.
func (h *Handle) Tell() (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.st != stateOpened {
		return 0, newError(ErrNotOpen, "Tell", nil)
	}
	return h.currentOffset, nil
}

// Whence selects Seek's reference point, matching io.Seek*'s values.
type Whence int

const (
	SeekStart   Whence = io.SeekStart
	SeekCurrent Whence = io.SeekCurrent
	SeekEnd     Whence = io.SeekEnd
)

// Seek updates current_offset per spec §4.6: a negative computed absolute
// offset fails; seeking past media_size is allowed and simply makes the
// next Read return 0 bytes.
func (h *Handle) Seek(offset int64, whence Whence) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateOpened {
		return 0, newError(ErrNotOpen, "Seek", nil)
	}

	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = int64(h.currentOffset)
	case SeekEnd:
		base = int64(h.mediaSize)
	default:
		return 0, newError(ErrInvalidArgument, "Seek", errors.New("invalid whence"))
	}

	abs := base + offset
	if abs < 0 {
		return 0, newError(ErrInvalidArgument, "Seek", errors.New("negative absolute offset"))
	}
	h.currentOffset = uint64(abs)
	return h.currentOffset, nil
}

// SignalAbort requests that in-flight and subsequent Read calls return a
// Cancelled error at their next opportunity. Advisory, per spec §5: a
// codec invocation already decoding a block may finish that block first.
func (h *Handle) SignalAbort() {
	atomic.StoreInt32(&h.abort, 1)
}

func (h *Handle) aborted() bool {
	return atomic.LoadInt32(&h.abort) != 0
}

// SetMaxOpenHandles adjusts the sparse-bundle band pool's LRU open-handle
// cap, closing idle band files immediately if the new cap is smaller than
// the number currently open. It is a no-op for variants with only one
// backing file (Raw, SparseImage, UDIF), matching the original library's
// libmodi_handle_set_maximum_number_of_open_handles
// (original_source/libmodi/libmodi_handle.c:3949), which only touches the
// band data file IO pool when one exists and otherwise just records the
// value.
func (h *Handle) SetMaxOpenHandles(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateOpened {
		return newError(ErrNotOpen, "SetMaxOpenHandles", nil)
	}
	if n <= 0 {
		return newError(ErrInvalidArgument, "SetMaxOpenHandles", errors.New("n must be positive"))
	}
	if p := h.io.pool(); p != nil {
		if err := p.SetMaxOpenHandles(n); err != nil {
			return newError(ErrInvalidArgument, "SetMaxOpenHandles", err)
		}
	}
	return nil
}

// Close tears down every handle Open created (tracked implicitly: Raw,
// SparseImage, and UDIF each own the one *os.File they opened; a
// sparse-bundle owns every band file its pool opened), frees the segment
// list and cache, and resets current_offset, per spec §4.6's state
// machine.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateOpened {
		return newError(ErrNotOpen, "Close", nil)
	}
	err := h.io.close()
	h.io = nil
	h.segments = nil
	h.cache = nil
	h.currentOffset = 0
	h.st = stateClosed
	if err != nil {
		return newError(ErrIO, "Close", err)
	}
	return nil
}

// Read fills out with up to len(out) bytes starting at current_offset,
// advancing current_offset by the number of bytes actually served, per
// spec §4.6's read algorithm. A short read (n < len(out)) at end of media
// is not an error; Read only returns an error when nothing further could
// be copied into out this call.
func (h *Handle) Read(out []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateOpened {
		return 0, newError(ErrNotOpen, "Read", nil)
	}
	if h.aborted() {
		return 0, newError(ErrCancelled, "Read", nil)
	}
	return h.readLocked(out)
}

// readLocked implements the read algorithm of spec §4.6 against out,
// starting at current_offset, advancing it by the number of bytes served.
// Callers must already hold h.mu for writing and must have already
// checked Opened/aborted state.
func (h *Handle) readLocked(out []byte) (int, error) {
	n := len(out)
	remaining := n
	dstOff := 0

	for remaining > 0 && h.currentOffset < h.mediaSize {
		if h.aborted() {
			return n - remaining, newError(ErrCancelled, "Read", nil)
		}

		si, intra, ok := h.segments.Resolve(h.currentOffset)
		if !ok {
			break
		}
		seg := h.segments.At(si)

		take := uint64(remaining)
		if left := seg.MappedSize - intra; left < take {
			take = left
		}
		if left := h.mediaSize - h.currentOffset; left < take {
			take = left
		}
		if take == 0 {
			break
		}

		dst := out[dstOff : dstOff+int(take)]
		switch seg.Flags {
		case segment.Sparse:
			for i := range dst {
				dst[i] = 0
			}
		case segment.Compressed:
			blk, err := h.decodedBlock(si, seg)
			if err != nil {
				return n - remaining, err
			}
			copy(dst, blk[intra:intra+take])
		default:
			if _, err := h.io.readAt(seg.PhysFileIndex, int64(seg.PhysOffset+intra), dst); err != nil {
				return n - remaining, newError(ErrIO, "Read", err)
			}
		}

		h.currentOffset += take
		dstOff += int(take)
		remaining -= int(take)
	}

	return n - remaining, nil
}

// ReadAt is spec §6's positioned read_at(off, n) -> bytes: it serves up to
// n bytes starting at off without disturbing current_offset (unlike
// Read/Seek, which are stateful). Per spec §8 Property 3, the returned
// slice's length is min(n, media_size-off); reading at or past media_size
// returns an empty slice and a nil error.
func (h *Handle) ReadAt(off uint64, n int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.st != stateOpened {
		return nil, newError(ErrNotOpen, "ReadAt", nil)
	}
	if n < 0 {
		return nil, newError(ErrInvalidArgument, "ReadAt", errors.New("negative length"))
	}
	if h.aborted() {
		return nil, newError(ErrCancelled, "ReadAt", nil)
	}

	saved := h.currentOffset
	h.currentOffset = off
	defer func() { h.currentOffset = saved }()

	out := make([]byte, n)
	got, err := h.readLocked(out)
	return out[:got], err
}

// decodedBlock returns the decoded bytes for segment index si, decoding
// and caching on a miss per spec §4.5's data-block cache algorithm.
func (h *Handle) decodedBlock(si int, seg segment.Segment) ([]byte, error) {
	if blk, ok := h.cache.Get(si); ok {
		return blk, nil
	}

	scratch := make([]byte, seg.PhysSize)
	if _, err := h.io.readAt(seg.PhysFileIndex, int64(seg.PhysOffset), scratch); err != nil {
		return nil, newError(ErrIO, "Read", err)
	}

	dec, err := h.registry.ForMethod(h.method)
	if err != nil {
		return nil, wrapCodecErr("Read", err)
	}

	var out bytes.Buffer
	out.Grow(int(seg.MappedSize))
	if err := dec.Decode(bytes.NewReader(scratch), &out, seg.MappedSize); err != nil {
		return nil, wrapCodecErr("Read", err)
	}
	decoded := out.Bytes()
	h.cache.Put(si, decoded)
	return decoded, nil
}

// Describe returns a human-readable multi-line summary of the opened
// image, in the spirit of the teacher's Handler.GetComment — used by
// cmd/modiinfo.
func (h *Handle) Describe() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.st != stateOpened {
		return "", newError(ErrNotOpen, "Describe", nil)
	}
	var b bytes.Buffer
	b.WriteString("image-type: " + h.variant.String() + "\n")
	b.WriteString("media-size: " + itoa(h.mediaSize) + "\n")
	b.WriteString("segments: " + itoa(uint64(h.segments.Len())) + "\n")
	if h.method != 0 {
		b.WriteString("compression-method: " + itoa(uint64(h.method)) + "\n")
	}
	return b.String(), nil
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func wrapContainerErr(op string, err error) error {
	var cerr *container.Error
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case container.ErrMalformedHeader:
			return newError(ErrMalformedHeader, op, err)
		case container.ErrMalformedTable:
			return newError(ErrMalformedTable, op, err)
		case container.ErrOutOfBounds:
			return newError(ErrOutOfBounds, op, err)
		case container.ErrUnsupportedFormat:
			return newError(ErrUnsupportedFormat, op, err)
		}
	}
	return newError(ErrIO, op, err)
}

func wrapCodecErr(op string, err error) error {
	var cerr *codec.Error
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case codec.ErrUnsupportedFormat:
			return newError(ErrUnsupportedFormat, op, err)
		case codec.ErrMalformedData:
			return newError(ErrCompression, op, err)
		}
	}
	return newError(ErrCompression, op, err)
}
