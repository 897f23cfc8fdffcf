package codec

import (
	"errors"
	"io"
)

// LZFSEDecoder is a clean UnsupportedFormat stub: no Go LZFSE decoder is
// available anywhere in the retrieval pack or the wider ecosystem this
// library was built from, matching the teacher's own LzfseDecoder
// placeholder. Per spec's error-handling design, this must fail loudly and
// specifically rather than silently falling back to another codec.
type LZFSEDecoder struct{}

var errLZFSEUnsupported = errors.New("lzfse decoding is not implemented")

// Decode implements Decoder; it always fails.
func (LZFSEDecoder) Decode(_ io.Reader, _ io.Writer, _ uint64) error {
	return unsupported("lzfse", errLZFSEUnsupported)
}
