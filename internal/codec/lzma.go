package codec

import (
	"errors"
	"io"

	"github.com/ulikunitz/xz"
)

// LZMADecoder wraps github.com/ulikunitz/xz, exactly as the teacher's own
// XzDecoder does in internal/handlers/dmg/decoder.go — the teacher's
// go.mod lists github.com/xi2/xz, but no file in that repo actually
// imports it; decoder.go imports ulikunitz/xz directly, so that's the
// dependency this package keeps (see DESIGN.md).
type LZMADecoder struct{}

// Decode implements Decoder.
func (LZMADecoder) Decode(r io.Reader, w io.Writer, unpSize uint64) error {
	xr, err := xz.NewReader(r)
	if err != nil {
		return malformed("lzma", err)
	}
	written, err := io.CopyN(w, xr, int64(unpSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return malformed("lzma", err)
	}
	if written != int64(unpSize) {
		return malformed("lzma", ErrSizeMismatch)
	}
	return nil
}
