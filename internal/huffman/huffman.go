// Package huffman builds canonical Huffman decode tables from a list of
// per-symbol code lengths and decodes one symbol at a time, bit by bit,
// against either bit ordering in internal/bitstream. It serves both
// DEFLATE's literal/length and distance alphabets and BZIP2's per-selector
// symbol trees.
package huffman

import (
	"errors"

	"github.com/deploymenttheory/go-modi/internal/bitstream"
)

// ErrInvalidLengths is returned by New when a code length is out of range
// or the lengths over-subscribe the code space, and by Decode when the bits
// read match no code of an incomplete table.
var ErrInvalidLengths = errors.New("huffman: invalid code lengths")

// maxBits bounds the code length alphabet this package supports; DEFLATE
// caps at 15, BZIP2 at 20, so 24 leaves headroom without growing the
// per-length tables unreasonably.
const maxBits = 24

// Decoder is a canonical Huffman code, built once from a length table and
// then reused to decode any number of symbols.
type Decoder struct {
	// symbols lists every coded symbol ordered the way the canonical
	// construction assigns codes: first by length, then by original
	// symbol index within a length.
	symbols []int
	// firstCode[n] is the first n-bit code value assigned, firstSymbol[n]
	// is the index into symbols where that length's symbols begin, and
	// count[n] is how many symbols have length n.
	firstCode   [maxBits + 1]uint32
	firstSymbol [maxBits + 1]int
	count       [maxBits + 1]int
	maxLen      int
}

// New builds a Decoder from codeLengths, indexed by symbol; a length of 0
// means the symbol is unused. This implements the standard canonical
// construction: count codes per length, derive the first code of each
// length from the previous length's range, then walk symbols in order
// assigning consecutive codes within each length bucket.
func New(codeLengths []int) (*Decoder, error) {
	d := &Decoder{}

	for _, l := range codeLengths {
		if l < 0 || l > maxBits {
			return nil, ErrInvalidLengths
		}
		if l > 0 {
			d.count[l]++
			if l > d.maxLen {
				d.maxLen = l
			}
		}
	}

	total := 0
	for _, c := range d.count {
		total += c
	}
	if total == 0 {
		return d, nil
	}

	// Starting code value for each length: code(len) = (code(len-1) +
	// count(len-1)) << 1.
	code := uint32(0)
	for l := 1; l <= maxBits; l++ {
		code = (code + uint32(d.count[l-1])) << 1
		d.firstCode[l] = code
	}

	// Reject over-subscribed codes (more symbols at a length than the
	// bit space allows). Under-subscribed (incomplete) codes are accepted
	// whatever their symbol count, e.g. DEFLATE's fixed distance table of
	// 30 five-bit codes; an unassigned bit sequence fails in Decode.
	if total > 1 {
		maxCode := d.firstCode[d.maxLen] + uint32(d.count[d.maxLen])
		if maxCode > uint32(1)<<uint(d.maxLen) {
			return nil, ErrInvalidLengths
		}
	}

	offset := make([]int, maxBits+1)
	running := 0
	for l := 1; l <= maxBits; l++ {
		d.firstSymbol[l] = running
		offset[l] = running
		running += d.count[l]
	}

	d.symbols = make([]int, total)
	for sym, l := range codeLengths {
		if l == 0 {
			continue
		}
		d.symbols[offset[l]] = sym
		offset[l]++
	}

	return d, nil
}

// Decode reads bits one at a time from r, accumulating a candidate code
// value and comparing it against each length's code range in turn, per
// the explicit bit-by-bit canonical decode algorithm (not a table/chunk
// lookup): this keeps the same decode routine usable unchanged for both
// bit orderings bitstream.Reader exposes.
func (d *Decoder) Decode(r bitstream.Reader) (int, error) {
	if d.maxLen == 0 {
		return 0, ErrInvalidLengths
	}

	var code uint32
	var first uint32
	for l := 1; l <= d.maxLen; l++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		code = (code << 1) | bit

		count := uint32(d.count[l])
		if code < first+count {
			return d.symbols[d.firstSymbol[l]+int(code-first)], nil
		}
		first = (first + count) << 1
	}
	return 0, ErrInvalidLengths
}
