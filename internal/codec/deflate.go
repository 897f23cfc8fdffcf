package codec

import (
	"errors"
	"io"

	"github.com/deploymenttheory/go-modi/internal/bitstream"
	"github.com/deploymenttheory/go-modi/internal/huffman"
)

// DeflateDecoder implements RFC 1951 DEFLATE on top of internal/bitstream's
// LSBReader and internal/huffman's canonical decoder, grounded on the
// block-type dispatch and length/distance extra-bits tables used by
// stdlib's own compress/flate (and its from-scratch reimplementation seen
// in the retrieval pack) but re-expressed over this package's own bit
// reader and Huffman decoder rather than reusing compress/flate directly,
// since building those two primitives is this library's explicit scope.
type DeflateDecoder struct{}

// Decode implements Decoder.
func (DeflateDecoder) Decode(r io.Reader, w io.Writer, unpSize uint64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return malformed("deflate", err)
	}
	out, err := inflate(buf, unpSize)
	if err != nil {
		return malformed("deflate", err)
	}
	if uint64(len(out)) != unpSize {
		return malformed("deflate", ErrSizeMismatch)
	}
	_, err = w.Write(out)
	if err != nil {
		return malformed("deflate", err)
	}
	return nil
}

// lengthBase and lengthExtra give, for length codes 257..285 (indexed
// 0..28), the base length and number of extra bits per RFC 1951 §3.2.5.
var lengthBase = [29]uint32{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}
var lengthExtra = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// distBase and distExtra give, for distance codes 0..29, the base distance
// and number of extra bits.
var distBase = [30]uint32{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513,
	769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}
var distExtra = [30]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the order code-length-of-code-length entries appear
// in a dynamic Huffman block header (RFC 1951 §3.2.7).
var codeLengthOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

var errBadBlockType = errors.New("invalid deflate block type")
var errBadCodeLengths = errors.New("invalid huffman code length sequence")

func inflate(src []byte, sizeHint uint64) ([]byte, error) {
	r := bitstream.NewLSBReader(src)
	out := make([]byte, 0, sizeHint)

	for {
		final, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		btype, err := r.ReadBits(2)
		if err != nil {
			return nil, err
		}

		switch btype {
		case 0: // stored
			r.ByteAlign()
			hdr, err := r.ReadAlignedBytes(4)
			if err != nil {
				return nil, err
			}
			length := int(hdr[0]) | int(hdr[1])<<8
			nlength := int(hdr[2]) | int(hdr[3])<<8
			if length^nlength != 0xFFFF {
				return nil, errBadBlockType
			}
			data, err := r.ReadAlignedBytes(length)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)

		case 1: // fixed huffman
			lit, dist := fixedHuffmanDecoders()
			out, err = inflateBlock(r, out, lit, dist)
			if err != nil {
				return nil, err
			}

		case 2: // dynamic huffman
			lit, dist, err := readDynamicHuffmanHeader(r)
			if err != nil {
				return nil, err
			}
			out, err = inflateBlock(r, out, lit, dist)
			if err != nil {
				return nil, err
			}

		default:
			return nil, errBadBlockType
		}

		if final == 1 {
			return out, nil
		}
	}
}

func inflateBlock(r *bitstream.LSBReader, out []byte, lit, dist *huffman.Decoder) ([]byte, error) {
	for {
		sym, err := lit.Decode(r)
		if err != nil {
			return nil, err
		}
		switch {
		case sym < 256:
			out = append(out, byte(sym))
		case sym == 256:
			return out, nil
		default:
			idx := sym - 257
			if idx >= len(lengthBase) {
				return nil, errBadBlockType
			}
			length := lengthBase[idx]
			if lengthExtra[idx] > 0 {
				extra, err := r.ReadBits(lengthExtra[idx])
				if err != nil {
					return nil, err
				}
				length += extra
			}

			dsym, err := dist.Decode(r)
			if err != nil {
				return nil, err
			}
			if dsym >= len(distBase) {
				return nil, errBadBlockType
			}
			distance := distBase[dsym]
			if distExtra[dsym] > 0 {
				extra, err := r.ReadBits(distExtra[dsym])
				if err != nil {
					return nil, err
				}
				distance += extra
			}

			if uint64(distance) > uint64(len(out)) {
				return nil, errors.New("distance exceeds output so far")
			}
			start := len(out) - int(distance)
			for i := uint32(0); i < length; i++ {
				out = append(out, out[start+int(i)])
			}
		}
	}
}

func fixedHuffmanDecoders() (*huffman.Decoder, *huffman.Decoder) {
	litLengths := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLengths[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLengths[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLengths[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLengths[i] = 8
	}
	lit, _ := huffman.New(litLengths)

	distLengths := make([]int, 30)
	for i := range distLengths {
		distLengths[i] = 5
	}
	dist, _ := huffman.New(distLengths)

	return lit, dist
}

func readDynamicHuffmanHeader(r *bitstream.LSBReader) (*huffman.Decoder, *huffman.Decoder, error) {
	hlit, err := r.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := r.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := r.ReadBits(4)
	if err != nil {
		return nil, nil, err
	}

	nlit := int(hlit) + 257
	ndist := int(hdist) + 1
	nclen := int(hclen) + 4

	clLengths := make([]int, 19)
	for i := 0; i < nclen; i++ {
		v, err := r.ReadBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLengths[codeLengthOrder[i]] = int(v)
	}
	clDecoder, err := huffman.New(clLengths)
	if err != nil {
		return nil, nil, err
	}

	lengths := make([]int, nlit+ndist)
	for i := 0; i < len(lengths); {
		sym, err := clDecoder.Decode(r)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			lengths[i] = sym
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, errBadCodeLengths
			}
			n, err := r.ReadBits(2)
			if err != nil {
				return nil, nil, err
			}
			repeat := int(n) + 3
			for j := 0; j < repeat && i < len(lengths); j++ {
				lengths[i] = lengths[i-1]
				i++
			}
		case sym == 17:
			n, err := r.ReadBits(3)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 3
		case sym == 18:
			n, err := r.ReadBits(7)
			if err != nil {
				return nil, nil, err
			}
			i += int(n) + 11
		default:
			return nil, nil, errBadCodeLengths
		}
	}

	litDecoder, err := huffman.New(lengths[:nlit])
	if err != nil {
		return nil, nil, err
	}
	distDecoder, err := huffman.New(lengths[nlit:])
	if err != nil {
		return nil, nil, err
	}
	return litDecoder, distDecoder, nil
}
