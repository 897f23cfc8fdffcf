package codec

import "errors"

// Method identifies a segment's compression method, using the same
// numeric values UDIF's mish block table and the teacher's constants.go
// assign them.
type Method uint32

const (
	MethodZero       Method = 0x00000000
	MethodCopy       Method = 0x00000001
	MethodZero2      Method = 0x00000002
	MethodADC        Method = 0x80000004
	MethodZLIB       Method = 0x80000005
	MethodBZIP2      Method = 0x80000006
	MethodLZFSE      Method = 0x80000007
	MethodLZMA       Method = 0x80000008
	MethodComment    Method = 0x7FFFFFFE
	MethodTerminator Method = 0xFFFFFFFF
)

var errUnsupportedMethod = errors.New("unsupported compression method")

// Registry dispatches a Method to its Decoder. Adapted from the teacher's
// DecoderRegistry/GetDecoder, extended with the DEFLATE-backed ZlibDecoder
// and Bzip2Decoder this package builds itself instead of delegating to
// compress/zlib and compress/bzip2.
type Registry struct {
	zero  ZeroDecoder
	copy  CopyDecoder
	adc   ADCDecoder
	zlib  ZlibDecoder
	bzip2 Bzip2Decoder
	lzfse LZFSEDecoder
	lzma  LZMADecoder
}

// NewRegistry returns a ready-to-use Registry. It holds no mutable state,
// so a single instance may be shared across concurrent segment reads.
func NewRegistry() *Registry {
	return &Registry{}
}

// ForMethod returns the Decoder responsible for m.
func (reg *Registry) ForMethod(m Method) (Decoder, error) {
	switch m {
	case MethodZero, MethodZero2:
		return reg.zero, nil
	case MethodCopy:
		return reg.copy, nil
	case MethodADC:
		return reg.adc, nil
	case MethodZLIB:
		return reg.zlib, nil
	case MethodBZIP2:
		return reg.bzip2, nil
	case MethodLZFSE:
		return reg.lzfse, nil
	case MethodLZMA:
		return reg.lzma, nil
	default:
		return nil, &Error{Kind: ErrUnsupportedFormat, Op: "registry", Err: errUnsupportedMethod}
	}
}

// IsCompressed reports whether m requires a decoder pass at all, as
// opposed to zero-fill or a direct copy.
func (m Method) IsCompressed() bool {
	switch m {
	case MethodADC, MethodZLIB, MethodBZIP2, MethodLZFSE, MethodLZMA:
		return true
	default:
		return false
	}
}
