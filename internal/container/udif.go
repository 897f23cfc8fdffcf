package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/deploymenttheory/go-modi/internal/codec"
	"github.com/deploymenttheory/go-modi/internal/segment"
	"howett.net/plist"
)

const udifTrailerSize = 512

var udifSignature = [4]byte{'k', 'o', 'l', 'y'}

// udifTrailer is the 512-byte "koly" structure at file_size-512, decoded
// via encoding/binary.Read into a packed struct. This follows the pattern
// in the teacher's internal/fileanalyzer/dmg_analyzer.go (dmgHeader),
// preferred here over internal/handlers/dmg/handler.go's manual
// GetBe64(header, 0x18)-style offset parsing of the same 512-byte
// structure — see DESIGN.md.
type udifTrailer struct {
	Signature          [4]byte
	FormatVersion      uint32
	HeaderSize         uint32
	Flags              uint32
	Reserved1          [8]byte
	DataForkOffset     uint64
	DataForkSize       uint64
	ResourceForkOffset uint64
	ResourceForkSize   uint64
	Reserved2          [4]byte
	NumberOfSegments   uint32
	SegmentID          [16]byte
	DataChecksumType   uint32
	DataChecksumSize   uint32
	DataChecksum       [32]uint32
	XMLPlistOffset     uint64
	XMLPlistSize       uint64
	Reserved3          [120]byte
	MasterChecksumType uint32
	MasterChecksumSize uint32
	MasterChecksum     [32]uint32
	ImageVariant       uint32
	NumberOfSectors    uint64
	Reserved4          [12]byte
}

// DetectUDIF reports whether the 512 bytes at fileSize-512 carry the
// "koly" trailer.
func DetectUDIF(r io.ReaderAt, fileSize uint64) bool {
	if fileSize < udifTrailerSize {
		return false
	}
	var sig [4]byte
	if _, err := r.ReadAt(sig[:], int64(fileSize-udifTrailerSize)); err != nil {
		return false
	}
	return sig == udifSignature
}

// dmgPlist mirrors the plist struct-tag shape from the teacher's
// fileanalyzer/dmg_analyzer.go (dmgPlist/resourceFork/blkxElement),
// preferred over internal/handlers/dmg/handler.go's hand-rolled
// XML/FindSubTag/FindKeyPair walk — that walk calls functions
// (FindSubTag, FindKeyPair, GetStringFromKeyPair) that are never defined
// anywhere in the teacher repo, so handler.go's plist branch cannot
// compile as retrieved. See DESIGN.md.
type dmgPlist struct {
	ResourceFork resourceFork `plist:"resource-fork"`
}

type resourceFork struct {
	Blkx []blkxElement `plist:"blkx"`
}

type blkxElement struct {
	ID         string      `plist:"ID"`
	Name       string      `plist:"Name"`
	Attributes interface{} `plist:"Attributes"`
	CFName     string      `plist:"CFName,omitempty"`
	Data       []byte      `plist:"Data"`
}

// ParseUDIF reads the trailer, the XML plist (if present), and every
// blkx table's mish block table, and returns the unified segment list,
// the media size, and the image-wide compression method (zero value if
// the image contains no compressed entries).
func ParseUDIF(r io.ReaderAt, fileSize uint64) (*segment.List, uint64, codec.Method, error) {
	trailerBuf := make([]byte, udifTrailerSize)
	if _, err := r.ReadAt(trailerBuf, int64(fileSize-udifTrailerSize)); err != nil {
		return nil, 0, 0, errf(ErrMalformedHeader, "udif.trailer", err)
	}

	var t udifTrailer
	if err := binary.Read(bytes.NewReader(trailerBuf), binary.BigEndian, &t); err != nil {
		return nil, 0, 0, errf(ErrMalformedHeader, "udif.trailer", err)
	}
	if t.Signature != udifSignature {
		return nil, 0, 0, errf(ErrMalformedHeader, "udif.signature", errors.New("bad signature"))
	}
	if t.NumberOfSegments > 1 {
		return nil, 0, 0, errf(ErrUnsupportedFormat, "udif.segments", errors.New("number_of_segments > 1 is not supported"))
	}

	if t.XMLPlistSize == 0 {
		var list segment.List
		list.Append(0, t.DataForkOffset, t.DataForkSize, segment.None, t.DataForkSize)
		return &list, t.DataForkSize, 0, nil
	}

	xmlBuf := make([]byte, t.XMLPlistSize)
	if _, err := r.ReadAt(xmlBuf, int64(t.XMLPlistOffset)); err != nil {
		return nil, 0, 0, errf(ErrMalformedHeader, "udif.xml_plist", err)
	}

	var doc dmgPlist
	if _, err := plist.Unmarshal(xmlBuf, &doc); err != nil {
		return nil, 0, 0, errf(ErrMalformedHeader, "udif.xml_plist", err)
	}

	var list segment.List
	var method compressionMethod
	for _, entry := range doc.ResourceFork.Blkx {
		if err := parseMishTable(entry.Data, &list, &method); err != nil {
			return nil, 0, 0, err
		}
	}

	return &list, list.TotalMappedSize(), method.method, nil
}
