package container

import (
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-modi/internal/codec"
	"github.com/deploymenttheory/go-modi/internal/segment"
)

func putRecord(buf []byte, offset int, entryType uint32, sectorNumber, sectorCount, compressedOffset, compressedLength uint64) {
	binary.BigEndian.PutUint32(buf[offset:], entryType)
	// bytes offset+4:offset+8 (comment) left zero.
	binary.BigEndian.PutUint64(buf[offset+0x08:], sectorNumber)
	binary.BigEndian.PutUint64(buf[offset+0x10:], sectorCount)
	binary.BigEndian.PutUint64(buf[offset+0x18:], compressedOffset)
	binary.BigEndian.PutUint64(buf[offset+0x20:], compressedLength)
}

func buildMishBlob(headerSectorCount uint64, records [][5]uint64) []byte {
	buf := make([]byte, mishHeaderSize+len(records)*mishRecordSize)
	binary.BigEndian.PutUint32(buf[0:], mishSignature)
	binary.BigEndian.PutUint32(buf[4:], 1)
	binary.BigEndian.PutUint64(buf[0x10:], headerSectorCount)
	binary.BigEndian.PutUint32(buf[0xC8:], uint32(len(records)))

	for i, r := range records {
		putRecord(buf, mishHeaderSize+i*mishRecordSize, uint32(r[0]), r[1], r[2], r[3], r[4])
	}
	return buf
}

func TestParseMishTableCopyAndTerminator(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeCopy), 0, 2, 100, 1024},
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(2, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err != nil {
		t.Fatal(err)
	}
	if list.Len() != 1 {
		t.Fatalf("got %d segments, want 1", list.Len())
	}
	seg := list.At(0)
	if seg.Flags != segment.None || seg.PhysOffset != 100 || seg.MappedSize != 1024 {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestParseMishTableSparseAndCompressed(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeZero), 0, 2, 0, 0},
		{uint64(mishTypeZLIB), 2, 4, 500, 222},
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(6, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err != nil {
		t.Fatal(err)
	}
	if list.Len() != 2 {
		t.Fatalf("got %d segments, want 2", list.Len())
	}
	sparse := list.At(0)
	if sparse.Flags != segment.Sparse || sparse.MappedSize != 1024 {
		t.Fatalf("unexpected sparse segment: %+v", sparse)
	}
	compressed := list.At(1)
	if compressed.Flags != segment.Compressed || compressed.PhysOffset != 500 || compressed.PhysSize != 222 || compressed.MappedSize != 2048 {
		t.Fatalf("unexpected compressed segment: %+v", compressed)
	}
	if !method.set || method.method != codec.MethodZLIB {
		t.Fatalf("expected compression method to be observed as ZLIB, got %+v", method)
	}
}

func TestParseMishTableSkipsCommentWithoutConsumingSectors(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeComment), 0, 0, 0, 0},
		{uint64(mishTypeCopy), 0, 1, 10, 512},
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(1, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err != nil {
		t.Fatal(err)
	}
	if list.Len() != 1 {
		t.Fatalf("got %d segments, want 1 (comment entry must not produce a segment)", list.Len())
	}
}

func TestParseMishTableRejectsMixedCompressionMethods(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeZLIB), 0, 2, 0, 100},
		{uint64(mishTypeADC), 2, 2, 100, 80},
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(4, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err == nil {
		t.Fatal("expected error for mixed compression methods")
	}
}

func TestParseMishTableRejectsNonContiguousStartSector(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeCopy), 0, 2, 0, 1024},
		{uint64(mishTypeCopy), 5, 2, 1024, 1024}, // should start at sector 2, not 5
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(4, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err == nil {
		t.Fatal("expected error for non-contiguous start_sector")
	}
}

func TestParseMishTableRejectsSectorTotalMismatch(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeCopy), 0, 2, 0, 1024},
		{uint64(mishTypeEnd), 0, 0, 0, 0},
	}
	blob := buildMishBlob(99, records) // header claims 99, actual cumulative is 2

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err == nil {
		t.Fatal("expected error for sector total mismatch")
	}
}

func TestParseMishTableRejectsMissingTerminator(t *testing.T) {
	records := [][5]uint64{
		{uint64(mishTypeCopy), 0, 2, 0, 1024},
	}
	blob := buildMishBlob(2, records)

	var list segment.List
	var method compressionMethod
	if err := parseMishTable(blob, &list, &method); err == nil {
		t.Fatal("expected error for missing terminator")
	}
}
