package container

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/deploymenttheory/go-modi/internal/segment"
)

// writeBundle lays out a sparse-bundle directory whose Info.plist carries
// bandSize and mediaSize, with a full bandSize-byte bands/<k> file filled
// with present[k] for each key of present; bands not in present are left
// absent.
func writeBundle(t *testing.T, bandSize, mediaSize int, present map[int]byte) string {
	t.Helper()
	dir := t.TempDir()
	plistBody := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>band-size</key>
	<integer>` + itoa(bandSize) + `</integer>
	<key>size</key>
	<integer>` + itoa(mediaSize) + `</integer>
	<key>diskimage-bundle-type</key>
	<string>com.apple.diskimage.sparsebundle</string>
</dict>
</plist>`
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), []byte(plistBody), 0o644); err != nil {
		t.Fatal(err)
	}
	bandsDir := filepath.Join(dir, "bands")
	if err := os.MkdirAll(bandsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for k, fill := range present {
		buf := bytes.Repeat([]byte{fill}, bandSize)
		if err := os.WriteFile(filepath.Join(bandsDir, hex(k)), buf, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func hex(n int) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%16]}, out...)
		n /= 16
	}
	return string(out)
}

func TestParseSparseBundleScenario(t *testing.T) {
	const bandSize = 8 * 1024 * 1024
	const mediaSize = 3 * bandSize
	dir := writeBundle(t, bandSize, mediaSize, map[int]byte{0: 0xAA, 2: 0xBB})

	list, gotMediaSize, pool, err := ParseSparseBundle(dir, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if gotMediaSize != mediaSize {
		t.Fatalf("got media size %d, want %d", gotMediaSize, mediaSize)
	}
	if err := list.Validate(mediaSize); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// 3 bands: band0 fully present (1 segment), band1 fully sparse
	// (1 segment), band2 fully present (1 segment) = 3 segments total.
	if list.Len() != 3 {
		t.Fatalf("got %d segments, want 3", list.Len())
	}
	if list.At(0).Flags != segment.None || list.At(0).MappedSize != bandSize {
		t.Fatalf("unexpected band0 segment: %+v", list.At(0))
	}
	if list.At(1).Flags != segment.Sparse || list.At(1).MappedSize != bandSize {
		t.Fatalf("unexpected band1 segment: %+v", list.At(1))
	}
	if list.At(2).Flags != segment.None || list.At(2).MappedSize != bandSize {
		t.Fatalf("unexpected band2 segment: %+v", list.At(2))
	}

	buf := make([]byte, 4)
	if _, err := pool.ReadAt(0, 0, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xAA {
		t.Fatalf("got %x, want 0xAA", buf[0])
	}
}

func TestParseSparseBundleTruncatesLastBand(t *testing.T) {
	const bandSize = 1024
	const mediaSize = 2048 + 100 // last band only 100 bytes of real data
	dir := writeBundle(t, bandSize, mediaSize, map[int]byte{})
	// Overwrite band 2 with a short file (truncated last band).
	bandsDir := filepath.Join(dir, "bands")
	if err := os.WriteFile(filepath.Join(bandsDir, "2"), bytes.Repeat([]byte{0xCC}, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bandsDir, "0"), bytes.Repeat([]byte{0xAA}, bandSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bandsDir, "1"), bytes.Repeat([]byte{0xBB}, bandSize), 0o644); err != nil {
		t.Fatal(err)
	}

	list, gotMediaSize, pool, err := ParseSparseBundle(dir, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if gotMediaSize != mediaSize {
		t.Fatalf("got media size %d, want %d", gotMediaSize, mediaSize)
	}
	if err := list.Validate(mediaSize); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// Last band contributes exactly one 100-byte None segment, no padding
	// segment, since thisBandWant == remaining == 100 == present.
	last := list.At(list.Len() - 1)
	if last.Flags != segment.None || last.MappedSize != 100 {
		t.Fatalf("unexpected final segment: %+v", last)
	}
}

// TestParseSparseBundleBandsDirOverride covers the Go equivalent of the
// original library's libmodi_handle_set_band_data_files_path: a bundle
// whose band files live somewhere other than "<dirPath>/bands" must still
// open correctly when that location is passed explicitly.
func TestParseSparseBundleBandsDirOverride(t *testing.T) {
	const bandSize = 1024
	const mediaSize = 2 * bandSize
	dir := writeBundle(t, bandSize, mediaSize, map[int]byte{})

	// Remove the default bands/ directory entirely and place the band
	// files in an unrelated location instead.
	if err := os.RemoveAll(filepath.Join(dir, "bands")); err != nil {
		t.Fatal(err)
	}
	altDir := filepath.Join(t.TempDir(), "elsewhere")
	if err := os.MkdirAll(altDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(altDir, "0"), bytes.Repeat([]byte{0xDD}, bandSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(altDir, "1"), bytes.Repeat([]byte{0xEE}, bandSize), 0o644); err != nil {
		t.Fatal(err)
	}

	// Against the default bands/ location (now removed), every band is
	// missing and therefore sparse — a missing band is not an error per
	// spec §7, so this must still succeed, just with all-zero segments.
	defaultList, _, defaultPool, err := ParseSparseBundle(dir, 2, "")
	if err != nil {
		t.Fatalf("ParseSparseBundle against removed default bands dir: %v", err)
	}
	defaultPool.Close()
	for i := 0; i < defaultList.Len(); i++ {
		if defaultList.At(i).Flags != segment.Sparse {
			t.Fatalf("segment %d: want Sparse against removed default bands dir, got %+v", i, defaultList.At(i))
		}
	}

	list, gotMediaSize, pool, err := ParseSparseBundle(dir, 2, altDir)
	if err != nil {
		t.Fatalf("ParseSparseBundle with bandsDirOverride: %v", err)
	}
	defer pool.Close()
	if gotMediaSize != mediaSize {
		t.Fatalf("got media size %d, want %d", gotMediaSize, mediaSize)
	}
	buf := make([]byte, 1)
	if _, err := pool.ReadAt(0, 0, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xDD {
		t.Fatalf("got %x, want 0xDD", buf[0])
	}
	if _, err := pool.ReadAt(1, 0, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xEE {
		t.Fatalf("got %x, want 0xEE", buf[0])
	}
}
