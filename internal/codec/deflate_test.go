package codec

import (
	"bytes"
	"testing"
)

func TestInflateStoredBlock(t *testing.T) {
	t.Parallel()
	// BFINAL=1, BTYPE=00 (stored), then byte-align, LEN/NLEN, then data.
	// Header byte: bit0=1 (final), bits1-2=00 (stored) -> 0b001 in the
	// low 3 bits of the first byte read LSB-first: value 0x01.
	var buf bytes.Buffer
	buf.WriteByte(0x01)
	buf.Write([]byte{0x05, 0x00, 0xFA, 0xFF}) // LEN=5, NLEN=^5
	buf.WriteString("hello")

	out, err := inflate(buf.Bytes(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q want hello", out)
	}
}

func TestDeflateDecoderSizeMismatch(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteByte(0x01)
	buf.Write([]byte{0x02, 0x00, 0xFD, 0xFF})
	buf.WriteString("hi")

	var out bytes.Buffer
	err := (DeflateDecoder{}).Decode(bytes.NewReader(buf.Bytes()), &out, 5)
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}
