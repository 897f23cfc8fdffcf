package bitstream

import "testing"

func TestLSBReaderMatchesByteOrder(t *testing.T) {
	t.Parallel()
	// 0b1011_0010, 0b0000_0001 -> LSB-first stream: 0,1,0,0,1,1,0,1, 1,0,...
	buf := []byte{0xB2, 0x01}
	r := NewLSBReader(buf)

	want := []uint32{0, 1, 0, 0, 1, 1, 0, 1}
	for i, w := range want {
		got, err := r.ReadBit()
		if err != nil {
			t.Fatalf("bit %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("bit %d: got %d want %d", i, got, w)
		}
	}
}

func TestLSBReaderReadBitsWidth(t *testing.T) {
	t.Parallel()
	buf := []byte{0xFF, 0x00}
	r := NewLSBReader(buf)
	v, err := r.ReadBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xFF {
		t.Fatalf("got %#x want 0xff", v)
	}
	v, err = r.ReadBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x00 {
		t.Fatalf("got %#x want 0x00", v)
	}
}

func TestLSBReaderShortBuffer(t *testing.T) {
	t.Parallel()
	r := NewLSBReader([]byte{0x01})
	if _, err := r.ReadBits(9); err != ErrShortBuffer {
		t.Fatalf("got %v want ErrShortBuffer", err)
	}
}

func TestMSBReaderMatchesByteOrder(t *testing.T) {
	t.Parallel()
	// MSB-first: 0xB2 = 1011_0010 -> bits read in that order.
	buf := []byte{0xB2}
	r := NewMSBReader(buf)
	want := []uint32{1, 0, 1, 1, 0, 0, 1, 0}
	for i, w := range want {
		got, err := r.ReadBit()
		if err != nil {
			t.Fatalf("bit %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("bit %d: got %d want %d", i, got, w)
		}
	}
}

func TestMSBReaderReadBitsWidth(t *testing.T) {
	t.Parallel()
	buf := []byte{0xAB, 0xCD}
	r := NewMSBReader(buf)
	v, err := r.ReadBits(16)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xABCD {
		t.Fatalf("got %#x want 0xabcd", v)
	}
}

func TestLSBReaderByteAlign(t *testing.T) {
	t.Parallel()
	r := NewLSBReader([]byte{0xFF, 0xAA, 0xBB})
	if _, err := r.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	r.ByteAlign()
	b, err := r.ReadAlignedBytes(2)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0xAA || b[1] != 0xBB {
		t.Fatalf("got %x want aa bb", b)
	}
}
