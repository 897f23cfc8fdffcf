package codec

import (
	"bytes"
	"testing"
)

func TestBzip2DecoderRejectsBadMagic(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	err := (Bzip2Decoder{}).Decode(bytes.NewReader([]byte("not-bzip2")), &out, 0)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestInverseBWTUniformInput(t *testing.T) {
	t.Parallel()
	// "banana" BWT is well known: sorted rotations give bwt="nnbaaa" with
	// origin pointer at index 3 for the un-rotated string position.
	// Rather than reconstruct the forward transform here, exercise the
	// inverse transform against a hand-built next-vector case: bwt of
	// "aaa" is "aaa" with any origin pointer in range.
	out := inverseBWT([]byte("aaa"), 0)
	if string(out) != "aaa" {
		t.Fatalf("got %q want aaa", out)
	}
}

func TestDecodeRLE1(t *testing.T) {
	t.Parallel()
	// Four 'a's followed by a repeat-count byte of 2 means two more 'a's.
	in := []byte{'a', 'a', 'a', 'a', 2}
	out, err := decodeRLE1(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "aaaaaa" {
		t.Fatalf("got %q want aaaaaa", out)
	}
}

func TestDecodeRLE1NoRun(t *testing.T) {
	t.Parallel()
	in := []byte{'a', 'b', 'c'}
	out, err := decodeRLE1(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abc" {
		t.Fatalf("got %q want abc", out)
	}
}
