package iofacade

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSingleReadAt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "band")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenSingle(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if sz, err := s.Size(); err != nil || sz != 11 {
		t.Fatalf("got size=%d err=%v", sz, err)
	}

	buf := make([]byte, 5)
	n, err := s.ReadAt(6, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "world" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestPoolMissingSlotIsNotAnError(t *testing.T) {
	t.Parallel()
	p := NewPool(3, 2)
	sz, err := p.Size(1)
	if err != nil {
		t.Fatal(err)
	}
	if sz != 0 {
		t.Fatalf("got size %d want 0 for unattached slot", sz)
	}
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := NewPool(3, 2)
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(path, []byte{byte('A' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := p.Attach(i, path, 1); err != nil {
			t.Fatal(err)
		}
	}

	buf := make([]byte, 1)
	for _, idx := range []int{0, 1, 2} {
		if _, err := p.ReadAt(idx, 0, buf); err != nil {
			t.Fatal(err)
		}
	}
	// Reading slot 0 again should still work after an on-demand reopen.
	if _, err := p.ReadAt(0, 0, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "A" {
		t.Fatalf("got %q want A", buf)
	}
}

func TestPoolClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "band0")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPool(1, 1)
	if err := p.Attach(0, path, 1); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := p.ReadAt(0, 0, buf); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
