package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileGrowAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	f, openErr := Open(path, false)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer f.Close()

	if growErr := f.Grow(100); growErr != nil {
		t.Fatalf("grow: %s", growErr)
	}

	if f.Size() < 100 {
		t.Fatalf("expected size >= 100, got %d", f.Size())
	}

	copy(f.Address()[0:5], []byte("hello"))
	if flushErr := f.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("read file: %s", readErr)
	}

	if !bytes.Equal(raw[0:5], []byte("hello")) {
		t.Fatalf("file contents not flushed: %q", raw[0:5])
	}
}

func TestFileGrowIsGeometric(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	f, openErr := Open(path, false)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer f.Close()

	if growErr := f.Grow(1); growErr != nil {
		t.Fatalf("grow: %s", growErr)
	}

	first := f.Size()
	if growErr := f.Grow(first + 1); growErr != nil {
		t.Fatalf("grow: %s", growErr)
	}

	if f.Size() < first*2 {
		t.Fatalf("expected geometric growth, got %d from %d", f.Size(), first)
	}
}

func TestFileResizeToExactShrinksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	f, openErr := Open(path, false)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer f.Close()

	if growErr := f.Grow(1000); growErr != nil {
		t.Fatalf("grow: %s", growErr)
	}

	if resizeErr := f.Resize(42); resizeErr != nil {
		t.Fatalf("resize: %s", resizeErr)
	}

	if f.Size() != 42 {
		t.Fatalf("expected exact size 42, got %d", f.Size())
	}
}

func TestFileReadOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	f, openErr := Open(path, false)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer f.Close()

	if resizeErr := f.Resize(10); resizeErr != nil {
		t.Fatalf("resize: %s", resizeErr)
	}

	dst := make([]byte, 5)
	if readErr := f.Read(8, 5, dst); readErr == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}
