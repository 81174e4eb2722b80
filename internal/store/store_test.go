package store_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/1ureka/fileshare/internal/protocol"
	"github.com/1ureka/fileshare/internal/store"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("hello"))
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	s := store.New(dir)

	f, size, err := s.Open("a.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.Close()
	if size != 5 {
		t.Errorf("size mismatch: got %d, want 5", size)
	}

	for _, name := range []string{"missing.txt", "sub", "../a.txt", "/etc/passwd"} {
		if _, _, err := s.Open(name); !errors.Is(err, protocol.ErrFileNotFound) {
			t.Errorf("Open(%q): got %v, want ErrFileNotFound", name, err)
		}
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	buf := make([]byte, 16)

	data := bytes.Repeat([]byte("0123456789"), 7)
	if err := s.Save("out.bin", bytes.NewReader(data), uint64(len(data)), buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "out.bin"))
	if !bytes.Equal(got, data) {
		t.Errorf("content mismatch: got %d bytes, want %d", len(got), len(data))
	}

	// Only the declared size is consumed.
	r := bytes.NewReader([]byte("abcdefXYZ"))
	if err := s.Save("short.txt", r, 6, buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rest, _ := io.ReadAll(r)
	if string(rest) != "XYZ" {
		t.Errorf("Save consumed past the declared size, rest=%q", rest)
	}

	if err := s.Save("empty.txt", bytes.NewReader(nil), 0, buf); err != nil {
		t.Fatalf("Save of empty file failed: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "empty.txt")); err != nil || info.Size() != 0 {
		t.Errorf("empty file not created: %v", err)
	}
}

func TestSaveIncompleteKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "keep.txt")
	writeFile(t, target, []byte("original"))

	s := store.New(dir)
	err := s.Save("keep.txt", bytes.NewReader([]byte("part")), 100, make([]byte, 8))

	var connErr *protocol.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "original" {
		t.Errorf("existing file was modified: %q", got)
	}

	entries, _ := s.List()
	if !reflect.DeepEqual(entries, []string{"keep.txt"}) {
		t.Errorf("leftover partial file: %v", entries)
	}
}

func TestSaveOutsideRoot(t *testing.T) {
	s := store.New(t.TempDir())
	r := bytes.NewReader([]byte("xyz"))
	err := s.Save("../escape.txt", r, 2, make([]byte, 8))
	if !errors.Is(err, store.ErrOutsideRoot) {
		t.Errorf("got %v, want ErrOutsideRoot", err)
	}
	if r.Len() != 1 {
		t.Errorf("rejected payload not consumed: %d bytes left, want 1", r.Len())
	}
}

func TestDiscard(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))
	if err := store.Discard(r, 4, make([]byte, 3)); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if r.Len() != 6 {
		t.Errorf("Discard consumed %d bytes, want 4", 10-r.Len())
	}
	if err := store.Discard(r, 100, make([]byte, 3)); err == nil {
		t.Error("expected error for short stream")
	}
}

func TestListAndFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), nil)
	writeFile(t, filepath.Join(dir, "a.txt"), nil)
	os.Mkdir(filepath.Join(dir, "docs"), 0o755)

	entries, err := store.New(dir).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"a.txt", "b.txt", "docs/"}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("List mismatch: got %v, want %v", entries, want)
	}

	text := store.FormatListing(entries)
	if text != "a.txt\nb.txt\ndocs/" {
		t.Errorf("FormatListing mismatch: %q", text)
	}
	if !reflect.DeepEqual(store.ParseListing(text), want) {
		t.Errorf("ParseListing mismatch: %v", store.ParseListing(text))
	}
	if store.ParseListing("") != nil {
		t.Error("ParseListing of empty text should be nil")
	}
}
