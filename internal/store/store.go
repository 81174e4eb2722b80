// Package store maps wire filenames onto a directory on the local
// filesystem. Both the server sessions and the client use it, so GET and PUT
// materialize files the same way on either end.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/1ureka/fileshare/internal/protocol"
)

// partialPrefix marks in-flight transfers; such files are hidden from List.
const partialPrefix = ".fileshare-"

// ErrOutsideRoot is returned for names that would resolve outside the root.
var ErrOutsideRoot = errors.New("name escapes the shared directory")

// Store is a directory whose files can be listed, read and written by name.
// It holds no mutable state and is safe for concurrent use; concurrent writes
// to the same name race at the filesystem level (last rename wins).
type Store struct {
	root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

// Resolve converts a wire name into a path below the root.
func (s *Store) Resolve(name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return filepath.Join(s.root, local), nil
}

// Open opens the named regular file and returns it with its size. Missing
// files, directories and names outside the root all report
// protocol.ErrFileNotFound.
func (s *Store) Open(name string) (*os.File, uint64, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", protocol.ErrFileNotFound, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, 0, fmt.Errorf("%w: %s", protocol.ErrFileNotFound, name)
		}
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", protocol.ErrFileNotFound, name)
	}

	return f, uint64(info.Size()), nil
}

// Save reads exactly size bytes from r into the named file, using buf for
// the chunked copy. The data lands in a temporary file first and replaces
// the target only once all bytes have arrived, so an interrupted transfer
// leaves any existing file untouched.
//
// When the file cannot be created the payload is still consumed, so the
// stream stays aligned on the next request. A *protocol.ConnectionError
// means the stream itself failed.
func (s *Store) Save(name string, r io.Reader, size uint64, buf []byte) error {
	if size > math.MaxInt64 {
		return fmt.Errorf("%w: file size %d exceeds the supported maximum", protocol.ErrMalformedField, size)
	}

	tmp, path, err := s.createPartial(name)
	if err != nil {
		if derr := Discard(r, size, buf); derr != nil {
			return derr
		}
		return err
	}
	defer func() {
		// No-op once the rename succeeded.
		os.Remove(tmp.Name())
	}()

	n, err := io.CopyBuffer(tmp, io.LimitReader(r, int64(size)), buf)
	if err == nil && uint64(n) < size {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		tmp.Close()
		return &protocol.ConnectionError{
			Op:  fmt.Sprintf("receive %s (%d of %d bytes)", name, n, size),
			Err: err,
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

// createPartial opens the temporary file that receives the data for name.
func (s *Store) createPartial(name string) (*os.File, string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*.part")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	return tmp, path, nil
}

// Discard consumes size bytes from r without storing them. It keeps the
// stream aligned after a PUT that cannot be stored.
func Discard(r io.Reader, size uint64, buf []byte) error {
	if size > math.MaxInt64 {
		return fmt.Errorf("%w: file size %d exceeds the supported maximum", protocol.ErrMalformedField, size)
	}
	n, err := io.CopyBuffer(io.Discard, io.LimitReader(r, int64(size)), buf)
	if err == nil && uint64(n) < size {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return &protocol.ConnectionError{Op: "discard payload", Err: err}
	}
	return nil
}

// List returns the entries of the root directory sorted by name.
// Directories carry a trailing slash.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// FormatListing joins entries into the LIST response text.
func FormatListing(entries []string) string {
	return strings.Join(entries, "\n")
}

// ParseListing splits a LIST response text back into entries.
func ParseListing(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
