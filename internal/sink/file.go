package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File writes the plaintext to a local file.
type File struct {
	path string
	f    *os.File

	once     sync.Once
	closeErr error
}

// NewFile creates path, truncating an existing file only when overwrite is set.
// The parent directory is created if missing.
func NewFile(path string, overwrite bool) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("output file already exists: %s (use --overwrite)", path)
		}
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &File{path: path, f: f}, nil
}

func (s *File) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Close syncs and closes the file.
func (s *File) Close() error {
	s.once.Do(func() {
		syncErr := s.f.Sync()
		s.closeErr = s.f.Close()
		if s.closeErr == nil && syncErr != nil {
			s.closeErr = fmt.Errorf("failed to sync %s: %w", s.path, syncErr)
		}
	})
	return s.closeErr
}

// Abort closes the file and leaves the partial content in place.
func (s *File) Abort() error {
	s.once.Do(func() {
		s.closeErr = s.f.Close()
	})
	return nil
}

func (s *File) Location() string {
	return s.path
}
