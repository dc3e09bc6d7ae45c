// Package imagestore persists extracted image payloads under stable
// filenames and serves them back.
package imagestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that are empty or not a plain file name.
var ErrInvalidName = errors.New("invalid image name")

// Store saves and opens image payloads by filename. Implementations must be
// safe for concurrent use with distinct names.
type Store interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, error)
}

// DirStore keeps images as files in a single directory.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. The directory is created on
// first Save.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the output directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// Save writes data to dir/name via a temporary file and returns name.
func (s *DirStore) Save(name string, data []byte) (_ string, err error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".img-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return "", fmt.Errorf("write image %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close image %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("rename image %s: %w", name, err)
	}
	return name, nil
}

// Open returns the payload stored under name.
func (s *DirStore) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, name))
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
