package upload

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrTooLarge = errors.New("upload exceeds size limit")

// Store writes uploaded files into a directory under collision-free names.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates dir if needed. maxBytes <= 0 disables the size limit.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("uploads dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create uploads dir %s", dir)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string { return s.dir }

// AbsDir returns the absolute uploads directory, falling back to Dir.
func (s *Store) AbsDir() string {
	abs, err := filepath.Abs(s.dir)
	if err != nil {
		return s.dir
	}
	return abs
}

// Save copies r into a new file named "<uuid>_<base name>" and returns its path
// and size.
func (s *Store) Save(name string, r io.Reader) (string, int64, error) {
	base := sanitizeName(name)
	path := filepath.Join(s.dir, uuid.NewString()+"_"+base)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, errors.Wrap(err, "create upload file")
	}
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", 0, err
		}
		return "", 0, errors.Wrap(err, "write upload file")
	}
	return path, n, nil
}

// sanitizeName keeps only the final path element so a client cannot escape the directory.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "upload"
	}
	return base
}
