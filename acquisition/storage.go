package acquisition

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage is the filesystem surface the scheduler needs. Existence checks are
// the only coordination between workers.
type Storage interface {
	Exists(path string) (bool, error)
	Rename(from, to string) error
	Remove(path string) error
	ReadDir(dir string) ([]string, error)
	MkdirAll(dir string) error
	// CreateTemp opens a new uniquely named file in dir.
	CreateTemp(dir, pattern string) (io.WriteCloser, string, error)
}

type OSStorage struct{}

func (OSStorage) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (OSStorage) Rename(from, to string) error {
	return os.Rename(from, to)
}

func (OSStorage) Remove(path string) error {
	return os.Remove(path)
}

func (OSStorage) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (OSStorage) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func (OSStorage) CreateTemp(dir, pattern string) (io.WriteCloser, string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, "", err
	}
	return f, f.Name(), nil
}

// trimmed from both ends of a title to form the original file name
const titleTrimSet = "?!@#$%^&*():;"

// Sanitize turns a title into the base name of its original media file.
func Sanitize(title string) string {
	name := strings.Trim(title, titleTrimSet)
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// OriginalPath is where the full download of title is kept.
func OriginalPath(dir, title, ext string) string {
	return filepath.Join(dir, Sanitize(title)+"."+ext)
}

// CountClips counts files with extension ext in dir. A missing dir has none.
func CountClips(storage Storage, dir, ext string) (int, error) {
	names, err := storage.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, name := range names {
		if strings.HasSuffix(name, "."+ext) {
			n++
		}
	}
	return n, nil
}
