package persist

import (
	"os"
	"path/filepath"
	"strings"
)

// FileSystem is the durable storage used by a Store.
type FileSystem interface {
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces the file at path. Readers never see a partial file.
	WriteFile(path string, data []byte) error
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
}

// OSFS implements FileSystem on the real file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes through a temporary file and renames it into place.
func (OSFS) WriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// MkdirAll creates dir and any missing parents.
func (OSFS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ValidateName rejects addon names that would escape the data directory.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"),
		strings.ContainsRune(name, filepath.Separator),
		filepath.VolumeName(name) != "":
		return ErrInvalidName
	}
	return nil
}
