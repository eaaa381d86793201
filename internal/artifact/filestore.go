package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// Storage persists artifact bytes and returns a reference to them.
type Storage interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// FileStore writes artifacts into a directory that is served statically.
type FileStore struct {
	Dir string
	// URLPrefix is prepended to the file name to form the reference,
	// "/" when empty.
	URLPrefix string
}

// NewFileStore ensures dir exists.
func NewFileStore(dir, urlPrefix string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{Dir: dir, URLPrefix: urlPrefix}, nil
}

// Put replaces name atomically so readers never observe a partial file.
func (s *FileStore) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	target := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit artifact: %w", err)
	}

	prefix := s.URLPrefix
	if prefix == "" {
		prefix = "/"
	}
	return path.Join(prefix, name), nil
}
