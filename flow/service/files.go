package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileManager abstracts file URL handling for nodes that produce or consume
// files. The engine treats URLs as opaque; the owning service decides
// whether they point at local disk, object storage, or a CDN.
type FileManager interface {
	// Save stores data under a name and returns the URL to reach it.
	Save(ctx context.Context, name string, data []byte) (string, error)

	// Open retrieves the data behind a URL previously returned by Save.
	Open(ctx context.Context, url string) ([]byte, error)
}

// LocalFileManager stores files on local disk under a base directory,
// returning file:// URLs. Suitable for development and tests.
type LocalFileManager struct {
	dir string
}

// NewLocalFileManager creates the base directory if needed.
func NewLocalFileManager(dir string) (*LocalFileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating file directory: %w", err)
	}
	return &LocalFileManager{dir: dir}, nil
}

func (l *LocalFileManager) Save(_ context.Context, name string, data []byte) (string, error) {
	// Flatten any path separators; names are identifiers, not paths.
	name = filepath.Base(name)
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("saving file %q: %w", name, err)
	}
	return "file://" + path, nil
}

func (l *LocalFileManager) Open(_ context.Context, url string) ([]byte, error) {
	path := strings.TrimPrefix(url, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", url, err)
	}
	return data, nil
}
