// Package storage provides the content store for cached originals and
// derivatives.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
	"github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/types"
)

// Kind selects a storage space.
type Kind string

const (
	KindArtwork Kind = "artwork"
	KindPhoto   Kind = "photo"
)

// KindFor returns the storage space an artwork kind is stored in.
func KindFor(kind types.ArtworkKind) Kind {
	if kind == types.KindPhoto {
		return KindPhoto
	}
	return KindArtwork
}

// ContentStore persists cache files by storage kind and relative path.
type ContentStore interface {
	Store(ctx context.Context, kind Kind, relPath string, data []byte) error
	Get(ctx context.Context, kind Kind, relPath string) ([]byte, error)
	Delete(ctx context.Context, kind Kind, relPath string) error
	Exists(ctx context.Context, kind Kind, relPath string) bool
}

// FileStore keeps cache files below a root directory, one subdirectory per
// storage kind. Writes go through a temporary file and a rename so readers
// never observe partial content.
type FileStore struct {
	root   string
	logger hclog.Logger
	mutex  sync.RWMutex
}

// NewFileStore creates the root directory and returns a store on it.
func NewFileStore(root string, logger hclog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{
		root:   root,
		logger: logger.Named("content-store"),
	}, nil
}

// Root returns the base directory.
func (fs *FileStore) Root() string {
	return fs.root
}

func (fs *FileStore) fullPath(kind Kind, relPath string) (string, error) {
	clean := filepath.Clean(relPath)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid relative path %q: %w", relPath, aErrors.ErrInvalidInput)
	}
	return filepath.Join(fs.root, string(kind), clean), nil
}

// Store writes data under relPath, replacing any previous content.
func (fs *FileStore) Store(ctx context.Context, kind Kind, relPath string, data []byte) error {
	fullPath, err := fs.fullPath(kind, relPath)
	if err != nil {
		return err
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file: %w", closeErr)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	fs.logger.Debug("stored content", "kind", kind, "path", relPath, "size", len(data))
	return nil
}

// Get reads the content at relPath. A missing file yields ErrContentNotFound.
func (fs *FileStore) Get(ctx context.Context, kind Kind, relPath string) ([]byte, error) {
	fullPath, err := fs.fullPath(kind, relPath)
	if err != nil {
		return nil, err
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", kind, relPath, aErrors.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	return data, nil
}

// Delete removes the content at relPath. Missing files are not an error.
func (fs *FileStore) Delete(ctx context.Context, kind Kind, relPath string) error {
	fullPath, err := fs.fullPath(kind, relPath)
	if err != nil {
		return err
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove content file: %w", err)
	}

	fs.cleanupEmptyDirs(filepath.Dir(fullPath), filepath.Join(fs.root, string(kind)))
	return nil
}

// Exists reports whether content is present at relPath.
func (fs *FileStore) Exists(ctx context.Context, kind Kind, relPath string) bool {
	fullPath, err := fs.fullPath(kind, relPath)
	if err != nil {
		return false
	}

	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	_, err = os.Stat(fullPath)
	return err == nil
}

// cleanupEmptyDirs walks up from dir removing empty shard directories.
func (fs *FileStore) cleanupEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			fs.logger.Warn("failed to remove empty directory", "dir", dir, "error", err)
			return
		}
		dir = filepath.Dir(dir)
	}
}
