package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"connsync/internal/connectors"
)

// fileBackend stores blobs as files below root:
//
//	<root>/
//	  <workspace>/<data source>/<artifact>/<id>.json
type fileBackend struct {
	root string
}

// NewFileSystemStore creates a BlobStore rooted at the given directory.
func NewFileSystemStore(root string, clock connectors.Clock, enc connectors.Encryptor) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create docstore root: %w", err)
	}
	return newBlobStore(&fileBackend{root: root}, clock, enc), nil
}

func (b *fileBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// put writes data using an atomic write (temp file + rename).
func (b *fileBackend) put(ctx context.Context, key string, data []byte) error {
	destPath := b.path(key)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Same directory so the rename cannot cross filesystems.
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, bytes.NewReader(data))
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != int64(len(data)) {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", len(data), written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func (b *fileBackend) get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (b *fileBackend) remove(ctx context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// ping verifies that the root is a writable directory.
func (b *fileBackend) ping(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("docstore root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("docstore root is not a directory: %s", b.root)
	}
	probe, err := os.CreateTemp(b.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("docstore root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
