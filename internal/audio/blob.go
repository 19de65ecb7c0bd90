// ABOUTME: Blob abstracts the byte store behind the audio manager.
// ABOUTME: The filesystem implementation writes flat files under a single directory.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Blob is the backing store for audio payloads and their sidecars.
// Names are flat identifiers, never paths.
type Blob interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// FSBlob stores blobs as files in a single directory.
type FSBlob struct {
	root string
}

// NewFSBlob creates the directory if needed and returns a filesystem blob store.
func NewFSBlob(root string) (*FSBlob, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &FSBlob{root: root}, nil
}

func (b *FSBlob) Write(_ context.Context, name string, data []byte) error {
	return os.WriteFile(filepath.Join(b.root, name), data, 0o644)
}

func (b *FSBlob) Read(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.root, name))
}

func (b *FSBlob) Delete(_ context.Context, name string) error {
	return os.Remove(filepath.Join(b.root, name))
}

func (b *FSBlob) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
