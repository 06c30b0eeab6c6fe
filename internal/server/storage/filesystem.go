package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tempPrefix marks in-flight writes. Sanitized names never start with a
// dot, so these can not clash with artifacts.
const tempPrefix = ".partial-"

// FileSystemStore stores artifacts as flat files in one directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// Root returns the storage directory.
func (fs *FileSystemStore) Root() string {
	return fs.basePath
}

// Reset removes the storage directory with everything in it and creates it
// again empty.
func (fs *FileSystemStore) Reset(ctx context.Context) error {
	if err := os.RemoveAll(fs.basePath); err != nil {
		return fmt.Errorf("failed to purge storage directory %s: %w", fs.basePath, err)
	}
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save streams data into a temporary file and renames it into place once
// the copy completed, so readers never observe a partial artifact.
func (fs *FileSystemStore) Save(ctx context.Context, name string, data io.Reader) (Object, error) {
	name = SanitizeFilename(name)

	tmp, err := os.CreateTemp(fs.basePath, tempPrefix+"*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	src := newChecksumReader(data)
	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: src})
	if err != nil {
		return Object{}, fmt.Errorf("failed to write file %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to close file %s: %w", name, err)
	}

	finalPath := fs.filePath(name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Object{}, fmt.Errorf("failed to move file into place %s: %w", finalPath, err)
	}
	committed = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to stat file %s: %w", finalPath, err)
	}

	return Object{
		Name:     name,
		Size:     n,
		Checksum: src.Sum(),
		ModTime:  info.ModTime(),
	}, nil
}

// Open returns a reader for a stored artifact.
func (fs *FileSystemStore) Open(ctx context.Context, name string) (io.ReadCloser, Object, error) {
	if !validName(name) {
		return nil, Object{}, ErrNotFound
	}

	f, err := os.Open(fs.filePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("failed to open file %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("failed to stat file %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, Object{}, ErrNotFound
	}

	return f, Object{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Stat returns metadata for a stored artifact.
func (fs *FileSystemStore) Stat(ctx context.Context, name string) (Object, error) {
	if !validName(name) {
		return Object{}, ErrNotFound
	}

	info, err := os.Stat(fs.filePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("failed to stat file %s: %w", name, err)
	}
	if info.IsDir() {
		return Object{}, ErrNotFound
	}
	return Object{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Remove deletes a stored artifact.
func (fs *FileSystemStore) Remove(ctx context.Context, name string) error {
	if !validName(name) {
		return nil
	}
	filePath := fs.filePath(name)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Usage counts the artifacts in the storage directory, skipping in-flight
// writes.
func (fs *FileSystemStore) Usage(ctx context.Context) (Usage, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to list storage directory: %w", err)
	}

	var u Usage
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		u.Files++
		u.Bytes += info.Size()
	}
	return u, nil
}

// Ping checks that the storage directory is present.
func (fs *FileSystemStore) Ping(ctx context.Context) error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", fs.basePath)
	}
	return nil
}

func (fs *FileSystemStore) filePath(name string) string {
	return filepath.Join(fs.basePath, name)
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
