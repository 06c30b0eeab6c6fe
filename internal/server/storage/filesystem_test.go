package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		obj, err := store.Save(ctx, "notes.txt", strings.NewReader("test content"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if obj.Name != "notes.txt" {
			t.Errorf("expected name notes.txt, got %q", obj.Name)
		}
		if obj.Size != 12 {
			t.Errorf("expected 12 bytes written, got %d", obj.Size)
		}
		if len(obj.Checksum) != 64 {
			t.Errorf("expected 64-char hex checksum, got %q", obj.Checksum)
		}

		content, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("sanitizes the name", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		obj, err := store.Save(ctx, "../../etc/passwd", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obj.Name != "etc_passwd" {
			t.Errorf("expected etc_passwd, got %q", obj.Name)
		}
		if _, err := os.Stat(filepath.Join(dir, "etc_passwd")); err != nil {
			t.Errorf("expected file inside storage root: %v", err)
		}
	})

	t.Run("overwrites existing artifact", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if _, err := store.Save(ctx, "a.txt", strings.NewReader("first")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := store.Save(ctx, "a.txt", strings.NewReader("second")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		content, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
		if string(content) != "second" {
			t.Errorf("expected 'second', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		largeContent := strings.Repeat("x", 1024*1024)
		obj, err := store.Save(ctx, "large.bin", strings.NewReader(largeContent))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obj.Size != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), obj.Size)
		}
	})

	t.Run("leaves nothing behind on read failure", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		r := io.MultiReader(strings.NewReader("partial"), errReader{})
		if _, err := store.Save(ctx, "broken.txt", r); err == nil {
			t.Fatal("expected error from failing reader")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected empty directory, found %d entries", len(entries))
		}
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := store.Save(cctx, "c.txt", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("returns content for existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		os.WriteFile(filepath.Join(dir, "test.txt"), []byte("data"), 0644)

		rc, obj, err := store.Open(ctx, "test.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		body, _ := io.ReadAll(rc)
		if string(body) != "data" {
			t.Errorf("expected 'data', got %q", body)
		}
		if obj.Size != 4 {
			t.Errorf("expected size 4, got %d", obj.Size)
		}
	})

	t.Run("returns ErrNotFound for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if _, _, err := store.Open(ctx, "nonexistent.txt"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("opens what Save returned for a truncated name", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		obj, err := store.Save(ctx, "a."+strings.Repeat("b", 252)+"_cccc", strings.NewReader("long"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rc, _, err := store.Open(ctx, obj.Name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc.Close()

		if _, err := store.Stat(ctx, obj.Name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Remove(ctx, obj.Name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := store.Stat(ctx, obj.Name); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after remove, got %v", err)
		}
	})

	t.Run("rejects names that are not sanitized", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "files")
		os.MkdirAll(dir, 0755)
		os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0644)
		store := NewFileSystemStore(dir)

		for _, name := range []string{"../secret.txt", "", ".", "..", "a/b", ".hidden"} {
			if _, _, err := store.Open(ctx, name); !errors.Is(err, ErrNotFound) {
				t.Errorf("Open(%q): expected ErrNotFound, got %v", name, err)
			}
		}
	})
}

func TestFileSystemStore_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("removes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		filePath := filepath.Join(dir, "todelete.txt")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Remove(ctx, "todelete.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("file should have been deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Remove(ctx, "nonexistent.txt"); err != nil {
			t.Errorf("expected no error for missing file, got %v", err)
		}
	})
}

func TestFileSystemStore_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("empties the directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "storage")
		store := NewFileSystemStore(dir)
		if err := store.Reset(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		store.Save(ctx, "a.txt", strings.NewReader("a"))
		os.MkdirAll(filepath.Join(dir, "nested", "deep"), 0755)

		if err := store.Reset(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("storage directory should exist: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty directory, found %d entries", len(entries))
		}
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b", "c")
		store := NewFileSystemStore(dir)

		if err := store.Reset(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Ping(ctx); err != nil {
			t.Errorf("expected directory to exist: %v", err)
		}
	})
}

func TestFileSystemStore_Usage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	store.Save(ctx, "a.txt", bytes.NewReader([]byte("12345")))
	store.Save(ctx, "b.txt", bytes.NewReader([]byte("123")))
	os.WriteFile(filepath.Join(dir, tempPrefix+"inflight"), []byte("ignored"), 0644)

	u, err := store.Usage(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Files != 2 || u.Bytes != 8 {
		t.Errorf("expected 2 files / 8 bytes, got %d / %d", u.Files, u.Bytes)
	}
}

func TestFileSystemStore_Ping(t *testing.T) {
	ctx := context.Background()

	if err := NewFileSystemStore(t.TempDir()).Ping(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NewFileSystemStore(filepath.Join(t.TempDir(), "missing")).Ping(ctx); err == nil {
		t.Error("expected error for missing directory")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
