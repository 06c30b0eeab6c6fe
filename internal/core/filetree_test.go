package core

import (
	"os"
	"path/filepath"
	"testing"
)

// Helpers

func setupTestDir(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	tmpDir := t.TempDir()
	dirPath := filepath.Join(tmpDir, name)
	if err := os.Mkdir(dirPath, 0755); err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}

	for filename, content := range files {
		filePath := filepath.Join(dirPath, filename)
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create file %s: %v", filename, err)
		}
	}
	return dirPath
}

func setupNestedTestDir(t *testing.T, structure map[string]any) string {
	t.Helper()
	rootDir := t.TempDir()
	createStructure(t, rootDir, structure)
	return rootDir
}

func createStructure(t *testing.T, basePath string, structure map[string]any) {
	t.Helper()
	for name, content := range structure {
		path := filepath.Join(basePath, name)

		switch v := content.(type) {
		case string:
			// file
			if err := os.WriteFile(path, []byte(v), 0644); err != nil {
				t.Fatalf("failed to create file %s: %v", path, err)
			}

		case map[string]any:
			// dir
			if err := os.Mkdir(path, 0755); err != nil {
				t.Fatalf("failed to create directory %s: %v", path, err)
			}
			createStructure(t, path, v)
		default:
			t.Fatalf("unsupported structure type for %s", name)
		}
	}
}

func names(files []LocalFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func assertNames(t *testing.T, files []LocalFile, expected ...string) {
	t.Helper()
	got := names(files)
	if len(got) != len(expected) {
		t.Fatalf("expected files %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("expected files %v, got %v", expected, got)
			return
		}
	}
}

// Tests

func TestCollectFiles(t *testing.T) {
	t.Run("single file", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})

		files, err := CollectFiles([]ParsedPath{{FullPath: paths[0], Kind: PathFile}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertNames(t, files, "test.txt")
		if files[0].Size != int64(len("content")) || files[0].Path != paths[0] {
			t.Errorf("unexpected file %+v", files[0])
		}
	})

	t.Run("directory is flattened in lexical order", func(t *testing.T) {
		root := setupNestedTestDir(t, map[string]any{
			"b.txt": "b",
			"a.txt": "a",
			"sub": map[string]any{
				"c.txt": "c",
				"deeper": map[string]any{
					"d.txt": "d",
				},
			},
		})

		files, err := CollectFiles([]ParsedPath{{FullPath: root, Kind: PathDir}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertNames(t, files, "a.txt", "b.txt", "c.txt", "d.txt")
	})

	t.Run("files and directories mixed", func(t *testing.T) {
		dir := setupTestDir(t, "docs", map[string]string{"readme.md": "# hi"})
		paths := setupTestFiles(t, map[string]string{"main.go": "package main"})

		files, err := CollectFiles([]ParsedPath{
			{FullPath: paths[0], Kind: PathFile},
			{FullPath: dir, Kind: PathDir},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertNames(t, files, "main.go", "readme.md")
	})

	t.Run("duplicate base names are rejected", func(t *testing.T) {
		root := setupNestedTestDir(t, map[string]any{
			"one": map[string]any{"same.txt": "1"},
			"two": map[string]any{"same.txt": "2"},
		})

		_, err := CollectFiles([]ParsedPath{{FullPath: root, Kind: PathDir}})
		if err == nil {
			t.Fatal("expected error for duplicate names")
		}
		if _, ok := err.(*ValidationError); !ok {
			t.Fatalf("expected ValidationError, got %T", err)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := CollectFiles([]ParsedPath{{FullPath: t.TempDir(), Kind: PathDir}})
		if err == nil {
			t.Fatal("expected error for empty directory")
		}
		assertValidationError(t, err, "<files>", "no files found")
	})

	t.Run("symlinks inside directories are skipped", func(t *testing.T) {
		dir := setupTestDir(t, "links", map[string]string{"real.txt": "data"})
		if err := os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}

		files, err := CollectFiles([]ParsedPath{{FullPath: dir, Kind: PathDir}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertNames(t, files, "real.txt")
	})

	t.Run("file removed after parsing", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"gone.txt": "x"})
		if err := os.Remove(paths[0]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := CollectFiles([]ParsedPath{{FullPath: paths[0], Kind: PathFile}})
		assertValidationError(t, err, paths[0], "not found or not accessible")
	})
}
