package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// CollectFiles expands directories into the regular files below them. The
// server stores uploads by base name, so two files that share one are
// rejected instead of silently overwriting each other.
func CollectFiles(paths []ParsedPath) ([]LocalFile, error) {
	var files []LocalFile
	owner := make(map[string]string)

	add := func(path string, info fs.FileInfo) error {
		name := filepath.Base(path)
		if prev, ok := owner[name]; ok {
			return &ValidationError{Arg: path, Cause: fmt.Sprintf("same file name as %s", prev)}
		}
		owner[name] = path
		files = append(files, LocalFile{Path: path, Name: name, Size: info.Size()})
		return nil
	}

	for _, parsedPath := range paths {
		if parsedPath.Kind != PathDir {
			info, err := statFile(parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			if err := add(parsedPath.FullPath, info); err != nil {
				return nil, err
			}
			continue
		}

		dirFiles, err := walkDir(parsedPath.FullPath)
		if err != nil {
			return nil, err
		}
		for _, path := range dirFiles {
			info, err := statFile(path)
			if err != nil {
				return nil, err
			}
			if err := add(path, info); err != nil {
				return nil, err
			}
		}
	}

	if len(files) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files found"}
	}
	return files, nil
}

// walkDir returns the regular files below root in lexical order, skipping
// symlinks and other special files.
func walkDir(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func statFile(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ValidationError{Arg: path, Cause: "not found or not accessible"}
	}
	return info, nil
}
