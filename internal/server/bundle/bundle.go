// Package bundle decides how the files of one upload are served and builds
// the ZIP archive when more than one file was sent.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zip"

	"relay/internal/server/registry"
	"relay/internal/server/storage"
)

var ErrEmpty = errors.New("no files to bundle")

// Plan describes the artifact an upload resolves to.
type Plan struct {
	Kind   registry.Kind
	Target string   // stored name served for the link
	Files  []string // stored names of the uploaded files, deduplicated
}

// ArchiveName returns the stored name of the archive for a link token.
func ArchiveName(token string) string {
	return token + ".zip"
}

// Decide picks the artifact for a set of stored names. A single file is
// served as is; two or more are bundled into {token}.zip. Names that appear
// more than once are counted once, since the store only keeps the last
// write under a name.
func Decide(token string, names []string) (Plan, error) {
	files := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}

	switch len(files) {
	case 0:
		return Plan{}, ErrEmpty
	case 1:
		return Plan{Kind: registry.KindFile, Target: files[0], Files: files}, nil
	default:
		return Plan{Kind: registry.KindArchive, Target: ArchiveName(token), Files: files}, nil
	}
}

// Build writes the archive for an archive plan into store. Entries sit at
// the archive root and are deflated. The archive goes through store.Save,
// so a failed build leaves nothing under the target name. For a file plan
// Build only checks that the file exists.
func Build(ctx context.Context, store storage.Store, plan Plan) (storage.Object, error) {
	if len(plan.Files) == 0 {
		return storage.Object{}, ErrEmpty
	}
	if plan.Kind == registry.KindFile {
		return store.Stat(ctx, plan.Target)
	}

	pr, pw := io.Pipe()
	writeErr := make(chan error, 1)
	go func() {
		err := writeArchive(ctx, store, plan.Files, pw)
		pw.CloseWithError(err)
		writeErr <- err
	}()

	obj, saveErr := store.Save(ctx, plan.Target, pr)
	// Unblock the writer if Save gave up before draining the pipe.
	pr.CloseWithError(io.ErrClosedPipe)
	// Save only sees EOF once the writer finished cleanly, so a writer error
	// always comes with a failed Save.
	if err := <-writeErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return storage.Object{}, fmt.Errorf("failed to build archive %s: %w", plan.Target, err)
	}
	if saveErr != nil {
		return storage.Object{}, fmt.Errorf("failed to store archive %s: %w", plan.Target, saveErr)
	}
	return obj, nil
}

func writeArchive(ctx context.Context, store storage.Store, files []string, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, name := range files {
		if err := addEntry(ctx, zw, store, name); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func addEntry(ctx context.Context, zw *zip.Writer, store storage.Store, name string) error {
	rc, obj, err := store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", name, err)
	}
	defer rc.Close()

	header := &zip.FileHeader{
		Name:     path.Base(name),
		Method:   zip.Deflate,
		Modified: obj.ModTime,
	}
	header.SetMode(0644)

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := io.Copy(writer, rc); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}
