package service

import (
	"context"

	"relay/internal/server/registry"
	"relay/internal/server/storage"
)

// uploadTx tracks what one upload wrote so a failure can undo it.
type uploadTx struct {
	svc       *TransferService
	ctx       context.Context
	pending   registry.Pending
	held      []string
	saved     []string
	objects   map[string]storage.Object
	committed bool
}

// hold keeps name out of reach of removals by other uploads and sweeps
// until this upload commits or rolls back.
func (tx *uploadTx) hold(name string) {
	tx.svc.registry.Hold(name)
	tx.held = append(tx.held, name)
}

func (tx *uploadTx) save(f File) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tx.hold(storage.SanitizeFilename(f.Name))
	obj, err := tx.svc.store.Save(tx.ctx, f.Name, rc)
	if err != nil {
		return 0, err
	}

	if tx.objects == nil {
		tx.objects = make(map[string]storage.Object)
	}
	tx.saved = append(tx.saved, obj.Name)
	tx.objects[obj.Name] = obj
	return obj.Size, nil
}

// commit publishes the target and hands the held names over to the link.
func (tx *uploadTx) commit(target registry.Target, link string) error {
	if err := tx.svc.registry.Commit(tx.pending, target, link); err != nil {
		return err
	}
	tx.committed = true
	tx.svc.registry.Unhold(tx.held...)
	return nil
}

// rollback releases the reserved identifiers and removes every artifact
// this upload may have written, unless a live link or another upload in
// flight refers to the same name.
func (tx *uploadTx) rollback() {
	if tx.committed {
		return
	}
	tx.svc.registry.Release(tx.pending)
	tx.svc.registry.Unhold(tx.held...)

	// The request context may already be cancelled.
	ctx := context.WithoutCancel(tx.ctx)
	remove := func(name string) error { return tx.svc.store.Remove(ctx, name) }
	for _, name := range tx.held {
		if _, err := tx.svc.registry.Discard(name, remove); err != nil {
			tx.svc.logger.Warn("failed to remove file after aborted upload", "filename", name, "error", err)
		}
	}
}
