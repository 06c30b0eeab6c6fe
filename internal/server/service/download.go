package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"relay/internal/server/registry"
	"relay/internal/server/storage"
	"relay/internal/server/token"
)

// Download routes, used as metric labels.
const (
	RouteFile = "file"
	RouteZip  = "zip"
	RouteLink = "link"
)

// ResolveLink returns the target of a link token.
func (s *TransferService) ResolveLink(ctx context.Context, tok string) (registry.Target, error) {
	if !token.Valid(tok, token.LinkLength) {
		return registry.Target{}, ErrNotFound
	}
	target, err := s.registry.ResolveLink(registry.LinkToken(tok))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return registry.Target{}, ErrNotFound
		}
		return registry.Target{}, err
	}
	return target, nil
}

// ResolvePickup returns the download URL a pickup code was issued for.
func (s *TransferService) ResolvePickup(ctx context.Context, code string) (string, error) {
	if !token.Valid(code, token.PickupLength) {
		s.metrics.Pickup(false)
		return "", ErrNotFound
	}
	url, err := s.registry.ResolvePickup(registry.PickupCode(code))
	if err != nil {
		s.metrics.Pickup(false)
		if errors.Is(err, registry.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	s.metrics.Pickup(true)
	return url, nil
}

// OpenFile opens a stored file by its sanitized name.
func (s *TransferService) OpenFile(ctx context.Context, filename string) (io.ReadCloser, storage.Object, error) {
	return s.open(ctx, filename, RouteFile)
}

// OpenArchive opens the archive of a multi-file transfer.
func (s *TransferService) OpenArchive(ctx context.Context, tok string) (io.ReadCloser, storage.Object, error) {
	target, err := s.ResolveLink(ctx, tok)
	if err != nil {
		return nil, storage.Object{}, err
	}
	if target.Kind != registry.KindArchive {
		return nil, storage.Object{}, ErrNotFound
	}
	return s.open(ctx, target.Name, RouteZip)
}

// OpenLink opens whatever a link token resolves to.
func (s *TransferService) OpenLink(ctx context.Context, tok string) (io.ReadCloser, storage.Object, error) {
	target, err := s.ResolveLink(ctx, tok)
	if err != nil {
		return nil, storage.Object{}, err
	}
	return s.open(ctx, target.Name, RouteLink)
}

func (s *TransferService) open(ctx context.Context, name, route string) (io.ReadCloser, storage.Object, error) {
	rc, obj, err := s.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.Object{}, ErrNotFound
		}
		s.logger.Error("failed to open artifact", "filename", name, "error", err)
		return nil, storage.Object{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.metrics.Download(route)
	return rc, obj, nil
}
