package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/internal/server/events"
	"relay/internal/server/history"
	"relay/internal/server/metrics"
	"relay/internal/server/registry"
	"relay/internal/server/storage"
	"relay/internal/server/token"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound   = errors.New("transfer not found")
	ErrValidation = errors.New("invalid upload")
	ErrTooLarge   = errors.New("upload exceeds maximum allowed size")
	ErrStorage    = errors.New("storage failure")
)

// Deps are the collaborators of a TransferService. Store and Registry are
// required; everything else has a usable default.
type Deps struct {
	Store    storage.Store
	Registry *registry.Registry
	Tokens   registry.Generator
	History  history.Log
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// BaseURL is used for download links when the caller passes none.
	BaseURL string
	// MaxUploadBytes caps the declared size of one upload. Zero disables
	// the check.
	MaxUploadBytes int64
	Now            func() time.Time
}

// TransferService contains the business logic for uploads and downloads.
type TransferService struct {
	store    storage.Store
	registry *registry.Registry
	tokens   registry.Generator
	history  history.Log
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	baseURL        string
	maxUploadBytes int64
	now            func() time.Time
}

// NewTransferService creates a new transfer service.
func NewTransferService(d Deps) *TransferService {
	s := &TransferService{
		store:          d.Store,
		registry:       d.Registry,
		tokens:         d.Tokens,
		history:        d.History,
		events:         d.Events,
		metrics:        d.Metrics,
		logger:         d.Logger,
		baseURL:        strings.TrimRight(d.BaseURL, "/"),
		maxUploadBytes: d.MaxUploadBytes,
		now:            d.Now,
	}
	if s.tokens == nil {
		s.tokens = token.Default
	}
	if s.history == nil {
		s.history = history.NewMemoryLog(history.DefaultMaxRecords)
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Stats is a snapshot of what the relay currently holds.
type Stats struct {
	Links       int   `json:"links"`
	Pickups     int   `json:"pickups"`
	Reserved    int   `json:"reserved"`
	StoredFiles int   `json:"stored_files"`
	StoredBytes int64 `json:"stored_bytes"`
}

// Stats returns registry and storage counters.
func (s *TransferService) Stats(ctx context.Context) (*Stats, error) {
	usage, err := s.store.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	rs := s.registry.Stats()
	return &Stats{
		Links:       rs.Links,
		Pickups:     rs.Pickups,
		Reserved:    rs.Reserved,
		StoredFiles: usage.Files,
		StoredBytes: usage.Bytes,
	}, nil
}

// History returns the transfers recorded for a session, oldest first.
func (s *TransferService) History(ctx context.Context, sessionID string) ([]history.Record, error) {
	records, err := s.history.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}

// ResetStorage purges the storage root and forgets every identifier. The
// server calls it once before it starts listening.
func (s *TransferService) ResetStorage(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.registry.Reset()
	s.logger.Info("storage reset")
	return nil
}

// Sweep evicts transfers older than maxAge and removes their artifacts.
// Files still referenced by a live transfer or an upload in flight are kept.
func (s *TransferService) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	evicted := s.registry.Sweep(s.now().Add(-maxAge))
	if len(evicted) == 0 {
		return 0, nil
	}

	var errs []error
	seen := make(map[string]bool)
	remove := func(name string) error { return s.store.Remove(ctx, name) }
	for _, target := range evicted {
		for _, name := range append([]string{target.Name}, target.Files...) {
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, err := s.registry.Discard(name, remove); err != nil {
				errs = append(errs, err)
			}
		}

		s.publish(ctx, events.Event{
			Type:     events.TransferExpired,
			Filename: target.Name,
			Kind:     string(target.Kind),
			Files:    len(target.Files),
			Size:     target.Size,
		})
	}

	s.metrics.Swept(len(evicted))
	if err := errors.Join(errs...); err != nil {
		return len(evicted), fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return len(evicted), nil
}

// Health reports whether the storage backend is usable.
func (s *TransferService) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *TransferService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
