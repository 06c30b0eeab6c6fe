package storage

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts transfers older than a maximum age and reports how many
// were removed.
type Sweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// CleanupService periodically evicts expired transfers.
type CleanupService struct {
	sweeper  Sweeper
	ttl      time.Duration
	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(sweeper Sweeper, ttl, interval time.Duration) *CleanupService {
	return &CleanupService{
		sweeper:  sweeper,
		ttl:      ttl,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "ttl", cs.ttl)

	go func() {
		defer close(cs.done)

		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	start := time.Now()

	removed, err := cs.sweeper.Sweep(ctx, cs.ttl)
	if err != nil {
		slog.Error("cleanup cycle failed",
			"removed", removed,
			"error", err,
		)
		return
	}

	if removed == 0 {
		slog.Debug("no expired transfers to clean up")
		return
	}

	slog.Info("cleanup cycle complete",
		"removed", removed,
		"duration", time.Since(start),
	)
}
