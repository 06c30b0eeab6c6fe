// Package history keeps the per-session list of transfers shown back to the
// uploader. It is display-only and never used to resolve identifiers.
package history

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultMaxRecords = 100

var ErrNoSession = errors.New("session id is required")

// Record is one completed upload as seen by its uploader.
type Record struct {
	Filename   string    `json:"filename"`
	Link       string    `json:"link"`
	PickupCode string    `json:"pickup_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Log stores records per session, oldest first.
type Log interface {
	Append(ctx context.Context, sessionID string, rec Record) error
	List(ctx context.Context, sessionID string) ([]Record, error)
}

// MemoryLog keeps records in process memory.
type MemoryLog struct {
	mu         sync.Mutex
	sessions   map[string][]Record
	maxRecords int
}

// NewMemoryLog creates a log that keeps at most maxRecords per session.
func NewMemoryLog(maxRecords int) *MemoryLog {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &MemoryLog{
		sessions:   make(map[string][]Record),
		maxRecords: maxRecords,
	}
}

func (l *MemoryLog) Append(ctx context.Context, sessionID string, rec Record) error {
	if sessionID == "" {
		return ErrNoSession
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	records := append(l.sessions[sessionID], rec)
	if over := len(records) - l.maxRecords; over > 0 {
		records = append([]Record(nil), records[over:]...)
	}
	l.sessions[sessionID] = records
	return nil
}

func (l *MemoryLog) List(ctx context.Context, sessionID string) ([]Record, error) {
	if sessionID == "" {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Record(nil), l.sessions[sessionID]...), nil
}
