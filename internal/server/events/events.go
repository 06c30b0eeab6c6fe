// Package events publishes transfer lifecycle events for other services to
// consume. Publishing is best effort and never blocks a transfer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultConnectTimeout = 5 * time.Second

// Event types.
const (
	TransferCreated = "transfer.created"
	TransferExpired = "transfer.expired"
)

// Event describes something that happened to a transfer. Expiry events
// carry no identifiers.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Token      string    `json:"token,omitempty"`
	PickupCode string    `json:"pickup_code,omitempty"`
	Filename   string    `json:"filename"`
	Kind       string    `json:"kind"`
	Files      int       `json:"files"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Options configures the NATS connection.
type Options struct {
	URL      string
	User     string
	Password string
	Subject  string // prefix, events go to {Subject}.{Type}
}

// Connect creates a NATS connection using the given options.
func Connect(opts Options) (*nats.Conn, error) {
	natsOpts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("relay"),
	}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}

	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return conn, nil
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   conn
	prefix string
}

// NewNATSPublisher wraps an established connection. The publisher owns the
// connection and closes it on Close.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return newNATSPublisher(nc, subject)
}

func newNATSPublisher(c conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = "relay"
	}
	return &NATSPublisher{conn: c, prefix: subject}
}

// Publish fills in the event ID and timestamp when missing and sends it to
// {prefix}.{type}.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: encode event: %w", err)
	}
	if err := p.conn.Publish(p.prefix+"."+ev.Type, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
