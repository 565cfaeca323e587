// Package events publishes document index lifecycle events.
//
// Events go to NATS subjects of the form
//
//	<prefix>.documents.<docKey>.<kind>
//
// where docKey is the hex-encoded document id, so subscribers can filter per
// document (docindex.documents.<key>.>) or per kind (docindex.documents.*.build_failed).
package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind is the type of lifecycle event.
type Kind string

const (
	KindBuildStarted   Kind = "build_started"
	KindBuildCommitted Kind = "build_committed"
	KindBuildFailed    Kind = "build_failed"
	KindDeleted        Kind = "deleted"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "docindex"

// Event is one lifecycle notification.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	DocumentID string    `json:"document_id"`
	BuildID    string    `json:"build_id,omitempty"`
	Version    int       `json:"version,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subject returns the subject an event of kind for docID is published on.
func Subject(prefix, docID string, kind Kind) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s.documents.%s.%s", prefix, hex.EncodeToString([]byte(docID)), kind)
}

// NATSPublisher publishes JSON-encoded events to NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("docindex"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close does not close nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Publish fills in ID and Timestamp when unset and publishes ev.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, ev.DocumentID, ev.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("event_id", ev.ID))
	return nil
}

// Close drains the connection if the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)
