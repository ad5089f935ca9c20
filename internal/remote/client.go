// Package remote mirrors captured events and profile snapshots to the
// remote document store. Everything here is best-effort: the local
// journal already defines "event captured", so failures are logged and
// dropped, never surfaced to the capture path.
package remote

import (
	"context"
	"sync"

	"github.com/amorlat/funnel-tracking/internal/docstore"
	"github.com/amorlat/funnel-tracking/internal/event"
	"go.uber.org/zap"
)

const DefaultQueryLimit = 1000

// StreamPublisher fans captured events out to the downstream stream
// topic. Optional; nil disables the mirror.
type StreamPublisher interface {
	Publish(key string, value any) error
}

type Config struct {
	DefaultCountry string
	Language       string
	QueryLimit     int
}

// Client wraps the document store behind a readiness gate. Until the
// backend connection is attached every operation no-ops.
type Client struct {
	cfg    Config
	stream StreamPublisher
	logger *zap.Logger

	mu    sync.RWMutex
	store docstore.Store
}

func NewClient(cfg Config, stream StreamPublisher, logger *zap.Logger) *Client {
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = DefaultQueryLimit
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "MX"
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	return &Client{cfg: cfg, stream: stream, logger: logger}
}

// Attach hands the client its lazily-established backend connection.
func (c *Client) Attach(store docstore.Store) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
	c.logger.Info("remote backend attached")
}

// IsReady reports whether the backend connection has been established.
func (c *Client) IsReady() bool {
	return c.backend() != nil
}

func (c *Client) backend() docstore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// SaveEvent appends ev as a new remote record and returns the record id,
// or "" when not ready or on failure. Nil-valued fields are stripped
// first; the store cannot represent them.
func (c *Client) SaveEvent(ctx context.Context, ev event.Event) string {
	store := c.backend()
	if store == nil {
		return ""
	}

	fields := stripNil(ev.Flatten())
	id, err := store.AddEvent(ctx, fields)
	if err != nil {
		c.logger.Warn("failed to save event remotely",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return ""
	}

	if c.stream != nil {
		if err := c.stream.Publish(ev.SessionID, fields); err != nil {
			c.logger.Warn("failed to publish event to stream",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
	return id
}

// SaveUser merges userData into the remote profile record keyed by
// session id. Sensitive fields are stripped, country defaults to the
// configured fallback and the language tag is attached.
func (c *Client) SaveUser(ctx context.Context, sessionID string, userData map[string]any) bool {
	store := c.backend()
	if store == nil {
		return false
	}

	safe := stripNil(event.Sanitize(userData))
	if safe == nil {
		safe = map[string]any{}
	}
	if country, ok := safe["country"].(string); !ok || country == "" {
		safe["country"] = c.cfg.DefaultCountry
	}
	safe["language"] = c.cfg.Language

	if err := store.MergeUser(ctx, sessionID, safe); err != nil {
		c.logger.Warn("failed to save user remotely",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// UpdateFunnelStage merges the stage transition plus any extra fields
// into the profile record.
func (c *Client) UpdateFunnelStage(ctx context.Context, sessionID, stage string, extra map[string]any) bool {
	store := c.backend()
	if store == nil {
		return false
	}

	if err := store.SetFunnelStage(ctx, sessionID, stage, stripNil(extra)); err != nil {
		c.logger.Warn("failed to update funnel stage",
			zap.String("session_id", sessionID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return false
	}
	c.logger.Debug("funnel stage updated",
		zap.String("session_id", sessionID),
		zap.String("stage", stage),
	)
	return true
}

// GetEvents is the query surface for downstream dashboards. Returns an
// empty slice when not ready or on any failure.
func (c *Client) GetEvents(ctx context.Context, opts docstore.QueryOptions) []docstore.Record {
	store := c.backend()
	if store == nil {
		return []docstore.Record{}
	}

	if opts.Limit <= 0 {
		opts.Limit = c.cfg.QueryLimit
	}
	records, err := store.QueryEvents(ctx, opts)
	if err != nil {
		c.logger.Warn("failed to query remote events", zap.Error(err))
		return []docstore.Record{}
	}
	if records == nil {
		records = []docstore.Record{}
	}
	return records
}

// stripNil drops nil-valued fields, one nested map level deep.
func stripNil(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = stripNil(nested)
		}
		out[k] = v
	}
	return out
}
