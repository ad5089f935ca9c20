package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amorlat/funnel-tracking/pkg/postgres"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Postgres implements Store on two jsonb-backed tables.
type Postgres struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, db *postgres.DB, logger *zap.Logger) (*Postgres, error) {
	s := &Postgres{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id         UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_ts   BIGINT NOT NULL,
			country    TEXT,
			payload    JSONB NOT NULL,
			server_ts  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts      ON events(event_ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);

		CREATE TABLE IF NOT EXISTS users (
			session_id              TEXT PRIMARY KEY,
			data                    JSONB NOT NULL DEFAULT '{}'::jsonb,
			funnel_stage            TEXT,
			funnel_stage_updated_at TIMESTAMPTZ,
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure docstore schema: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func (s *Postgres) AddEvent(ctx context.Context, fields map[string]any) (string, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}

	id := uuid.New()
	sessionID, _ := fields["session_id"].(string)
	eventType, _ := fields["event_type"].(string)
	var eventTS int64
	switch ts := fields["timestamp"].(type) {
	case int64:
		eventTS = ts
	case float64:
		eventTS = int64(ts)
	}
	var country sql.NullString
	if c, ok := fields["country"].(string); ok && c != "" {
		country = sql.NullString{String: c, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, event_type, event_ts, country, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, sessionID, eventType, eventTS, country, payload)
	if err != nil {
		s.logger.Error("failed to append event document",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to append event: %w", err)
	}

	s.logger.Debug("event document appended",
		zap.String("doc_id", id.String()),
		zap.String("event_type", eventType),
	)
	return id.String(), nil
}

func (s *Postgres) MergeUser(ctx context.Context, sessionID string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal user fields: %w", err)
	}

	// jsonb || gives the same shallow merge-by-key the contract asks for.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (session_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE
		SET data = users.data || EXCLUDED.data, updated_at = now()
	`, sessionID, data)
	if err != nil {
		return fmt.Errorf("failed to merge user %s: %w", sessionID, err)
	}
	return nil
}

func (s *Postgres) SetFunnelStage(ctx context.Context, sessionID, stage string, extra map[string]any) error {
	data, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to marshal stage extras: %w", err)
	}
	if extra == nil {
		data = []byte(`{}`)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (session_id, data, funnel_stage, funnel_stage_updated_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (session_id) DO UPDATE
		SET data                    = users.data || EXCLUDED.data,
		    funnel_stage            = EXCLUDED.funnel_stage,
		    funnel_stage_updated_at = now(),
		    updated_at              = now()
	`, sessionID, data, stage)
	if err != nil {
		return fmt.Errorf("failed to update funnel stage for %s: %w", sessionID, err)
	}
	return nil
}

func (s *Postgres) QueryEvents(ctx context.Context, opts QueryOptions) ([]Record, error) {
	query := `SELECT id, payload FROM events WHERE 1=1`
	args := []any{}

	if opts.StartTimestamp > 0 {
		args = append(args, opts.StartTimestamp)
		query += fmt.Sprintf(" AND event_ts >= $%d", len(args))
	}
	if opts.Country != "" {
		args = append(args, opts.Country)
		query += fmt.Sprintf(" AND country = $%d", len(args))
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(" ORDER BY event_ts DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id uuid.UUID
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		rec := Record{}
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.logger.Warn("skipping unreadable event document",
				zap.String("doc_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		rec["id"] = id.String()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event rows: %w", err)
	}
	return records, nil
}
