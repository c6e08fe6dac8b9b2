package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PipelineEvent is one structured pipeline transition record, used for
// observability and for inspecting interrupted runs.
type PipelineEvent struct {
	NewsID    uuid.UUID      `json:"news_id"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"` // started, completed, failed, skipped
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventStore appends pipeline events.
type EventStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewEventStore creates the event log.
func NewEventStore(pool *pgxpool.Pool, log zerolog.Logger) *EventStore {
	return &EventStore{
		pool: pool,
		log:  log.With().Str("component", "pipeline_events").Logger(),
	}
}

// Record appends one event. Failures are logged, never propagated: the
// event log must not fail a pipeline stage.
func (s *EventStore) Record(ctx context.Context, ev PipelineEvent) {
	var detail []byte
	if len(ev.Detail) > 0 {
		detail, _ = json.Marshal(ev.Detail)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_events (news_id, stage, status, detail, error)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.NewsID, ev.Stage, ev.Status, detail, nilIfEmpty(ev.Error))
	if err != nil {
		s.log.Warn().Err(err).Str("stage", ev.Stage).Msg("failed to record pipeline event")
	}
}

// ListForArticle returns events for one article, oldest first.
func (s *EventStore) ListForArticle(ctx context.Context, newsID uuid.UUID) ([]PipelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT news_id, stage, status, COALESCE(detail, 'null'), COALESCE(error, ''), created_at
		FROM pipeline_events WHERE news_id = $1 ORDER BY created_at`, newsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PipelineEvent
	for rows.Next() {
		var ev PipelineEvent
		var detail []byte
		if err := rows.Scan(&ev.NewsID, &ev.Stage, &ev.Status, &detail, &ev.Error, &ev.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(detail, &ev.Detail)
		out = append(out, ev)
	}
	return out, rows.Err()
}
