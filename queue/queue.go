/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Redis-backed reliable task queue for ProcessArticle
             tasks. Consume moves the task onto a per-queue
             processing list; acknowledgement removes it only
             after the pipeline has committed its final state.
             Tasks stranded by a crashed worker are recovered to
             the main queue at startup.
Root Cause:  Sprint task N080 — task queue.
Context:     Idempotent replay is expected: the pipeline skips
             stages the article is already past.
Suitability: L3 for at-least-once delivery plumbing.
──────────────────────────────────────────────────────────────
*/

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avesed/webstock/services/newscore/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrEmpty is returned when no task arrives within the poll timeout.
var ErrEmpty = errors.New("queue empty")

// Task is one dequeued ProcessArticle payload. The raw field is the
// exact list member, needed for acknowledgement.
type Task struct {
	Ref pipeline.ArticleRef
	raw string
}

// Queue is a reliable Redis list queue.
type Queue struct {
	rdb        *redis.Client
	name       string
	processing string
	log        zerolog.Logger
}

// New creates a queue with the given base name.
func New(rdb *redis.Client, name string, log zerolog.Logger) *Queue {
	return &Queue{
		rdb:        rdb,
		name:       name,
		processing: name + ":processing",
		log:        log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
}

// Enqueue appends a ProcessArticle task.
func (q *Queue) Enqueue(ctx context.Context, ref pipeline.ArticleRef) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.rdb.LPush(ctx, q.name, payload).Err()
}

// Dequeue blocks up to timeout for a task, moving it onto the
// processing list so a crash cannot lose it.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.name, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	var ref pipeline.ArticleRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		// Malformed payloads are dropped from processing so they do
		// not wedge the queue.
		q.rdb.LRem(ctx, q.processing, 1, raw)
		return nil, fmt.Errorf("malformed task payload: %w", err)
	}
	return &Task{Ref: ref, raw: raw}, nil
}

// Ack removes a completed (or terminally failed) task from the
// processing list.
func (q *Queue) Ack(ctx context.Context, task *Task) {
	if err := q.rdb.LRem(ctx, q.processing, 1, task.raw).Err(); err != nil {
		q.log.Warn().Err(err).Msg("failed to ack task")
	}
}

// RecoverStranded moves tasks left on the processing list by a crashed
// worker back to the main queue. Called once at startup.
func (q *Queue) RecoverStranded(ctx context.Context) int {
	recovered := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, q.processing, q.name).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			q.log.Warn().Err(err).Msg("stranded-task recovery stopped")
			break
		}
		recovered++
	}
	if recovered > 0 {
		q.log.Info().Int("count", recovered).Msg("recovered stranded tasks")
	}
	return recovered
}

// Len returns the number of queued tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
