package queue

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/avesed/webstock/services/newscore/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test:articles", zerolog.New(io.Discard))
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	ref := pipeline.ArticleRef{URL: "http://ex/a", Market: "US", Title: "t", Source: "finnhub"}
	require.NoError(t, q.Enqueue(ctx, ref))

	task, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "http://ex/a", task.Ref.URL)

	// Task sits on the processing list until acked
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	q.Ack(ctx, task)
	assert.Zero(t, q.RecoverStranded(ctx), "acked task must not be recoverable")
}

func TestDequeueEmpty(t *testing.T) {
	q := testQueue(t)
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRecoverStranded(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, pipeline.ArticleRef{URL: "http://ex/a", Market: "US"}))
	_, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	// Simulate a crashed worker: task never acked
	recovered := q.RecoverStranded(ctx)
	assert.Equal(t, 1, recovered)

	task, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "http://ex/a", task.Ref.URL)
}

func TestMalformedPayloadDropped(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.rdb.LPush(ctx, q.name, "not-json").Err())
	_, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmpty)

	assert.Zero(t, q.RecoverStranded(ctx), "malformed payload must not linger")
}
