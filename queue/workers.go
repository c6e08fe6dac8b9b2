/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Background worker pool consuming the article queue.
             Workers honouring shutdown stop picking new tasks
             and let the in-flight stage reach its next commit
             boundary before the process exits.
Root Cause:  Sprint task N081 — pipeline workers.
Suitability: L3 for worker lifecycle.
──────────────────────────────────────────────────────────────
*/

package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avesed/webstock/services/newscore/pipeline"
	"github.com/rs/zerolog"
)

// Processor handles one article task.
type Processor interface {
	Process(ctx context.Context, ref pipeline.ArticleRef) error
}

// WorkerPool consumes tasks with a fixed number of goroutines.
type WorkerPool struct {
	queue     *Queue
	processor Processor
	count     int
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewWorkerPool creates a pool of count workers.
func NewWorkerPool(queue *Queue, processor Processor, count int, log zerolog.Logger) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	return &WorkerPool{
		queue:     queue,
		processor: processor,
		count:     count,
		log:       log.With().Str("component", "workers").Logger(),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (w *WorkerPool) Start(ctx context.Context) {
	w.queue.RecoverStranded(ctx)
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	w.log.Info().Int("workers", w.count).Msg("worker pool started")
}

// Wait blocks until every worker has exited.
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}

func (w *WorkerPool) run(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopping")
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, 2*time.Second)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}

		// The task context is detached from shutdown so the current
		// stage can reach its commit boundary; the select above stops
		// further pickups.
		taskCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err = w.processor.Process(taskCtx, task.Ref)
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("url", task.Ref.URL).Msg("task failed; state committed for retry")
		}
		// Ack in both cases: success or a committed failure state.
		// Re-enqueueing is the scheduler's decision. The ack uses a
		// fresh context so shutdown cannot strand an already-finished
		// task on the processing list.
		ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
		w.queue.Ack(ackCtx, task)
		ackCancel()
	}
}
