package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

type writeRequest struct {
	job   domain.Job
	event *domain.JobEvent
}

// writeBehind applies durable writes off the request and drive paths. A
// single worker keeps one job's writes and events in mutation order; when
// the queue is full the write runs in its own goroutine and relies on the
// store's version guard instead.
type writeBehind struct {
	store   domain.JobStore
	events  domain.JobEventLog
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan writeRequest
	wg     sync.WaitGroup
}

func newWriteBehind(store domain.JobStore, events domain.JobEventLog, timeout time.Duration, depth int, logger zerolog.Logger) *writeBehind {
	w := &writeBehind{
		store:   store,
		events:  events,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan writeRequest, depth),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *writeBehind) enabled() bool {
	return w.store != nil || w.events != nil
}

func (w *writeBehind) enqueue(job domain.Job, payload json.RawMessage) {
	if !w.enabled() {
		return
	}
	req := writeRequest{job: job.Clone()}
	if w.events != nil {
		req.event = &domain.JobEvent{
			JobID:     job.ID,
			State:     job.State,
			Progress:  job.Progress,
			Payload:   payload,
			CreatedAt: job.UpdatedAt,
		}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn().Str("job_id", job.ID).Msg("durable write after shutdown dropped")
		return
	}
	select {
	case w.queue <- req:
	default:
		w.logger.Warn().Str("job_id", job.ID).Msg("durable write queue full; writing out of band")
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.apply(req)
		}()
	}
}

func (w *writeBehind) loop() {
	defer w.wg.Done()
	for req := range w.queue {
		w.apply(req)
	}
}

// apply never returns an error: the cache already holds the mutation and a
// failed durable write is only logged.
func (w *writeBehind) apply(req writeRequest) {
	if w.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.store.Put(ctx, req.job)
		cancel()
		if err != nil {
			w.logger.Error().Err(err).Str("job_id", req.job.ID).Int64("version", req.job.Version).Msg("durable store write failed")
		}
	}
	if req.event != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.events.AppendEvent(ctx, *req.event)
		cancel()
		if err != nil {
			w.logger.Warn().Err(err).Str("job_id", req.job.ID).Str("state", string(req.event.State)).Msg("append job event failed")
		}
	}
}

// close stops accepting writes and waits for queued ones or ctx.
func (w *writeBehind) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
