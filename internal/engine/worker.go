package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/rules"
)

var ErrWorkerStopped = errors.New("worker is not running")

// job is a deferred rule invocation captured after its event committed.
type job struct {
	rule   rules.Rule
	event  *events.Event
	before *domain.Submission
	after  *domain.Submission
}

// Worker runs deferred rules on a fixed pool of goroutines. Each job runs
// its callback and saves the resulting events through the engine.
type Worker struct {
	engine  *Engine
	workers   int
	queueSize int
	queue     chan job
	log       *slog.Logger

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

func newWorker(e *Engine, workers, queueSize int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Worker{engine: e, workers: workers, queueSize: queueSize, log: e.logger()}
}

// Start launches the pool. Cancelling ctx stops the pool once the queued
// jobs have drained.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.queue = make(chan job, w.queueSize)
	w.running = true
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(context.WithoutCancel(ctx), w.queue)
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}

// Stop closes the queue and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Worker) enqueue(ctx context.Context, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.running {
		return ErrWorkerStopped
	}
	select {
	case w.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, queue <-chan job) {
	defer w.wg.Done()
	for j := range queue {
		if _, _, err := w.engine.runDeferred(ctx, j); err != nil {
			w.log.Error("deferred rule failed", "rule", j.rule.String(), "event_id", j.event.MustID(), "err", err)
		}
	}
}
