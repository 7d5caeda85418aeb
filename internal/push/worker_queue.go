package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned when the in-process buffer has no room.
	ErrQueueFull = errors.New("push: queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("push: queue closed")
)

// WorkerQueue runs jobs on a fixed pool of goroutines fed by a bounded
// buffer. Submit never blocks; jobs are dropped when the buffer is full.
type WorkerQueue struct {
	handler Handler
	jobs    chan Job
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Queue = (*WorkerQueue)(nil)

// NewWorkerQueue starts workers goroutines draining a buffer of size buffer.
func NewWorkerQueue(handler Handler, workers, buffer int, logger *slog.Logger) *WorkerQueue {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &WorkerQueue{
		handler: handler,
		jobs:    make(chan Job, buffer),
		logger:  logger,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

func (q *WorkerQueue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *WorkerQueue) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("push job panicked", "kind", job.Kind, "panic", r)
		}
	}()
	if err := q.handler(context.Background(), job); err != nil {
		q.logger.Warn("push job failed", "kind", job.Kind, "err", err)
	}
}

// Submit enqueues job without waiting for a free slot.
func (q *WorkerQueue) Submit(_ context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.logger.Warn("push queue full, dropping job", "kind", job.Kind)
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *WorkerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
