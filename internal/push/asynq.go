package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultAsynqQueue is the asynq queue push jobs are enqueued on.
const DefaultAsynqQueue = "push"

// AsynqQueue enqueues jobs into Redis through asynq.
type AsynqQueue struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
	timeout   time.Duration
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue connects a client to redisURL.
func NewAsynqQueue(redisURL, queueName string, timeout time.Duration) (*AsynqQueue, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if queueName == "" {
		queueName = DefaultAsynqQueue
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		queueName: queueName,
		maxRetry:  3,
		timeout:   timeout,
	}, nil
}

func (q *AsynqQueue) Submit(ctx context.Context, job Job) error {
	task, err := newTask(job)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queueName),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(q.timeout),
	)
	if err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", job.Kind, err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

func newTask(job Job) (*asynq.Task, error) {
	payload, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(string(job.Kind), payload), nil
}

// AsynqWorker consumes push jobs enqueued by AsynqQueue.
type AsynqWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewAsynqWorker builds a worker that hands every push task to handler.
func NewAsynqWorker(redisURL, queueName string, concurrency int, handler Handler, logger *slog.Logger) (*AsynqWorker, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if queueName == "" {
		queueName = DefaultAsynqQueue
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("asynq push task failed", "type", task.Type(), "err", err)
		}),
	})
	mux := asynq.NewServeMux()
	h := taskHandler(handler)
	mux.HandleFunc(string(KindMessage), h)
	mux.HandleFunc(string(KindPresence), h)
	return &AsynqWorker{server: srv, mux: mux}, nil
}

// Start begins processing in the background.
func (w *AsynqWorker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the worker.
func (w *AsynqWorker) Shutdown() {
	w.server.Shutdown()
}

// taskHandler adapts a Handler to asynq. Undecodable payloads are not retried.
func taskHandler(handler Handler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		job, err := decodeJob(t.Type(), t.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return handler(ctx, job)
	}
}
