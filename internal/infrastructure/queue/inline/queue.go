// Package inline is an in-process queue for single-binary deployments: the
// api process advances jobs itself on a bounded worker pool.
package inline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/patient-portal/internal/core/domain"
)

var ErrQueueClosed = errors.New("inline queue is closed")

type Queue struct {
	logger  *slog.Logger
	workers int

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu        sync.Mutex
	closed    bool
	listeners []func(context.Context, domain.ScanResolvedEvent)
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:  logger,
		workers: 4,
		ch:      make(chan string, 256),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishScanSubmitted never blocks: a full buffer is reported as a
// temporary failure so the caller can resolve the job instead of hanging.
func (q *Queue) PublishScanSubmitted(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.WrapError(domain.ErrTemporary, "inline publish", ErrQueueClosed)
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		q.logger.Warn("inline queue full", "job_id", jobID, "capacity", cap(q.ch))
		return domain.WrapError(domain.ErrTemporary, "inline publish", errors.New("queue is full"))
	}
}

// SubscribeScanSubmitted starts the worker pool and blocks until ctx is done,
// then stops accepting work and waits for queued jobs to finish.
func (q *Queue) SubscribeScanSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	started := false
	q.once.Do(func() {
		started = true
		for i := range q.workers {
			q.wg.Add(1)
			go q.work(ctx, i+1, handler)
		}
	})
	if !started {
		return errors.New("inline queue already has a subscriber")
	}

	<-ctx.Done()
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

func (q *Queue) work(ctx context.Context, workerID int, handler func(context.Context, string) error) {
	defer q.wg.Done()
	q.logger.Debug("inline worker started", "worker_id", workerID)

	for jobID := range q.ch {
		if err := handler(context.WithoutCancel(ctx), jobID); err != nil {
			q.logger.Error("worker handler error", "worker_id", workerID, "job_id", jobID, "error", err)
		}
	}
	q.logger.Debug("inline worker stopped", "worker_id", workerID)
}

// OnScanResolved registers a listener called synchronously for every
// resolution event.
func (q *Queue) OnScanResolved(listener func(context.Context, domain.ScanResolvedEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, listener)
}

func (q *Queue) PublishScanResolved(ctx context.Context, event domain.ScanResolvedEvent) error {
	q.mu.Lock()
	listeners := append([]func(context.Context, domain.ScanResolvedEvent){}, q.listeners...)
	q.mu.Unlock()

	for _, listener := range listeners {
		listener(ctx, event)
	}
	return nil
}
