package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/patient-portal/internal/core/domain"
	"github.com/kirillkom/patient-portal/internal/infrastructure/resilience"
)

const queueGroup = "scan-workers"

// Queue carries "scan submitted" job ids to the worker queue group and
// broadcasts "scan resolved" events to anyone listening.
type Queue struct {
	conn          *nats.Conn
	submittedSubj string
	resolvedSubj  string
	executor      *resilience.Executor
	maxInFlight   int
	logger        *slog.Logger
}

type Options struct {
	ResolvedSubject      string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	MaxInFlight          int
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolvedSubj := options.ResolvedSubject
	if resolvedSubj == "" {
		resolvedSubj = subject + ".resolved"
	}
	maxInFlight := options.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}

	conn, err := nats.Connect(
		url,
		nats.Name("patient-portal"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:          conn,
		submittedSubj: subject,
		resolvedSubj:  resolvedSubj,
		executor:      options.ResilienceExecutor,
		maxInFlight:   maxInFlight,
		logger:        logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishScanSubmitted(ctx context.Context, jobID string) error {
	return q.publish(ctx, "nats.publish.submitted", q.submittedSubj, []byte(jobID))
}

func (q *Queue) PublishScanResolved(ctx context.Context, event domain.ScanResolvedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal scan resolved event: %w", err)
	}
	return q.publish(ctx, "nats.publish.resolved", q.resolvedSubj, payload)
}

func (q *Queue) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishError(subject, err)
	}
	return nil
}

// SubscribeScanSubmitted joins the worker queue group and blocks until ctx
// is done. Up to MaxInFlight handlers run at once; shutdown drains the
// subscription and waits for running handlers.
func (q *Queue) SubscribeScanSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	var (
		slots   = make(chan struct{}, q.maxInFlight)
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopped bool
	)

	sub, err := q.conn.QueueSubscribe(q.submittedSubj, queueGroup, func(msg *nats.Msg) {
		mu.Lock()
		if stopped || ctx.Err() != nil {
			mu.Unlock()
			return
		}
		wg.Add(1)
		mu.Unlock()

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Done()
			return
		}

		jobID := string(msg.Data)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			if err := handler(ctx, jobID); err != nil {
				q.logger.Error("worker handler error", "job_id", jobID, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	mu.Lock()
	stopped = true
	mu.Unlock()

	drainErr := sub.Drain()
	wg.Wait()
	if drainErr != nil {
		return fmt.Errorf("nats drain subscription: %w", drainErr)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// SubscribeScanResolved delivers decoded resolution events until ctx is done.
func (q *Queue) SubscribeScanResolved(ctx context.Context, handler func(context.Context, domain.ScanResolvedEvent)) error {
	sub, err := q.conn.Subscribe(q.resolvedSubj, func(msg *nats.Msg) {
		var event domain.ScanResolvedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			q.logger.Warn("malformed scan resolved event", "error", err)
			return
		}
		handler(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe resolved: %w", err)
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats unsubscribe resolved: %w", err)
	}
	return nil
}
