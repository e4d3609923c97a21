// Package nats carries corpus lifecycle events between the worker and API replicas.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const (
	DefaultReindexSubject = "corpus.reindex"
	DefaultUpdatedSubject = "corpus.updated"
	workerQueueGroup      = "workers"
)

type Events struct {
	conn           *nats.Conn
	reindexSubject string
	updatedSubject string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	Name                 string
	ReindexSubject       string
	UpdatedSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Events, error) {
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
	name := options.Name
	if name == "" {
		name = "grounded-rag"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Events{
		conn:           conn,
		reindexSubject: firstNonEmpty(options.ReindexSubject, DefaultReindexSubject),
		updatedSubject: firstNonEmpty(options.UpdatedSubject, DefaultUpdatedSubject),
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (e *Events) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}

type reindexRequested struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

type corpusUpdated struct {
	Revision    uint64    `json:"revision"`
	PublishedAt time.Time `json:"published_at"`
}

func (e *Events) PublishReindexRequested(ctx context.Context, reason string) error {
	payload, err := json.Marshal(reindexRequested{Reason: reason, RequestedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal reindex event: %w", err)
	}
	return e.publish(ctx, e.reindexSubject, payload)
}

func (e *Events) PublishCorpusUpdated(ctx context.Context, revision uint64) error {
	payload, err := json.Marshal(corpusUpdated{Revision: revision, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal corpus updated event: %w", err)
	}
	return e.publish(ctx, e.updatedSubject, payload)
}

// SubscribeReindexRequested load-balances reindex requests across workers and blocks
// until ctx is done.
func (e *Events) SubscribeReindexRequested(ctx context.Context, handler func(context.Context, ports.ReindexRequest) error) error {
	return e.subscribe(ctx, e.reindexSubject, workerQueueGroup, func(ctx context.Context, data []byte) error {
		event, err := decodeReindexRequested(data)
		if err != nil {
			return err
		}
		return handler(ctx, ports.ReindexRequest{Reason: event.Reason, RequestedAt: event.RequestedAt})
	})
}

// SubscribeCorpusUpdated delivers every update to every subscriber and blocks until
// ctx is done.
func (e *Events) SubscribeCorpusUpdated(ctx context.Context, handler func(context.Context, uint64) error) error {
	return e.subscribe(ctx, e.updatedSubject, "", func(ctx context.Context, data []byte) error {
		event, err := decodeCorpusUpdated(data)
		if err != nil {
			return err
		}
		return handler(ctx, event.Revision)
	})
}

func (e *Events) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := e.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if e.executor != nil {
		err = e.executor.Execute(ctx, "nats_publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(subject, err)
}

func (e *Events) subscribe(ctx context.Context, subject, queue string, handle func(context.Context, []byte) error) error {
	cb := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg.Data); err != nil {
			e.logger.Error("event_handler_failed", "subject", subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = e.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = e.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := e.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeReindexRequested(data []byte) (reindexRequested, error) {
	var event reindexRequested
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("decode reindex event: %w", err)
	}
	return event, nil
}

func decodeCorpusUpdated(data []byte) (corpusUpdated, error) {
	var event corpusUpdated
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("decode corpus updated event: %w", err)
	}
	if event.Revision == 0 {
		return event, fmt.Errorf("decode corpus updated event: revision is required")
	}
	return event, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
