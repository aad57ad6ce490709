package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/expert-router/internal/infrastructure/resilience"
)

// Bus carries ingestion coordination over two NATS subjects: index-run
// requests are queue-grouped so exactly one indexer picks each up, snapshot
// announcements fan out to every API instance.
type Bus struct {
	conn            *nats.Conn
	indexSubject    string
	snapshotSubject string
	executor        *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, indexSubject, snapshotSubject string) (*Bus, error) {
	return NewWithOptions(url, indexSubject, snapshotSubject, Options{})
}

func NewWithOptions(url, indexSubject, snapshotSubject string, options Options) (*Bus, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("expert-router"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:            conn,
		indexSubject:    indexSubject,
		snapshotSubject: snapshotSubject,
		executor:        options.ResilienceExecutor,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishIndexRequested(ctx context.Context, reason string) error {
	return b.publish(ctx, b.indexSubject, reason)
}

func (b *Bus) PublishSnapshotUpdated(ctx context.Context, passID string) error {
	return b.publish(ctx, b.snapshotSubject, passID)
}

func (b *Bus) publish(ctx context.Context, subject, payload string) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, []byte(payload)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeIndexRequested joins the indexer queue group and blocks until ctx
// is cancelled. Handler errors are logged so a failed pass does not tear down
// the subscription.
func (b *Bus) SubscribeIndexRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := b.conn.QueueSubscribe(b.indexSubject, "indexers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Warn("index_request_handler_failed", "reason", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.indexSubject, err)
	}
	return b.waitAndDrain(ctx, sub)
}

// SubscribeSnapshotUpdated fans out to every listener and blocks until ctx is
// cancelled.
func (b *Bus) SubscribeSnapshotUpdated(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := b.conn.Subscribe(b.snapshotSubject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Warn("snapshot_update_handler_failed", "pass_id", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.snapshotSubject, err)
	}
	return b.waitAndDrain(ctx, sub)
}

func (b *Bus) waitAndDrain(ctx context.Context, sub *nats.Subscription) error {
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
