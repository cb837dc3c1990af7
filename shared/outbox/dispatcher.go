package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type DispatcherConfig struct {
	// Interval between dispatch cycles. Default 1s.
	Interval time.Duration
	// BatchSize bounds the messages published per cycle. Default 50.
	BatchSize int
	// Lease is how long a claimed message stays hidden from other
	// dispatchers. A dispatcher that dies mid-batch delays its messages by
	// at most this long. Default 30s.
	Lease  time.Duration
	Logger *zap.Logger
}

// Dispatcher relays stored messages to the publisher. A message is marked
// published only after Publish succeeds, so delivery is at least once.
// Failed messages are retried on later cycles without limit.
type Dispatcher struct {
	store     Store
	publisher Publisher
	cfg       DispatcherConfig
	logger    *zap.Logger
}

func NewDispatcher(store Store, publisher Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{store: store, publisher: publisher, cfg: cfg, logger: cfg.Logger.Named("outbox")}
}

// Run dispatches every Interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes one batch and returns how many messages went out.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	messages, err := d.store.Claim(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, m := range messages {
		logger := d.logger.With(
			zap.Stringer("outbox_id", m.ID),
			zap.String("event_type", m.EventType),
			zap.Int("attempts", m.Attempts),
		)

		if err := d.publisher.Publish(ctx, m.Stream, m.EventType, m.Payload); err != nil {
			logger.Warn("publish failed, will retry", zap.Error(err))
			if err := d.store.MarkFailed(ctx, m.ID, err.Error()); err != nil {
				logger.Error("failed to record publish failure", zap.Error(err))
			}
			continue
		}
		if err := d.store.MarkPublished(ctx, m.ID); err != nil {
			// The lease expires and the message goes out again.
			logger.Error("failed to mark published", zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}
