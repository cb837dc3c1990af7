package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, event Event) error

// ErrPermanent marks handler errors no retry can fix. Entries failing with
// it go to the dead letter stream at once.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// DeadLetterStream names the stream that receives entries given up on.
func DeadLetterStream(stream string) string {
	return stream + ".dead"
}

type SubscriberConfig struct {
	Group    string
	Consumer string
	Stream   string
	Handler  Handler
	// BatchSize bounds the entries read per poll. Default 10.
	BatchSize int64
	// BlockDuration is how long a poll waits for new entries. Default 5s.
	BlockDuration time.Duration
	// ClaimIdle is how long an entry may sit unacknowledged, for example after
	// a handler error or a consumer crash, before any consumer in the group
	// retries it. Default 30s.
	ClaimIdle time.Duration
	// MaxDeliveries caps how often an entry is handed to the handler before
	// it is moved to the dead letter stream. Default 5.
	MaxDeliveries int64
	Logger        *zap.Logger
}

// Subscriber consumes a stream as one member of a consumer group. Entries are
// acknowledged only after the handler succeeds, so delivery is at least once
// and handlers must tolerate duplicates. Entries that fail permanently or too
// often are copied to DeadLetterStream and acknowledged.
type Subscriber struct {
	client *redis.Client
	cfg    SubscriberConfig
	logger *zap.Logger
}

func NewSubscriber(client *redis.Client, cfg SubscriberConfig) *Subscriber {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 30 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Subscriber{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With(
			zap.String("stream", cfg.Stream),
			zap.String("group", cfg.Group),
			zap.String("consumer", cfg.Consumer),
		),
	}
}

// Start joins the group and polls until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	s.logger.Info("subscriber started")

	for ctx.Err() == nil {
		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	s.logger.Info("subscriber stopped")
	return ctx.Err()
}

func (s *Subscriber) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", s.cfg.Group, err)
	}
	return nil
}

// Poll retries stale pending entries, then handles one batch of new ones. It
// returns how many entries were acknowledged.
func (s *Subscriber) Poll(ctx context.Context) (int, error) {
	stale, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    s.cfg.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to claim pending entries: %w", err)
	}
	acked := s.handleAll(ctx, stale, true)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.BlockDuration,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return acked, nil
	}
	if err != nil {
		return acked, fmt.Errorf("failed to read from stream: %w", err)
	}
	for _, stream := range streams {
		acked += s.handleAll(ctx, stream.Messages, false)
	}
	return acked, nil
}

// handleAll returns how many messages were acknowledged. Reclaimed messages
// are checked against MaxDeliveries first.
func (s *Subscriber) handleAll(ctx context.Context, messages []redis.XMessage, reclaimed bool) int {
	acked := 0
	for _, message := range messages {
		logger := s.logger.With(zap.String("message_id", message.ID))

		if reclaimed {
			if n := s.deliveries(ctx, message.ID); n > s.cfg.MaxDeliveries {
				reason := fmt.Errorf("gave up after %d deliveries", n-1)
				logger.Error("moving entry to dead letter stream", zap.Error(reason))
				if s.deadLetter(ctx, logger, message, reason) {
					acked++
				}
				continue
			}
		}

		err := s.handle(ctx, message)
		switch {
		case errors.Is(err, ErrPermanent):
			logger.Error("handler failed permanently, moving entry to dead letter stream", zap.Error(err))
			if s.deadLetter(ctx, logger, message, err) {
				acked++
			}
			continue
		case err != nil:
			logger.Error("handler failed, entry left pending", zap.Error(err))
			continue
		}
		if s.ack(ctx, logger, message.ID) {
			acked++
		}
	}
	return acked
}

// deliveries reads the entry's delivery count, including the current one.
// When it cannot be read the entry is handled as usual.
func (s *Subscriber) deliveries(ctx context.Context, id string) int64 {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Stream,
		Group:  s.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read delivery count", zap.String("message_id", id), zap.Error(err))
		}
		return 0
	}
	return pending[0].RetryCount
}

// deadLetter copies message to the dead letter stream, then acks it. The
// entry stays pending if the copy fails.
func (s *Subscriber) deadLetter(ctx context.Context, logger *zap.Logger, message redis.XMessage, reason error) bool {
	values := make(map[string]any, len(message.Values)+3)
	for k, v := range message.Values {
		values[k] = v
	}
	values["source_id"] = message.ID
	values["group"] = s.cfg.Group
	values["error"] = reason.Error()

	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(s.cfg.Stream), Values: values}).Err(); err != nil {
		logger.Error("failed to dead-letter entry", zap.Error(err))
		return false
	}
	return s.ack(ctx, logger, message.ID)
}

func (s *Subscriber) ack(ctx context.Context, logger *zap.Logger, id string) bool {
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, id).Err(); err != nil {
		logger.Error("failed to ack entry", zap.Error(err))
		return false
	}
	return true
}

func (s *Subscriber) handle(ctx context.Context, message redis.XMessage) error {
	payload, ok := message.Values[messageField].(string)
	if !ok {
		return Permanent(fmt.Errorf("entry has no %q field", messageField))
	}
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Permanent(fmt.Errorf("failed to decode event: %w", err))
	}
	return s.cfg.Handler(ctx, event)
}
