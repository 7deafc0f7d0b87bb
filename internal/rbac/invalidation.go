package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel is the Redis channel carrying invalidation events.
const DefaultInvalidationChannel = "rbac.invalidate"

const clearAllToken = "*"

// LocalInvalidator drops cache entries held by this process.
type LocalInvalidator interface {
	DropLocal(ctx context.Context, userID int64)
	DropAllLocal(ctx context.Context)
}

// InvalidationBus broadcasts invalidations over Redis pub/sub so every process
// drops its local entries, not only the one that handled the mutation.
type InvalidationBus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewInvalidationBus builds a bus publishing on channel.
func NewInvalidationBus(client *redis.Client, channel string, logger *slog.Logger) *InvalidationBus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationBus{client: client, channel: channel, origin: uuid.NewString(), logger: logger}
}

// NotifyInvalidate publishes a single-user invalidation.
func (b *InvalidationBus) NotifyInvalidate(ctx context.Context, userID int64) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Publish(ctx, b.channel, b.origin+"|"+strconv.FormatInt(userID, 10)).Err()
}

// NotifyClear publishes a clear-all event.
func (b *InvalidationBus) NotifyClear(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Publish(ctx, b.channel, b.origin+"|"+clearAllToken).Err()
}

// Listen subscribes to the channel and applies peer events to target until ctx is done.
// It returns once the subscription is confirmed.
func (b *InvalidationBus) Listen(ctx context.Context, target LocalInvalidator) error {
	if b == nil || b.client == nil {
		return nil
	}
	if target == nil {
		return errors.New("rbac: invalidation target required")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.apply(ctx, target, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *InvalidationBus) apply(ctx context.Context, target LocalInvalidator, payload string) {
	origin, subject, ok := strings.Cut(payload, "|")
	if !ok {
		b.logger.Warn("rbac invalidation malformed", slog.String("payload", payload))
		return
	}
	if origin == b.origin {
		return
	}
	if subject == clearAllToken {
		target.DropAllLocal(ctx)
		return
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		// Unknown subject: clearing everything is the only safe reaction.
		b.logger.Warn("rbac invalidation bad user id", slog.String("payload", payload))
		target.DropAllLocal(ctx)
		return
	}
	target.DropLocal(ctx, userID)
}

var _ Notifier = (*InvalidationBus)(nil)
