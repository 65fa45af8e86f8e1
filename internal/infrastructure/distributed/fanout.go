package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope wraps a signaling message with the publishing instance's
// identity so subscribers can skip their own messages.
type envelope struct {
	InstanceID string                   `json:"instanceId"`
	Message    *domain.SignalingMessage `json:"message"`
}

// RedisFanout spreads signaling messages to sibling server processes
// over redis pub/sub. Delivery is best-effort: a slow or unreachable
// broker degrades the deployment to single-instance routing, it never
// blocks the local relay beyond the publish timeout.
type RedisFanout struct {
	client         *redis.Client
	channel        string
	instanceID     string
	publishTimeout time.Duration
	logger         *zap.SugaredLogger
}

func NewRedisFanout(client *redis.Client, channel string, publishTimeout time.Duration, logger *zap.SugaredLogger) *RedisFanout {
	if channel == "" {
		channel = "signalhub:signaling"
	}
	if publishTimeout <= 0 {
		publishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisFanout{
		client:         client,
		channel:        channel,
		instanceID:     utils.GenerateInstanceID(),
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// InstanceID identifies this process on the bus.
func (f *RedisFanout) InstanceID() string {
	return f.instanceID
}

func (f *RedisFanout) Publish(ctx context.Context, msg *domain.SignalingMessage) error {
	data, err := json.Marshal(envelope{InstanceID: f.instanceID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal fan-out envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.publishTimeout)
	defer cancel()

	if err := f.client.Publish(pubCtx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", f.channel, err)
	}
	return nil
}

// Subscribe blocks until ctx is cancelled, invoking handler for every
// message published by a sibling instance.
func (f *RedisFanout) Subscribe(ctx context.Context, handler func(*domain.SignalingMessage)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	// Forces the SUBSCRIBE round trip so startup failures surface here
	// instead of silently dropping messages.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	f.logger.Infow("fan-out subscription active", "channel", f.channel, "instance_id", f.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("fan-out subscription to %s closed", f.channel)
			}
			f.dispatch(m.Payload, handler)
		}
	}
}

func (f *RedisFanout) dispatch(payload string, handler func(*domain.SignalingMessage)) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		f.logger.Warnw("dropping malformed fan-out payload", "channel", f.channel, "error", err)
		return
	}
	if env.InstanceID == f.instanceID || env.Message == nil {
		return
	}
	handler(env.Message)
}

func (f *RedisFanout) Close() error {
	return nil
}
