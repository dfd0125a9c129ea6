package display

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// RedisBus carries display messages between processes on one terminal over
// redis Pub/Sub. The last message is also kept under a key so a display
// that starts late renders the current state straight away.
type RedisBus struct {
	client  *redis.Client
	channel string
	lastKey string
	ttl     time.Duration
	logger  *zap.Logger
}

func NewRedisBus(client *redis.Client, terminalID string, ttl time.Duration, logger *zap.Logger) *RedisBus {
	channel := ChannelName(terminalID)
	return &RedisBus{
		client:  client,
		channel: channel,
		lastKey: channel + ":last",
		ttl:     ttl,
		logger:  logger,
	}
}

// ChannelName is the pub/sub channel for a terminal.
func ChannelName(terminalID string) string {
	return fmt.Sprintf("pos:display:%s", terminalID)
}

func (b *RedisBus) Publish(ctx context.Context, msg models.DisplayMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.lastKey, data, b.ttl)
	pipe.Publish(ctx, b.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish display message: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	sub := newSubscription(func() { _ = ps.Close() })
	if last, ok, err := b.Last(ctx); err == nil && ok {
		sub.offer(last)
	}

	go func() {
		defer close(sub.ch)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				msg, err := Decode([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("Dropping malformed display message", zap.Error(err))
					continue
				}
				sub.offer(msg)
			}
		}
	}()
	return sub, nil
}

func (b *RedisBus) Last(ctx context.Context) (models.DisplayMessage, bool, error) {
	data, err := b.client.Get(ctx, b.lastKey).Bytes()
	if err == redis.Nil {
		return models.DisplayMessage{}, false, nil
	}
	if err != nil {
		return models.DisplayMessage{}, false, err
	}
	msg, err := Decode(data)
	if err != nil {
		return models.DisplayMessage{}, false, err
	}
	return msg, true, nil
}

// Encode serialises a message as the JSON wire envelope.
func Encode(msg models.DisplayMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a wire envelope and rejects unknown types.
func Decode(data []byte) (models.DisplayMessage, error) {
	var msg models.DisplayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	switch msg.Type {
	case models.DisplayCartUpdate, models.DisplayPaymentQR, models.DisplayPaymentSuccess, models.DisplayPaymentEnd:
		return msg, nil
	}
	return msg, fmt.Errorf("unknown display message type %q", msg.Type)
}
