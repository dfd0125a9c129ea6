// Package events fans settled payments out to downstream consumers.
package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// TypePaymentSettled is the SettledEvent type.
const TypePaymentSettled = "pos_payment_settled"

// Publisher delivers one settled event to a sink.
type Publisher interface {
	PublishSettled(ctx context.Context, event models.SettledEvent) error
	Close() error
}

type SNSPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSPublisher(client awspkg.SNSPublisher, topicArn string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn, logger: logger}
}

func (p *SNSPublisher) PublishSettled(ctx context.Context, event models.SettledEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	attrs := map[string]string{
		"event_type":  event.Type,
		"terminal_id": event.TerminalID,
		"method":      string(event.Method),
	}
	if err := p.client.Publish(ctx, p.topicArn, data, attrs); err != nil {
		return err
	}
	p.logger.Info("Published settled event to SNS", zap.String("transaction_id", event.TransactionID))
	return nil
}

func (p *SNSPublisher) Close() error { return nil }

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) PublishSettled(ctx context.Context, event models.SettledEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to send settled event", zap.String("transaction_id", event.TransactionID), zap.Error(err))
		return err
	}
	p.logger.Info("Sent settled event", zap.String("transaction_id", event.TransactionID), zap.String("topic", p.topic))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops everything.
type NoopPublisher struct{}

func (NoopPublisher) PublishSettled(context.Context, models.SettledEvent) error { return nil }
func (NoopPublisher) Close() error                                              { return nil }
