package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer long-polls a single queue.
type SQSConsumer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return newSQSConsumer(sqs.NewFromConfig(cfg), queueURL, logger)
}

func newSQSConsumer(client sqsAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSConsumer{client: client, queueURL: queueURL, logger: logger}
}

// MessageHandler is a function that processes an SQS message
type MessageHandler func(ctx context.Context, body string) error

// StartPolling receives and dispatches messages until ctx is cancelled or a
// receive call fails. A handler error leaves the message on the queue to be
// redelivered after its visibility timeout.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.pollOnce(ctx, handler); err != nil {
			return err
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			c.logger.Warn("Failed to process SQS message", zap.Error(err))
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("Failed to delete SQS message", zap.Error(err))
		}
	}

	return nil
}
