package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// Poller is satisfied by awspkg.SQSConsumer.
type Poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

// SQSSource reads push frames from a per-terminal SQS queue, for sites where
// the push server fans out through SNS instead of websockets.
type SQSSource struct {
	poller    Poller
	namespace string
	logger    *zap.Logger
}

func NewSQSSource(poller Poller, namespace string, logger *zap.Logger) *SQSSource {
	return &SQSSource{poller: poller, namespace: namespace, logger: logger}
}

func (s *SQSSource) Name() string { return "sqs" }

func (s *SQSSource) Stream(ctx context.Context, onConnected func(), onEvent func(models.PaymentEvent)) error {
	onConnected()
	return s.poller.StartPolling(ctx, func(_ context.Context, body string) error {
		var frame Frame
		if err := json.Unmarshal([]byte(body), &frame); err != nil {
			s.logger.Warn("Dropping malformed relay message", zap.Error(err))
			return nil
		}
		if frame.Event != EventPaymentSuccess {
			return nil
		}
		if frame.UserID != "" && frame.UserID != s.namespace {
			return nil
		}
		onEvent(frame.Data)
		return nil
	})
}
