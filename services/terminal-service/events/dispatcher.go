package events

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/repository"
)

// Dispatcher publishes each transaction's settled event at most once.
type Dispatcher struct {
	store     repository.SettlementStore
	publisher Publisher
	logger    *zap.Logger
}

func NewDispatcher(store repository.SettlementStore, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, publisher: publisher, logger: logger}
}

// Dispatch returns ErrDuplicateEvent when the transaction was already
// claimed. A failed publish is not retried and the claim is kept.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.SettledEvent) error {
	if event.Type == "" {
		event.Type = TypePaymentSettled
	}

	first, err := d.store.Claim(ctx, event.TransactionID)
	if err != nil {
		d.logger.Warn("Settlement store unavailable, publishing anyway",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	} else if !first {
		d.logger.Info("Skipping duplicate settled event", zap.String("transaction_id", event.TransactionID))
		return apperrors.ErrDuplicateEvent
	}

	return d.publisher.PublishSettled(ctx, event)
}
