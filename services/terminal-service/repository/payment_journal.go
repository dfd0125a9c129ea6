package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// PaymentJournal keeps one row per checkout for end-of-day reconciliation.
type PaymentJournal interface {
	Open(ctx context.Context, rec *models.PaymentRecord) error
	UpdateStatus(ctx context.Context, transactionID string, status models.PaymentState, fields map[string]interface{}) error
	MarkSettled(ctx context.Context, transactionID string, source models.OutcomeSource, at time.Time) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
}

type gormPaymentJournal struct {
	db *gorm.DB
}

func NewGormPaymentJournal(db *gorm.DB) PaymentJournal {
	return &gormPaymentJournal{db: db}
}

func (r *gormPaymentJournal) Open(ctx context.Context, rec *models.PaymentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *gormPaymentJournal) UpdateStatus(ctx context.Context, transactionID string, status models.PaymentState, fields map[string]interface{}) error {
	updates := map[string]interface{}{}
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = status
	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("transaction_id = ?", transactionID).
		Updates(updates).Error
}

// MarkSettled only touches rows not settled yet.
func (r *gormPaymentJournal) MarkSettled(ctx context.Context, transactionID string, source models.OutcomeSource, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("transaction_id = ? AND settled_at IS NULL", transactionID).
		Updates(map[string]interface{}{
			"status":     models.StateSucceeded,
			"source":     source,
			"settled_at": &at,
			"updated_at": time.Now(),
		}).Error
}

func (r *gormPaymentJournal) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// NoopJournal is used when no database is configured.
type NoopJournal struct{}

func (NoopJournal) Open(context.Context, *models.PaymentRecord) error { return nil }

func (NoopJournal) UpdateStatus(context.Context, string, models.PaymentState, map[string]interface{}) error {
	return nil
}

func (NoopJournal) MarkSettled(context.Context, string, models.OutcomeSource, time.Time) error {
	return nil
}

func (NoopJournal) FindByTransactionID(context.Context, string) (*models.PaymentRecord, error) {
	return nil, gorm.ErrRecordNotFound
}
