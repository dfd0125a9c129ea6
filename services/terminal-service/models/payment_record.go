package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is the terminal's local journal row for one checkout.
type PaymentRecord struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID string        `gorm:"uniqueIndex;not null" json:"transaction_id"`
	TerminalID    string        `gorm:"index;not null" json:"terminal_id"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentState  `gorm:"index;not null" json:"status"`
	GrossAmount   int64         `json:"gross_amount"`
	PointsUsed    int           `json:"points_used"`
	FinalAmount   int64         `json:"final_amount"`
	TrxNo         *string       `json:"trx_no,omitempty"`
	RedirectURL   *string       `json:"redirect_url,omitempty"`
	Source        OutcomeSource `json:"source,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

func (PaymentRecord) TableName() string { return "payment_records" }
