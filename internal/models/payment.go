package models

import (
	"time"

	"gorm.io/gorm"
)

// FiatPayment is a fiat top-up intent. Status leaves PENDING exactly once;
// COMPLETED and FAILED are immutable.
type FiatPayment struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"not null;index" json:"user_id"`
	ProviderRef   string         `gorm:"size:255;uniqueIndex;not null" json:"provider_ref"`
	AmountMinor   int64          `gorm:"not null" json:"amount_minor"`
	Currency      string         `gorm:"size:3;default:'KES'" json:"currency"`
	Description   string         `gorm:"size:255" json:"description"`
	Status        string         `gorm:"size:20;not null;index" json:"status"`
	SettlementRef string         `gorm:"size:255" json:"settlement_ref"`
	CompletedAt   *time.Time     `json:"completed_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (FiatPayment) TableName() string { return "fiat_payments" }
