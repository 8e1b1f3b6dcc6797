package models

import (
	"time"

	"gorm.io/gorm"
)

// WalletTransaction records every balance mutation (top-ups, spends) for the
// audit trail. One row per credited intent transition.
type WalletTransaction struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	AmountMinor int64          `gorm:"not null" json:"amount_minor"` // positive = credit, negative = debit
	Type        string         `gorm:"size:30;not null;index" json:"type"`
	Reference   string         `gorm:"size:255" json:"reference"` // provider ref / payment id
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }
