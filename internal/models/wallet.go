package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet holds the single authoritative balance per user. It is mutated only
// through signed-delta updates in the wallet repository.
type Wallet struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"uniqueIndex;not null" json:"user_id"`
	BalanceMinor int64          `gorm:"not null;default:0" json:"balance_minor"`
	Currency     string         `gorm:"size:3;default:'KES'" json:"currency"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Wallet) TableName() string { return "wallets" }
