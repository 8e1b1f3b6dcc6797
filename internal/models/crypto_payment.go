package models

import (
	"time"

	"gorm.io/gorm"
)

// CryptoPayment is a crypto top-up intent. RateAtCreation is frozen when the
// intent is created and never re-fetched, so the credited amount is
// deterministic regardless of later price drift.
type CryptoPayment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UserID            uint           `gorm:"not null;index" json:"user_id"`
	ProviderPaymentID string         `gorm:"size:255;uniqueIndex;not null" json:"provider_payment_id"`
	AmountCrypto      float64        `gorm:"not null" json:"amount_crypto"`
	Currency          string         `gorm:"size:10;not null" json:"currency"`
	RateAtCreation    int64          `gorm:"not null" json:"exchange_rate_at_creation"` // minor units per whole crypto unit
	AmountMinor       int64          `gorm:"not null" json:"amount_minor"`              // AmountCrypto * RateAtCreation
	Status            string         `gorm:"size:20;not null;index" json:"status"`
	TransactionHash   string         `gorm:"size:128" json:"transaction_hash"`
	PayURL            string         `gorm:"size:512" json:"pay_url"`
	Address           string         `gorm:"size:128" json:"address"`
	ConfirmedAt       *time.Time     `json:"confirmed_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (CryptoPayment) TableName() string { return "crypto_payments" }
