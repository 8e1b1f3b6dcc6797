package models

import "time"

// ExchangeRate is the latest-value table: one row per currency, upserted on
// every successful refresh, never appended.
type ExchangeRate struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Currency   string    `gorm:"size:10;uniqueIndex;not null" json:"currency"`
	PriceMinor int64     `gorm:"not null" json:"price_minor"`
	PriceUSD   float64   `json:"price_usd"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// RateHistoryPoint is append-only; one row per currency per refresh.
// Anomaly marks values that were clamped or replaced during sanitizing.
type RateHistoryPoint struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Currency   string    `gorm:"size:10;not null;index:idx_rate_history_currency_created" json:"currency"`
	PriceMinor int64     `gorm:"not null" json:"price_minor"`
	PriceUSD   float64   `json:"price_usd"`
	Source     string    `gorm:"size:20;not null" json:"source"` // feed, cross, fallback
	Anomaly    bool      `gorm:"not null;default:false" json:"anomaly"`
	CreatedAt  time.Time `gorm:"index:idx_rate_history_currency_created" json:"created_at"`
}

func (RateHistoryPoint) TableName() string { return "rate_history" }
