package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payfeed/internal/models"
)

// RateRepository persists exchange rates: an upserted latest-value table the
// read path can warm from, and an append-only history series. Both are
// written in one transaction so a crash never leaves them disagreeing.
type RateRepository struct {
	db *gorm.DB
}

func NewRateRepository(db *gorm.DB) *RateRepository {
	return &RateRepository{db: db}
}

func (r *RateRepository) SaveRates(latest []models.ExchangeRate, history []models.RateHistoryPoint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for i := range latest {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "currency"}},
				DoUpdates: clause.AssignmentColumns([]string{"price_minor", "price_usd", "updated_at"}),
			}).Create(&latest[i]).Error
			if err != nil {
				return err
			}
		}
		if len(history) == 0 {
			return nil
		}
		return tx.Create(&history).Error
	})
}

func (r *RateRepository) LatestRates() ([]models.ExchangeRate, error) {
	var rows []models.ExchangeRate
	err := r.db.Find(&rows).Error
	return rows, err
}

func (r *RateRepository) History(currency string, since time.Time) ([]models.RateHistoryPoint, error) {
	var rows []models.RateHistoryPoint
	err := r.db.Where("currency = ? AND created_at >= ?", currency, since).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
