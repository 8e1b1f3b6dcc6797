package repository

import (
	"time"

	"gorm.io/gorm"

	"payfeed/internal/domain"
	"payfeed/internal/models"
)

// CryptoRepository owns crypto payment intents, keyed by the provider's
// payment id. The rate frozen at creation never changes after insert.
type CryptoRepository struct {
	db *gorm.DB
}

func NewCryptoRepository(db *gorm.DB) *CryptoRepository {
	return &CryptoRepository{db: db}
}

func (r *CryptoRepository) Create(p *models.CryptoPayment) error {
	return r.db.Create(p).Error
}

func (r *CryptoRepository) GetByPaymentID(paymentID string) (*models.CryptoPayment, error) {
	var p models.CryptoPayment
	if err := r.db.Where("provider_payment_id = ?", paymentID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CryptoRepository) ListByUser(userID uint, limit int) ([]models.CryptoPayment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.CryptoPayment
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CompleteIfPending moves the intent to COMPLETED only if it is still
// PENDING, recording the on-chain hash and confirmation time.
func (r *CryptoRepository) CompleteIfPending(id uint, txHash string, at time.Time) (int64, error) {
	res := r.db.Model(&models.CryptoPayment{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":           domain.PaymentStatusCompleted,
			"transaction_hash": txHash,
			"confirmed_at":     at,
		})
	return res.RowsAffected, res.Error
}

// CloseIfPending moves the intent to a non-credited terminal status.
func (r *CryptoRepository) CloseIfPending(id uint, status string) (int64, error) {
	res := r.db.Model(&models.CryptoPayment{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Update("status", status)
	return res.RowsAffected, res.Error
}
