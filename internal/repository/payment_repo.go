package repository

import (
	"time"

	"gorm.io/gorm"

	"payfeed/internal/domain"
	"payfeed/internal/models"
)

// PaymentRepository owns fiat payment intents. Status transitions are
// conditional updates so concurrent settlers cannot both win.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *models.FiatPayment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByProviderRef(ref string) (*models.FiatPayment, error) {
	var p models.FiatPayment
	if err := r.db.Where("provider_ref = ?", ref).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByUser(userID uint, limit int) ([]models.FiatPayment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.FiatPayment
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CompleteIfPending moves the intent to COMPLETED only if it is still
// PENDING, returning the number of rows affected. Zero rows means another
// caller already settled or failed it.
func (r *PaymentRepository) CompleteIfPending(id uint, settlementRef string, at time.Time) (int64, error) {
	res := r.db.Model(&models.FiatPayment{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":         domain.PaymentStatusCompleted,
			"settlement_ref": settlementRef,
			"completed_at":   at,
		})
	return res.RowsAffected, res.Error
}

// FailIfPending moves the intent to FAILED only if it is still PENDING.
func (r *PaymentRepository) FailIfPending(id uint) (int64, error) {
	res := r.db.Model(&models.FiatPayment{}).
		Where("id = ? AND status = ?", id, domain.PaymentStatusPending).
		Update("status", domain.PaymentStatusFailed)
	return res.RowsAffected, res.Error
}
