package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payfeed/internal/models"
	"payfeed/internal/reconcile"
)

// WalletRepository owns wallet balances and the append-only transaction
// ledger. Balance writes are signed deltas executed in SQL; balances are
// never read, modified and written back.
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetByUserID returns the user's wallet, or a zero-balance wallet if none
// has been created yet.
func (r *WalletRepository) GetByUserID(userID uint) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Wallet{UserID: userID, Currency: "KES"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) ensure(userID uint) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Wallet{UserID: userID, Currency: "KES"}).Error
}

// Credit adds amountMinor to the wallet and appends a ledger row.
func (r *WalletRepository) Credit(userID uint, amountMinor int64, txType, reference string) error {
	if err := r.ensure(userID); err != nil {
		return err
	}
	err := r.db.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("balance_minor", gorm.Expr("balance_minor + ?", amountMinor)).Error
	if err != nil {
		return err
	}
	return r.db.Create(&models.WalletTransaction{
		UserID:      userID,
		AmountMinor: amountMinor,
		Type:        txType,
		Reference:   reference,
	}).Error
}

// Debit subtracts amountMinor with the sufficiency guard in the WHERE
// clause; zero affected rows means the balance was too low.
func (r *WalletRepository) Debit(userID uint, amountMinor int64, txType, reference string) error {
	res := r.db.Model(&models.Wallet{}).
		Where("user_id = ? AND balance_minor >= ?", userID, amountMinor).
		Update("balance_minor", gorm.Expr("balance_minor - ?", amountMinor))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return reconcile.ErrInsufficientBalance
	}
	return r.db.Create(&models.WalletTransaction{
		UserID:      userID,
		AmountMinor: -amountMinor,
		Type:        txType,
		Reference:   reference,
	}).Error
}

// Transactions lists the most recent ledger rows for a user.
func (r *WalletRepository) Transactions(userID uint, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.WalletTransaction
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
