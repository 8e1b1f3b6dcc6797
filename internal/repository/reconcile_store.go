package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"payfeed/internal/models"
	"payfeed/internal/reconcile"
)

// ReconcileStore implements reconcile.Store over gorm, composing the
// payment, crypto and wallet repositories so the reconciler can run a
// conditional transition and the matching wallet write in one transaction.
type ReconcileStore struct {
	db       *gorm.DB
	payments *PaymentRepository
	crypto   *CryptoRepository
	wallets  *WalletRepository
}

func NewReconcileStore(db *gorm.DB) *ReconcileStore {
	return &ReconcileStore{
		db:       db,
		payments: NewPaymentRepository(db),
		crypto:   NewCryptoRepository(db),
		wallets:  NewWalletRepository(db),
	}
}

func (s *ReconcileStore) InTx(fn func(tx reconcile.Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewReconcileStore(tx))
	})
}

func (s *ReconcileStore) FiatByProviderRef(ref string) (*models.FiatPayment, error) {
	p, err := s.payments.GetByProviderRef(ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reconcile.ErrIntentNotFound
	}
	return p, err
}

func (s *ReconcileStore) CompleteFiat(id uint, settlementRef string, at time.Time) (int64, error) {
	return s.payments.CompleteIfPending(id, settlementRef, at)
}

func (s *ReconcileStore) FailFiat(id uint) (int64, error) {
	return s.payments.FailIfPending(id)
}

func (s *ReconcileStore) CryptoByPaymentID(paymentID string) (*models.CryptoPayment, error) {
	p, err := s.crypto.GetByPaymentID(paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reconcile.ErrIntentNotFound
	}
	return p, err
}

func (s *ReconcileStore) CompleteCrypto(id uint, txHash string, at time.Time) (int64, error) {
	return s.crypto.CompleteIfPending(id, txHash, at)
}

func (s *ReconcileStore) CloseCrypto(id uint, status string) (int64, error) {
	return s.crypto.CloseIfPending(id, status)
}

func (s *ReconcileStore) Credit(userID uint, amountMinor int64, txType, reference string) error {
	return s.wallets.Credit(userID, amountMinor, txType, reference)
}

func (s *ReconcileStore) Debit(userID uint, amountMinor int64, txType, reference string) error {
	return s.wallets.Debit(userID, amountMinor, txType, reference)
}
