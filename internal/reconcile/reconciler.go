package reconcile

import (
	"errors"
	"log"
	"math"
	"time"

	"payfeed/internal/domain"
	"payfeed/internal/models"
)

var (
	ErrIntentNotFound      = errors.New("payment intent not found")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Store is the transactional capability the reconciler needs: conditional
// status transitions that report affected rows, and signed-delta wallet
// writes, composable inside one transaction. The gorm implementation lives
// in internal/repository.
type Store interface {
	InTx(fn func(tx Store) error) error

	FiatByProviderRef(ref string) (*models.FiatPayment, error)
	CompleteFiat(id uint, settlementRef string, at time.Time) (int64, error)
	FailFiat(id uint) (int64, error)

	CryptoByPaymentID(paymentID string) (*models.CryptoPayment, error)
	CompleteCrypto(id uint, txHash string, at time.Time) (int64, error)
	CloseCrypto(id uint, status string) (int64, error)

	Credit(userID uint, amountMinor int64, txType, reference string) error
	Debit(userID uint, amountMinor int64, txType, reference string) error
}

// FiatSettlement is the converged, idempotent result of fiat verification.
type FiatSettlement struct {
	ProviderRef   string `json:"provider_ref"`
	SettlementRef string `json:"settlement_ref"`
	AmountMinor   int64  `json:"amount_minor"`
	Status        string `json:"status"`
	Credited      bool   `json:"-"`
}

// CryptoSettlement is the converged result of crypto confirmation.
type CryptoSettlement struct {
	PaymentID       string `json:"payment_id"`
	TransactionHash string `json:"transaction_hash"`
	AmountMinor     int64  `json:"amount_minor"`
	Status          string `json:"status"`
	Credited        bool   `json:"-"`
}

// Reconciler turns verified provider reports into at-most-once wallet
// credits. The conditional transition gating the credit, both inside one
// transaction, is the only double-credit protection; concurrent attempts are
// linearized by the store's per-row conditional update.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// SettleFiat drives PENDING→COMPLETED for a fiat intent and credits the
// wallet in the same transaction. If the intent already left PENDING the
// stored result is returned unchanged.
func (r *Reconciler) SettleFiat(providerRef, settlementRef string) (*FiatSettlement, error) {
	p, err := r.store.FiatByProviderRef(providerRef)
	if err != nil {
		return nil, err
	}
	credited := false
	err = r.store.InTx(func(tx Store) error {
		n, err := tx.CompleteFiat(p.ID, settlementRef, time.Now())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		credited = true
		return tx.Credit(p.UserID, p.AmountMinor, domain.WalletTxTypeFiatTopUp, p.ProviderRef)
	})
	if err != nil {
		return nil, err
	}
	if !credited {
		return r.storedFiatResult(providerRef)
	}
	log.Printf("[Reconcile] fiat %s settled, credited %d minor to user %d", providerRef, p.AmountMinor, p.UserID)
	return &FiatSettlement{
		ProviderRef:   p.ProviderRef,
		SettlementRef: settlementRef,
		AmountMinor:   p.AmountMinor,
		Status:        domain.PaymentStatusCompleted,
		Credited:      true,
	}, nil
}

// FailFiat drives PENDING→FAILED; no credit. Terminal intents are untouched.
func (r *Reconciler) FailFiat(providerRef string) (*FiatSettlement, error) {
	p, err := r.store.FiatByProviderRef(providerRef)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.FailFiat(p.ID); err != nil {
		return nil, err
	}
	return r.storedFiatResult(providerRef)
}

func (r *Reconciler) storedFiatResult(providerRef string) (*FiatSettlement, error) {
	p, err := r.store.FiatByProviderRef(providerRef)
	if err != nil {
		return nil, err
	}
	return &FiatSettlement{
		ProviderRef:   p.ProviderRef,
		SettlementRef: p.SettlementRef,
		AmountMinor:   p.AmountMinor,
		Status:        p.Status,
	}, nil
}

// ConfirmCrypto drives PENDING→COMPLETED for a crypto intent. The credited
// amount is always amountCrypto × the rate frozen at creation; the live rate
// is never consulted at settlement.
func (r *Reconciler) ConfirmCrypto(paymentID, txHash string) (*CryptoSettlement, error) {
	p, err := r.store.CryptoByPaymentID(paymentID)
	if err != nil {
		return nil, err
	}
	amountMinor := int64(math.Round(p.AmountCrypto * float64(p.RateAtCreation)))
	credited := false
	err = r.store.InTx(func(tx Store) error {
		n, err := tx.CompleteCrypto(p.ID, txHash, time.Now())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		credited = true
		return tx.Credit(p.UserID, amountMinor, domain.WalletTxTypeCryptoTopUp, p.ProviderPaymentID)
	})
	if err != nil {
		return nil, err
	}
	if !credited {
		return r.storedCryptoResult(paymentID)
	}
	log.Printf("[Reconcile] crypto %s confirmed, credited %d minor to user %d (%.8f %s @ %d)",
		paymentID, amountMinor, p.UserID, p.AmountCrypto, p.Currency, p.RateAtCreation)
	return &CryptoSettlement{
		PaymentID:       p.ProviderPaymentID,
		TransactionHash: txHash,
		AmountMinor:     amountMinor,
		Status:          domain.PaymentStatusCompleted,
		Credited:        true,
	}, nil
}

// CloseCrypto drives PENDING→{FAILED,EXPIRED,CANCELLED}; no credit.
func (r *Reconciler) CloseCrypto(paymentID, status string) (*CryptoSettlement, error) {
	switch status {
	case domain.PaymentStatusFailed, domain.PaymentStatusExpired, domain.PaymentStatusCancelled:
	default:
		status = domain.PaymentStatusFailed
	}
	p, err := r.store.CryptoByPaymentID(paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.CloseCrypto(p.ID, status); err != nil {
		return nil, err
	}
	return r.storedCryptoResult(paymentID)
}

func (r *Reconciler) storedCryptoResult(paymentID string) (*CryptoSettlement, error) {
	p, err := r.store.CryptoByPaymentID(paymentID)
	if err != nil {
		return nil, err
	}
	return &CryptoSettlement{
		PaymentID:       p.ProviderPaymentID,
		TransactionHash: p.TransactionHash,
		AmountMinor:     p.AmountMinor,
		Status:          p.Status,
	}, nil
}

// Spend debits a user's wallet with the sufficiency guard; insufficient
// balance aborts the transaction, ledger row included.
func (r *Reconciler) Spend(userID uint, amountMinor int64, reference string) error {
	if amountMinor <= 0 {
		return ErrInvalidAmount
	}
	return r.store.InTx(func(tx Store) error {
		return tx.Debit(userID, amountMinor, domain.WalletTxTypeSpend, reference)
	})
}
