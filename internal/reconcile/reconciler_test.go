package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payfeed/internal/domain"
	"payfeed/internal/models"
)

type ledgerRow struct {
	userID      uint
	amountMinor int64
	txType      string
	reference   string
}

type fakeData struct {
	fiat     map[string]*models.FiatPayment
	crypto   map[string]*models.CryptoPayment
	balances map[uint]int64
	ledger   []ledgerRow
}

func (d *fakeData) clone() *fakeData {
	cp := &fakeData{
		fiat:     make(map[string]*models.FiatPayment, len(d.fiat)),
		crypto:   make(map[string]*models.CryptoPayment, len(d.crypto)),
		balances: make(map[uint]int64, len(d.balances)),
		ledger:   append([]ledgerRow(nil), d.ledger...),
	}
	for k, v := range d.fiat {
		c := *v
		cp.fiat[k] = &c
	}
	for k, v := range d.crypto {
		c := *v
		cp.crypto[k] = &c
	}
	for k, v := range d.balances {
		cp.balances[k] = v
	}
	return cp
}

// fakeStore serializes transactions with one mutex, which is exactly the
// linearization the database's conditional updates provide.
type fakeStore struct {
	mu   *sync.Mutex
	d    *fakeData
	inTx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mu: &sync.Mutex{},
		d: &fakeData{
			fiat:     make(map[string]*models.FiatPayment),
			crypto:   make(map[string]*models.CryptoPayment),
			balances: make(map[uint]int64),
		},
	}
}

func (s *fakeStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *fakeStore) InTx(fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.d.clone()
	err := fn(&fakeStore{mu: s.mu, d: s.d, inTx: true})
	if err != nil {
		*s.d = *snap
	}
	return err
}

func (s *fakeStore) FiatByProviderRef(ref string) (*models.FiatPayment, error) {
	defer s.lock()()
	p, ok := s.d.fiat[ref]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) CompleteFiat(id uint, settlementRef string, at time.Time) (int64, error) {
	defer s.lock()()
	for _, p := range s.d.fiat {
		if p.ID == id && p.Status == domain.PaymentStatusPending {
			p.Status = domain.PaymentStatusCompleted
			p.SettlementRef = settlementRef
			p.CompletedAt = &at
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) FailFiat(id uint) (int64, error) {
	defer s.lock()()
	for _, p := range s.d.fiat {
		if p.ID == id && p.Status == domain.PaymentStatusPending {
			p.Status = domain.PaymentStatusFailed
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) CryptoByPaymentID(paymentID string) (*models.CryptoPayment, error) {
	defer s.lock()()
	p, ok := s.d.crypto[paymentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) CompleteCrypto(id uint, txHash string, at time.Time) (int64, error) {
	defer s.lock()()
	for _, p := range s.d.crypto {
		if p.ID == id && p.Status == domain.PaymentStatusPending {
			p.Status = domain.PaymentStatusCompleted
			p.TransactionHash = txHash
			p.ConfirmedAt = &at
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) CloseCrypto(id uint, status string) (int64, error) {
	defer s.lock()()
	for _, p := range s.d.crypto {
		if p.ID == id && p.Status == domain.PaymentStatusPending {
			p.Status = status
			return 1, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) Credit(userID uint, amountMinor int64, txType, reference string) error {
	defer s.lock()()
	s.d.balances[userID] += amountMinor
	s.d.ledger = append(s.d.ledger, ledgerRow{userID, amountMinor, txType, reference})
	return nil
}

func (s *fakeStore) Debit(userID uint, amountMinor int64, txType, reference string) error {
	defer s.lock()()
	if s.d.balances[userID] < amountMinor {
		return ErrInsufficientBalance
	}
	s.d.balances[userID] -= amountMinor
	s.d.ledger = append(s.d.ledger, ledgerRow{userID, -amountMinor, txType, reference})
	return nil
}

func (s *fakeStore) balance(userID uint) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.balances[userID]
}

func (s *fakeStore) ledgerRows() []ledgerRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledgerRow(nil), s.d.ledger...)
}

func seedFiat(s *fakeStore, ref string, userID uint, amountMinor int64) {
	s.d.fiat[ref] = &models.FiatPayment{
		ID:          uint(len(s.d.fiat) + 1),
		UserID:      userID,
		ProviderRef: ref,
		AmountMinor: amountMinor,
		Status:      domain.PaymentStatusPending,
	}
}

func seedCrypto(s *fakeStore, paymentID string, userID uint, amountCrypto float64, rate int64) {
	s.d.crypto[paymentID] = &models.CryptoPayment{
		ID:                uint(len(s.d.crypto) + 1),
		UserID:            userID,
		ProviderPaymentID: paymentID,
		AmountCrypto:      amountCrypto,
		Currency:          "USDT",
		RateAtCreation:    rate,
		Status:            domain.PaymentStatusPending,
	}
}

func TestSettleFiatCreditsExactlyOnce(t *testing.T) {
	store := newFakeStore()
	seedFiat(store, "ref-1", 7, 2_000_000)
	rec := NewReconciler(store)

	first, err := rec.SettleFiat("ref-1", "RCPT-001")
	require.NoError(t, err)
	assert.True(t, first.Credited)
	assert.Equal(t, domain.PaymentStatusCompleted, first.Status)
	assert.Equal(t, "RCPT-001", first.SettlementRef)

	// Every replay converges on the stored result; no further credit.
	for i := 0; i < 5; i++ {
		res, err := rec.SettleFiat("ref-1", "RCPT-OTHER")
		require.NoError(t, err)
		assert.False(t, res.Credited)
		assert.Equal(t, "RCPT-001", res.SettlementRef)
		assert.Equal(t, domain.PaymentStatusCompleted, res.Status)
	}

	assert.Equal(t, int64(2_000_000), store.balance(7))
	assert.Len(t, store.ledgerRows(), 1)
}

func TestSettleFiatConcurrentCallersConverge(t *testing.T) {
	store := newFakeStore()
	seedFiat(store, "ref-race", 9, 2_000_000)
	rec := NewReconciler(store)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*FiatSettlement, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := rec.SettleFiat("ref-race", "RCPT-RACE")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, domain.PaymentStatusCompleted, res.Status)
		assert.Equal(t, "RCPT-RACE", res.SettlementRef)
		if res.Credited {
			credited++
		}
	}
	assert.Equal(t, 1, credited, "exactly one caller wins the transition")
	assert.Equal(t, int64(2_000_000), store.balance(9))
	assert.Len(t, store.ledgerRows(), 1)
}

func TestFailedFiatIsNeverCreditedLater(t *testing.T) {
	store := newFakeStore()
	seedFiat(store, "ref-2", 7, 50_000)
	rec := NewReconciler(store)

	res, err := rec.FailFiat("ref-2")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Status)

	// A late success report cannot resurrect a terminal intent.
	res, err = rec.SettleFiat("ref-2", "RCPT-LATE")
	require.NoError(t, err)
	assert.False(t, res.Credited)
	assert.Equal(t, domain.PaymentStatusFailed, res.Status)
	assert.Empty(t, res.SettlementRef)
	assert.Equal(t, int64(0), store.balance(7))
}

func TestConfirmCryptoUsesFrozenRate(t *testing.T) {
	store := newFakeStore()
	// 10 units frozen at 65,000 minor per unit; the live rate may have moved
	// since, but the credit is fixed at creation time.
	seedCrypto(store, "dep-1", 3, 10, 65_000)
	rec := NewReconciler(store)

	res, err := rec.ConfirmCrypto("dep-1", "0xabc")
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, int64(650_000), res.AmountMinor)
	assert.Equal(t, "0xabc", res.TransactionHash)
	assert.Equal(t, int64(650_000), store.balance(3))

	// Replays converge without touching the balance.
	res, err = rec.ConfirmCrypto("dep-1", "0xother")
	require.NoError(t, err)
	assert.False(t, res.Credited)
	assert.Equal(t, "0xabc", res.TransactionHash)
	assert.Equal(t, int64(650_000), store.balance(3))
	assert.Len(t, store.ledgerRows(), 1)
}

func TestCloseCryptoDoesNotCredit(t *testing.T) {
	store := newFakeStore()
	seedCrypto(store, "dep-2", 3, 0.5, 8_500_000)
	rec := NewReconciler(store)

	res, err := rec.CloseCrypto("dep-2", domain.PaymentStatusExpired)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, res.Status)
	assert.Equal(t, int64(0), store.balance(3))

	// Closing again, or with a bogus status, stays on the stored terminal.
	res, err = rec.CloseCrypto("dep-2", "NONSENSE")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, res.Status)
}

func TestSpendRequiresSufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.d.balances[5] = 100
	rec := NewReconciler(store)

	err := rec.Spend(5, 500, "order-1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(100), store.balance(5))
	assert.Empty(t, store.ledgerRows())

	require.NoError(t, rec.Spend(5, 60, "order-2"))
	assert.Equal(t, int64(40), store.balance(5))
	rows := store.ledgerRows()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-60), rows[0].amountMinor)
	assert.Equal(t, domain.WalletTxTypeSpend, rows[0].txType)
}

func TestSpendRejectsNonPositiveAmounts(t *testing.T) {
	rec := NewReconciler(newFakeStore())
	assert.ErrorIs(t, rec.Spend(1, 0, "x"), ErrInvalidAmount)
	assert.ErrorIs(t, rec.Spend(1, -5, "x"), ErrInvalidAmount)
}

func TestUnknownIntent(t *testing.T) {
	rec := NewReconciler(newFakeStore())
	_, err := rec.SettleFiat("missing", "RCPT")
	assert.ErrorIs(t, err, ErrIntentNotFound)
	_, err = rec.ConfirmCrypto("missing", "0xabc")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}
