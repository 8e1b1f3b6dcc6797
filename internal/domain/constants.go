package domain

// Payment intent statuses. Transitions are one-directional; everything but
// PENDING is terminal.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusExpired   = "EXPIRED"   // crypto only
	PaymentStatusCancelled = "CANCELLED" // crypto only
)

// Wallet transaction types.
const (
	WalletTxTypeFiatTopUp   = "FIAT_TOPUP"
	WalletTxTypeCryptoTopUp = "CRYPTO_TOPUP"
	WalletTxTypeSpend       = "SPEND"
)

// Rate history sources.
const (
	RateSourceFeed     = "feed"
	RateSourceCross    = "cross"
	RateSourceFallback = "fallback"
)

// Alert events sent to the operator sink.
const (
	AlertFeedDegraded     = "price_feed_degraded"
	AlertSchedulerStopped = "price_scheduler_stopped"
)
