package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payfeed/internal/middleware"
	"payfeed/internal/models"
	"payfeed/internal/reconcile"
	"payfeed/internal/repository"
)

// WalletHandler exposes balances, the transaction ledger, and spending.
type WalletHandler struct {
	wallets    *repository.WalletRepository
	reconciler *reconcile.Reconciler
	audit      *repository.AuditRepository
}

func NewWalletHandler(wallets *repository.WalletRepository, rec *reconcile.Reconciler,
	audit *repository.AuditRepository) *WalletHandler {
	return &WalletHandler{wallets: wallets, reconciler: rec, audit: audit}
}

func (h *WalletHandler) Balance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	w, err := h.wallets.GetByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load wallet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_minor": w.BalanceMinor,
		"currency":      w.Currency,
	})
}

func (h *WalletHandler) Transactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rows, err := h.wallets.Transactions(userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load transactions"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, t := range rows {
		out = append(out, gin.H{
			"amount_minor": t.AmountMinor,
			"type":         t.Type,
			"reference":    t.Reference,
			"created_at":   t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

type spendReq struct {
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Reference   string `json:"reference"`
}

// Spend debits the wallet. Insufficient balance is a clean 400 with no
// partial writes.
func (h *WalletHandler) Spend(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req spendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	err := h.reconciler.Spend(userID, req.AmountMinor, reference)
	if errors.Is(err, reconcile.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if errors.Is(err, reconcile.ErrInsufficientBalance) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient balance"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
		return
	}
	ip, ua := auditFields(c)
	h.audit.Record(&models.AuditLog{
		UserID: &userID, Action: "wallet.spend", Resource: "wallet",
		ResourceID: reference, IP: ip, UserAgent: ua,
	})
	w, err := h.wallets.GetByUserID(userID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "reference": reference})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"reference":     reference,
		"balance_minor": w.BalanceMinor,
	})
}
