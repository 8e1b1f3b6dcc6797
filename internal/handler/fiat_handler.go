package handler

import (
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payfeed/config"
	"payfeed/internal/domain"
	"payfeed/internal/middleware"
	"payfeed/internal/models"
	"payfeed/internal/reconcile"
	"payfeed/internal/repository"
	"payfeed/pkg/gateway"
)

// FiatPaymentStore is the slice of the payment repository the handler needs.
type FiatPaymentStore interface {
	Create(p *models.FiatPayment) error
	GetByProviderRef(ref string) (*models.FiatPayment, error)
	ListByUser(userID uint, limit int) ([]models.FiatPayment, error)
}

// FiatHandler drives redirect-based card payments: initiate → shopper pays
// at the gateway → gateway sends the shopper back to Verify, which confirms
// with the provider before any wallet credit.
type FiatHandler struct {
	provider   gateway.FiatProvider
	payments   FiatPaymentStore
	reconciler *reconcile.Reconciler
	audit      *repository.AuditRepository
	cfg        config.FiatGatewayConfig
}

func NewFiatHandler(provider gateway.FiatProvider, payments FiatPaymentStore,
	rec *reconcile.Reconciler, audit *repository.AuditRepository, cfg config.FiatGatewayConfig) *FiatHandler {
	return &FiatHandler{provider: provider, payments: payments, reconciler: rec, audit: audit, cfg: cfg}
}

type initiateFiatReq struct {
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Description string `json:"description"`
	OrderRef    string `json:"order_ref"`
}

func (h *FiatHandler) Initiate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req initiateFiatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := gateway.CheckAmountBounds(req.AmountMinor, h.cfg.MinAmountMinor, h.cfg.MaxAmountMinor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount outside allowed range"})
		return
	}

	orderRef := req.OrderRef
	if orderRef == "" {
		orderRef = uuid.NewString()
	}
	intent, err := h.provider.CreateIntent(c.Request.Context(), gateway.IntentRequest{
		OrderRef:    orderRef,
		AmountMinor: req.AmountMinor,
		Currency:    "KES",
		Description: req.Description,
		CallbackURL: h.cfg.WebhookBaseURL + "/api/v1/payments/fiat/verify?ref=" + orderRef,
	})
	if err != nil {
		gatewayError(c, err)
		return
	}

	payment := models.FiatPayment{
		UserID:      userID,
		ProviderRef: intent.ProviderRef,
		AmountMinor: req.AmountMinor,
		Currency:    "KES",
		Description: req.Description,
		Status:      domain.PaymentStatusPending,
	}
	if err := h.payments.Create(&payment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record payment"})
		return
	}
	if h.audit != nil {
		ip, ua := auditFields(c)
		h.audit.Record(&models.AuditLog{
			UserID: &userID, Action: "fiat.initiate", Resource: "fiat_payment",
			ResourceID: intent.ProviderRef, IP: ip, UserAgent: ua,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"provider_ref": intent.ProviderRef,
		"redirect_url": intent.RedirectURL,
		"amount_minor": req.AmountMinor,
		"expires_at":   intent.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Verify is the redirect target the gateway sends the shopper back to. It
// never trusts redirect parameters: the provider is re-queried and only a
// confirmed OK settles. Concurrent polls racing this converge on one credit.
func (h *FiatHandler) Verify(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ref is required"})
		return
	}

	outcome := "pending"
	var settled *reconcile.FiatSettlement
	st, err := h.provider.VerifyStatus(c.Request.Context(), ref)
	if err == nil {
		switch st.State {
		case gateway.StateOK:
			res, rerr := h.reconciler.SettleFiat(ref, st.SettlementRef)
			if rerr != nil {
				log.Printf("[Reconcile] verify settle failed for %s: %v", ref, rerr)
				break
			}
			settled = res
			outcome = statusOutcome(res.Status)
			if res.Credited && h.audit != nil {
				h.audit.Record(&models.AuditLog{
					Action: "fiat.settle", Resource: "fiat_payment",
					ResourceID: ref, IP: c.ClientIP(),
				})
			}
		case gateway.StatePending:
			// Still processing at the provider; the poll endpoint converges later.
		default:
			res, rerr := h.reconciler.FailFiat(ref)
			if rerr != nil {
				log.Printf("[Reconcile] verify fail-transition failed for %s: %v", ref, rerr)
				outcome = "failed"
				break
			}
			settled = res
			outcome = statusOutcome(res.Status)
		}
	}

	// Repeat verifies must return the identical settlement reference and
	// amount, whether this call won the transition or a previous one did.
	if h.cfg.ResultURL != "" {
		q := url.Values{"ref": {ref}, "status": {outcome}}
		if settled != nil {
			q.Set("amount_minor", strconv.FormatInt(settled.AmountMinor, 10))
			if settled.SettlementRef != "" {
				q.Set("settlement_ref", settled.SettlementRef)
			}
		}
		c.Redirect(http.StatusFound, h.cfg.ResultURL+"?"+q.Encode())
		return
	}
	resp := gin.H{"provider_ref": ref, "status": outcome}
	if settled != nil {
		resp["amount_minor"] = settled.AmountMinor
		resp["settlement_ref"] = settled.SettlementRef
	}
	c.JSON(http.StatusOK, resp)
}

// Webhook is the provider's server-to-server notification for fiat
// payments. It deliberately does not reconcile: the gateway's fiat webhooks
// carry no verifiable signature, so settlement only happens through the
// verify and poll paths, which re-query the provider directly. This just
// acknowledges and, when a shopper landed here, forwards them on.
func (h *FiatHandler) Webhook(c *gin.Context) {
	ref := c.Query("ref")
	log.Printf("[Webhook] fiat notification ref=%s from %s (ack only)", ref, c.ClientIP())
	if h.cfg.ResultURL != "" && ref != "" {
		c.Redirect(http.StatusFound, h.cfg.ResultURL+"?ref="+url.QueryEscape(ref))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status is the authenticated poll endpoint. A PENDING intent triggers a
// provider re-check so polling alone can settle a payment whose shopper
// never came back through the redirect.
func (h *FiatHandler) Status(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ref := c.Param("ref")
	payment, err := h.payments.GetByProviderRef(ref)
	if err != nil || payment.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}

	if payment.Status == domain.PaymentStatusPending {
		if st, verr := h.provider.VerifyStatus(c.Request.Context(), ref); verr == nil {
			switch st.State {
			case gateway.StateOK:
				if _, rerr := h.reconciler.SettleFiat(ref, st.SettlementRef); rerr != nil {
					log.Printf("[Reconcile] poll settle failed for %s: %v", ref, rerr)
				}
			case gateway.StatePending:
			default:
				if _, rerr := h.reconciler.FailFiat(ref); rerr != nil {
					log.Printf("[Reconcile] poll fail-transition failed for %s: %v", ref, rerr)
				}
			}
			if p, gerr := h.payments.GetByProviderRef(ref); gerr == nil {
				payment = p
			}
		}
	}

	c.JSON(http.StatusOK, fiatPaymentView(payment))
}

// List returns the caller's fiat payments, newest first.
func (h *FiatHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rows, err := h.payments.ListByUser(userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list payments"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, fiatPaymentView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func fiatPaymentView(p *models.FiatPayment) gin.H {
	v := gin.H{
		"provider_ref": p.ProviderRef,
		"amount_minor": p.AmountMinor,
		"currency":     p.Currency,
		"status":       p.Status,
		"created_at":   p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.SettlementRef != "" {
		v["settlement_ref"] = p.SettlementRef
	}
	if p.CompletedAt != nil {
		v["completed_at"] = p.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func statusOutcome(status string) string {
	switch status {
	case domain.PaymentStatusCompleted:
		return "success"
	case domain.PaymentStatusPending:
		return "pending"
	default:
		return "failed"
	}
}
