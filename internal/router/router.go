package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"payfeed/config"
	"payfeed/internal/handler"
	"payfeed/internal/middleware"
	"payfeed/internal/pricing"
	"payfeed/internal/reconcile"
	"payfeed/internal/repository"
	"payfeed/internal/ws"
	"payfeed/pkg/gateway"
)

// Deps is everything the router needs that main constructs.
type Deps struct {
	DB             *gorm.DB
	Pricing        *pricing.Service
	Scheduler      *pricing.Scheduler
	RateHub        *ws.RateHub
	FiatProvider   gateway.FiatProvider
	CryptoProvider gateway.CryptoProvider
}

// Setup builds the gin engine with all routes wired.
func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	payments := repository.NewPaymentRepository(d.DB)
	crypto := repository.NewCryptoRepository(d.DB)
	wallets := repository.NewWalletRepository(d.DB)
	audit := repository.NewAuditRepository(d.DB)
	rec := reconcile.NewReconciler(repository.NewReconcileStore(d.DB))

	ratesH := handler.NewRatesHandler(d.Pricing, d.Scheduler)
	fiatH := handler.NewFiatHandler(d.FiatProvider, payments, rec, audit, cfg.Fiat)
	cryptoH := handler.NewCryptoHandler(d.CryptoProvider, crypto, d.Pricing, rec, audit, cfg.Crypto)
	webhookH := handler.NewCryptoWebhookHandler(d.CryptoProvider, rec, audit)
	walletH := handler.NewWalletHandler(wallets, rec, audit)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	authed := api.Group("")
	authed.Use(middleware.AuthRequired(&cfg.JWT))
	admin := authed.Group("")
	admin.Use(middleware.RequireRole("admin"))

	// Rates: reads are public and never fail; refresh is an operator action,
	// rate limited so a retry loop cannot hammer the feed through us.
	api.GET("/rates", ratesH.Current)
	api.GET("/rates/history", ratesH.History)
	admin.POST("/rates/refresh", middleware.RateLimit(10, time.Minute), ratesH.Refresh)
	admin.GET("/rates/scheduler", ratesH.SchedulerStatus)
	admin.POST("/rates/scheduler/restart", ratesH.RestartScheduler)

	// Fiat payments. Verify is the unauthenticated redirect target; the fiat
	// webhook only acknowledges, reconciliation happens on verify and poll.
	authed.POST("/payments/fiat/initiate", fiatH.Initiate)
	authed.GET("/payments/fiat", fiatH.List)
	authed.GET("/payments/fiat/:ref", fiatH.Status)
	api.GET("/payments/fiat/verify", fiatH.Verify)
	api.POST("/webhooks/fiat", fiatH.Webhook)

	// Crypto payments. The webhook authenticates by signature, not token.
	authed.POST("/payments/crypto/initiate", cryptoH.Initiate)
	authed.GET("/payments/crypto", cryptoH.List)
	authed.GET("/payments/crypto/:id", cryptoH.Status)
	api.POST("/webhooks/crypto", middleware.RateLimit(60, time.Minute), webhookH.Handle)

	// Wallet.
	authed.GET("/wallet", walletH.Balance)
	authed.GET("/wallet/transactions", walletH.Transactions)
	authed.POST("/wallet/spend", walletH.Spend)

	// Live rate stream.
	r.GET("/ws/rates", ws.UpgradeRatesWS(&cfg.JWT, d.RateHub))

	return r
}
