package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payfeed/config"
	"payfeed/internal/database"
	"payfeed/internal/pricing"
	"payfeed/internal/repository"
	"payfeed/internal/router"
	"payfeed/internal/service"
	"payfeed/internal/ws"
	"payfeed/pkg/gateway"
	"payfeed/pkg/market"
)

func main() {
	cfg := config.Load()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	rateHub := ws.NewRateHub()
	feed := market.NewFeed(cfg.Pricing.FeedURL, cfg.Pricing.FeedAPIKey, cfg.Pricing.FetchTimeout)
	pricingSvc := pricing.NewService(repository.NewRateRepository(db), feed, cfg.Pricing, rateHub)

	alerts := service.NewAlertSink(cfg.Alert)
	scheduler := pricing.NewScheduler(pricingSvc, alerts, cfg.Pricing)
	pricingSvc.SetStaleTrigger(scheduler.TriggerAsync)
	scheduler.Start()

	fiatProvider := gateway.NewFiatHTTPProvider(cfg.Fiat.BaseURL, cfg.Fiat.Email, cfg.Fiat.Password, cfg.Fiat.RequestTimeout)
	cryptoProvider := gateway.NewCryptoHTTPProvider(cfg.Crypto.BaseURL, cfg.Crypto.Email, cfg.Crypto.Password,
		cfg.Crypto.WebhookSecret, cfg.Crypto.RequestTimeout)

	engine := router.Setup(cfg, router.Deps{
		DB:             db,
		Pricing:        pricingSvc,
		Scheduler:      scheduler,
		RateHub:        rateHub,
		FiatProvider:   fiatProvider,
		CryptoProvider: cryptoProvider,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[Server] listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Server] shutting down")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Server] forced shutdown: %v", err)
	}
	database.Close(db)
	log.Println("[Server] stopped")
}
