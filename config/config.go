package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Pricing  PricingConfig
	Fiat     FiatGatewayConfig
	Crypto   CryptoGatewayConfig
	Alert    AlertConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// PricingConfig drives the feed client, cache and refresh scheduler.
type PricingConfig struct {
	FeedURL          string
	FeedAPIKey       string
	FetchTimeout     time.Duration
	Currencies       []string
	PrimaryCurrency  string
	PrimaryFloor     int64 // minor units; fetched primary prices below this are clamped up
	CacheTTL         time.Duration
	RefreshInterval  time.Duration
	WarmupJitter     time.Duration
	WarnThreshold    int
	DisableThreshold int
}

// FiatGatewayConfig for the card/STK gateway (login-token API).
type FiatGatewayConfig struct {
	BaseURL        string
	Email          string
	Password       string
	WebhookBaseURL string // callback will be WebhookBaseURL + /api/v1/payments/fiat/verify
	ResultURL      string // where the fiat webhook redirects the shopper
	MinAmountMinor int64
	MaxAmountMinor int64
	RequestTimeout time.Duration
}

// CryptoGatewayConfig for the crypto deposit gateway.
type CryptoGatewayConfig struct {
	BaseURL        string
	Email          string
	Password       string
	WebhookSecret  string // HMAC key for inbound webhook signatures
	WebhookBaseURL string
	RequestTimeout time.Duration
}

type AlertConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8090"),
			Env:          getEnv("ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "payfeed:payfeed@tcp(localhost:3306)/payfeed?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: 15 * time.Minute,
			Issuer:       "payfeed",
		},
		Pricing: PricingConfig{
			FeedURL:          getEnv("FEED_URL", "https://market-data.example.com/v1/quotes"),
			FeedAPIKey:       getEnv("FEED_API_KEY", ""),
			FetchTimeout:     getDurationEnv("FEED_TIMEOUT", 10*time.Second),
			Currencies:       getListEnv("PRICE_CURRENCIES", []string{"USDT", "BTC", "ETH", "SOL"}),
			PrimaryCurrency:  getEnv("PRICE_PRIMARY_CURRENCY", "USDT"),
			PrimaryFloor:     getInt64Env("PRICE_PRIMARY_FLOOR_MINOR", 12000),
			CacheTTL:         getDurationEnv("PRICE_CACHE_TTL", 5*time.Minute),
			RefreshInterval:  getDurationEnv("PRICE_REFRESH_INTERVAL", 5*time.Minute),
			WarmupJitter:     getDurationEnv("PRICE_WARMUP_JITTER", 15*time.Second),
			WarnThreshold:    getIntEnv("PRICE_WARN_THRESHOLD", 3),
			DisableThreshold: getIntEnv("PRICE_DISABLE_THRESHOLD", 5),
		},
		Fiat: FiatGatewayConfig{
			BaseURL:        getEnv("FIAT_GW_BASE_URL", "https://card-api.example.com"),
			Email:          getEnv("FIAT_GW_EMAIL", ""),
			Password:       getEnv("FIAT_GW_PASSWORD", ""),
			WebhookBaseURL: getEnv("FIAT_GW_WEBHOOK_BASE_URL", ""),
			ResultURL:      getEnv("FIAT_GW_RESULT_URL", ""),
			MinAmountMinor: getInt64Env("FIAT_MIN_AMOUNT_MINOR", 100),
			MaxAmountMinor: getInt64Env("FIAT_MAX_AMOUNT_MINOR", 100_000_000),
			RequestTimeout: getDurationEnv("FIAT_GW_TIMEOUT", 10*time.Second),
		},
		Crypto: CryptoGatewayConfig{
			BaseURL:        getEnv("CRYPTO_GW_BASE_URL", "https://pay-api.example.com"),
			Email:          getEnv("CRYPTO_GW_EMAIL", ""),
			Password:       getEnv("CRYPTO_GW_PASSWORD", ""),
			WebhookSecret:  getEnv("CRYPTO_GW_WEBHOOK_SECRET", ""),
			WebhookBaseURL: getEnv("CRYPTO_GW_WEBHOOK_BASE_URL", ""),
			RequestTimeout: getDurationEnv("CRYPTO_GW_TIMEOUT", 10*time.Second),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			Timeout:    getDurationEnv("ALERT_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64Env(key string, defaultVal int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string, defaultVal []string) []string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}
