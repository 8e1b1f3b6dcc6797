package pricing

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"payfeed/config"
	"payfeed/internal/domain"
	"payfeed/internal/models"
	"payfeed/pkg/market"
)

// RateStore persists sanitized rates. Implemented by repository.RateRepository.
type RateStore interface {
	SaveRates(latest []models.ExchangeRate, history []models.RateHistoryPoint) error
	LatestRates() ([]models.ExchangeRate, error)
	History(currency string, since time.Time) ([]models.RateHistoryPoint, error)
}

// FeedClient fetches raw quotes from the upstream market feed.
type FeedClient interface {
	FetchQuotes(ctx context.Context) (map[string]market.Quote, error)
}

// Broadcaster pushes fresh rates to live subscribers.
type Broadcaster interface {
	BroadcastRates(rates map[string]int64, at time.Time)
}

// HistoryPoint is one historical price sample as served to clients.
type HistoryPoint struct {
	PriceMinor int64     `json:"price"`
	PriceUSD   float64   `json:"price_usd"`
	Timestamp  time.Time `json:"timestamp"`
}

// Service owns the rate read path and the refresh cycle. CurrentRates never
// errors and never touches the network: memory first, then the persisted
// latest-value table, then hardcoded defaults.
type Service struct {
	store   RateStore
	feed    FeedClient
	cache   *Cache
	cfg     config.PricingConfig
	hub     Broadcaster
	onStale func()
}

func NewService(store RateStore, feed FeedClient, cfg config.PricingConfig, hub Broadcaster) *Service {
	return &Service{
		store: store,
		feed:  feed,
		cache: NewCache(cfg.CacheTTL),
		cfg:   cfg,
		hub:   hub,
	}
}

// SetStaleTrigger wires the non-blocking refresh hook fired when a read hits
// stale or database-sourced data. Must be called before serving traffic.
func (s *Service) SetStaleTrigger(fn func()) {
	s.onStale = fn
}

func (s *Service) triggerStale() {
	if s.onStale != nil {
		s.onStale()
	}
}

// CurrentRates returns a price per configured currency, always positive,
// with the time the data was fetched. A zero time means hardcoded defaults.
func (s *Service) CurrentRates() (map[string]int64, time.Time) {
	if rates, at, fresh, ok := s.cache.Snapshot(); ok {
		if !fresh {
			s.triggerStale()
		}
		return s.fillMissing(rates), at
	}

	rows, err := s.store.LatestRates()
	if err == nil && len(rows) > 0 {
		rates := make(map[string]int64, len(rows))
		var at time.Time
		for _, row := range rows {
			if row.PriceMinor > 0 {
				rates[row.Currency] = row.PriceMinor
			}
			if row.UpdatedAt.After(at) {
				at = row.UpdatedAt
			}
		}
		s.triggerStale()
		return s.fillMissing(rates), at
	}
	if err != nil {
		log.Printf("[Pricing] latest-rate read failed, serving defaults: %v", err)
	}
	s.triggerStale()
	return DefaultRateSet(s.cfg.Currencies), time.Time{}
}

// fillMissing guarantees every configured currency is present and positive.
func (s *Service) fillMissing(rates map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(s.cfg.Currencies))
	for _, c := range s.cfg.Currencies {
		if v, ok := rates[c]; ok && v > 0 {
			out[c] = v
			continue
		}
		out[c] = defaultPriceMinor(c)
	}
	return out
}

// History returns up to `days` of samples for a currency. Errors degrade to
// an empty series; history is a convenience, not a dependency.
func (s *Service) History(currency string, days int) []HistoryPoint {
	if days <= 0 || days > 90 {
		days = 7
	}
	rows, err := s.store.History(currency, time.Now().AddDate(0, 0, -days))
	if err != nil {
		log.Printf("[Pricing] history read failed for %s: %v", currency, err)
		return []HistoryPoint{}
	}
	out := make([]HistoryPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, HistoryPoint{PriceMinor: r.PriceMinor, PriceUSD: r.PriceUSD, Timestamp: r.CreatedAt})
	}
	return out
}

// RefreshOnce runs one full refresh cycle: fetch, sanitize, persist, then
// publish to memory and live subscribers. The cache is only updated after a
// successful persist so the tiers cannot diverge.
func (s *Service) RefreshOnce(ctx context.Context) (RateSet, error) {
	quotes, err := s.feed.FetchQuotes(ctx)
	if err != nil {
		return RateSet{}, err
	}
	set := s.sanitize(quotes, s.lastKnown())
	latest, history := set.toModels()
	if err := s.store.SaveRates(latest, history); err != nil {
		return RateSet{}, fmt.Errorf("persist rates: %w", err)
	}
	prices := set.PriceMap()
	s.cache.Set(prices, set.FetchedAt)
	if s.hub != nil {
		s.hub.BroadcastRates(prices, set.FetchedAt)
	}
	log.Printf("[Pricing] refreshed %d currencies", len(prices))
	return set, nil
}

// lastKnown assembles the best known price per currency for fallback use
// during sanitization: memory, then database, then defaults.
func (s *Service) lastKnown() map[string]int64 {
	if rates, _, _, ok := s.cache.Snapshot(); ok {
		return s.fillMissing(rates)
	}
	rows, err := s.store.LatestRates()
	if err == nil && len(rows) > 0 {
		rates := make(map[string]int64, len(rows))
		for _, row := range rows {
			rates[row.Currency] = row.PriceMinor
		}
		return s.fillMissing(rates)
	}
	return DefaultRateSet(s.cfg.Currencies)
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// sanitize turns raw feed quotes into a rate set that honors the pricing
// invariants: every configured currency present, every price positive, the
// primary currency never below its floor.
func (s *Service) sanitize(quotes map[string]market.Quote, lastKnown map[string]int64) RateSet {
	set := RateSet{Rates: make(map[string]Rate, len(s.cfg.Currencies)), FetchedAt: time.Now()}

	// Cross-rate base: the primary currency's raw quote, if usable.
	primary := s.cfg.PrimaryCurrency
	primQuote, primOK := quotes[primary]
	crossable := primOK && validPrice(primQuote.PriceLocal) && validPrice(primQuote.PriceUSD)

	for _, c := range s.cfg.Currencies {
		r := Rate{Source: domain.RateSourceFeed}
		q, quoted := quotes[c]

		var priceMinor int64
		switch {
		case quoted && validPrice(q.PriceLocal):
			priceMinor = int64(math.Round(q.PriceLocal * 100))
		case quoted && validPrice(q.PriceUSD) && crossable:
			// Only a USD quote: derive the local price through the primary.
			local := q.PriceUSD * primQuote.PriceLocal / primQuote.PriceUSD
			priceMinor = int64(math.Round(local * 100))
			r.Source = domain.RateSourceCross
		}
		if priceMinor <= 0 {
			priceMinor = lastKnown[c]
			if priceMinor <= 0 {
				priceMinor = defaultPriceMinor(c)
			}
			r.Source = domain.RateSourceFallback
			r.Anomaly = true
			log.Printf("[Pricing] unusable quote for %s, holding last known %d", c, priceMinor)
		}
		if c == primary && s.cfg.PrimaryFloor > 0 && priceMinor < s.cfg.PrimaryFloor {
			log.Printf("[Pricing] %s quote %d below floor %d, clamping", c, priceMinor, s.cfg.PrimaryFloor)
			priceMinor = s.cfg.PrimaryFloor
			r.Anomaly = true
		}
		if last := lastKnown[c]; last > 0 && r.Source != domain.RateSourceFallback {
			ratio := float64(priceMinor) / float64(last)
			if ratio > 1.5 || ratio < 0.5 {
				log.Printf("[Pricing] implausible move for %s: %d -> %d", c, last, priceMinor)
			}
		}
		if quoted && validPrice(q.PriceUSD) {
			r.PriceUSD = q.PriceUSD
		}
		r.PriceMinor = priceMinor
		set.Rates[c] = r
	}
	return set
}
