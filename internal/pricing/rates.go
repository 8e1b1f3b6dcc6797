package pricing

import (
	"time"

	"payfeed/internal/models"
)

// Rate is one sanitized currency rate from a refresh cycle.
type Rate struct {
	PriceMinor int64
	PriceUSD   float64
	Source     string
	Anomaly    bool
}

// RateSet is the sanitized output of one refresh cycle.
type RateSet struct {
	Rates     map[string]Rate
	FetchedAt time.Time
}

// PriceMap flattens the set to currency → price in minor units.
func (s RateSet) PriceMap() map[string]int64 {
	out := make(map[string]int64, len(s.Rates))
	for c, r := range s.Rates {
		out[c] = r.PriceMinor
	}
	return out
}

func (s RateSet) toModels() ([]models.ExchangeRate, []models.RateHistoryPoint) {
	latest := make([]models.ExchangeRate, 0, len(s.Rates))
	history := make([]models.RateHistoryPoint, 0, len(s.Rates))
	for c, r := range s.Rates {
		latest = append(latest, models.ExchangeRate{
			Currency:   c,
			PriceMinor: r.PriceMinor,
			PriceUSD:   r.PriceUSD,
			UpdatedAt:  s.FetchedAt,
		})
		history = append(history, models.RateHistoryPoint{
			Currency:   c,
			PriceMinor: r.PriceMinor,
			PriceUSD:   r.PriceUSD,
			Source:     r.Source,
			Anomaly:    r.Anomaly,
			CreatedAt:  s.FetchedAt,
		})
	}
	return latest, history
}

// defaultRates is the last line of the fallback chain: conservative
// hardcoded prices in KES minor units, used only when neither memory nor the
// database has anything.
var defaultRates = map[string]int64{
	"USDT": 12_900,
	"BTC":  850_000_000,
	"ETH":  30_000_000,
	"SOL":  2_000_000,
}

func defaultPriceMinor(currency string) int64 {
	if v, ok := defaultRates[currency]; ok {
		return v
	}
	return 1
}

// DefaultRateSet builds a fallback set for the configured currencies.
func DefaultRateSet(currencies []string) map[string]int64 {
	out := make(map[string]int64, len(currencies))
	for _, c := range currencies {
		out[c] = defaultPriceMinor(c)
	}
	return out
}
