package ws

import (
	"sync"
	"time"
)

type rateMessage struct {
	Type      string           `json:"type"`
	Rates     map[string]int64 `json:"rates"`
	UpdatedAt int64            `json:"updated_at"`
}

// RateHub streams exchange-rate updates and replays the latest snapshot to
// new subscribers so they never start blank.
type RateHub struct {
	*Hub

	mu        sync.RWMutex
	rates     map[string]int64
	updatedAt time.Time
}

func NewRateHub() *RateHub {
	return &RateHub{Hub: NewHub()}
}

// BroadcastRates implements pricing.Broadcaster.
func (h *RateHub) BroadcastRates(rates map[string]int64, at time.Time) {
	cp := make(map[string]int64, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	h.mu.Lock()
	h.rates = cp
	h.updatedAt = at
	h.mu.Unlock()

	h.BroadcastAll(rateMessage{Type: "rates", Rates: cp, UpdatedAt: at.Unix()})
}

func (h *RateHub) snapshot() (rateMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.rates) == 0 {
		return rateMessage{}, false
	}
	cp := make(map[string]int64, len(h.rates))
	for k, v := range h.rates {
		cp[k] = v
	}
	return rateMessage{Type: "rates", Rates: cp, UpdatedAt: h.updatedAt.Unix()}, true
}
