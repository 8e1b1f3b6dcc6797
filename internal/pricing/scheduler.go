package pricing

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"payfeed/config"
	"payfeed/internal/domain"
)

// Refresher runs one refresh cycle. Implemented by *Service.
type Refresher interface {
	RefreshOnce(ctx context.Context) (RateSet, error)
}

// AlertSink receives operational alerts from the scheduler.
type AlertSink interface {
	Alert(event, message string)
}

type refreshCall struct {
	done  chan struct{}
	rates RateSet
	err   error
}

// Scheduler drives periodic refreshes and coalesces concurrent on-demand
// ones: while a refresh is in flight every other caller waits on the same
// call and shares its result, so the feed sees at most one request at a
// time. Consecutive failures raise an alert at the warn threshold and
// disable the periodic loop at the hard threshold until Restart.
type Scheduler struct {
	refresher Refresher
	alerts    AlertSink

	interval time.Duration
	jitter   time.Duration
	timeout  time.Duration

	warnAfter    int
	disableAfter int

	mu       sync.Mutex
	inflight *refreshCall
	failures int
	disabled bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(refresher Refresher, alerts AlertSink, cfg config.PricingConfig) *Scheduler {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	warn := cfg.WarnThreshold
	if warn <= 0 {
		warn = 3
	}
	disable := cfg.DisableThreshold
	if disable <= warn {
		disable = warn + 2
	}
	return &Scheduler{
		refresher:    refresher,
		alerts:       alerts,
		interval:     interval,
		jitter:       cfg.WarmupJitter,
		timeout:      timeout,
		warnAfter:    warn,
		disableAfter: disable,
		stop:         make(chan struct{}),
	}
}

// Start launches the periodic loop with a jittered warm-up so a fleet
// restart does not stampede the feed.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	if s.jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(s.jitter)))
		select {
		case <-time.After(delay):
		case <-s.stop:
			return
		}
	}
	if _, err := s.Refresh(context.Background()); err != nil {
		log.Printf("[Sched] warm-up refresh failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.Disabled() {
				continue
			}
			if _, err := s.Refresh(context.Background()); err != nil {
				log.Printf("[Sched] periodic refresh failed: %v", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Stop halts the periodic loop. In-flight refreshes finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Disabled reports whether the periodic loop has tripped the hard failure
// threshold. On-demand refreshes keep working while disabled.
func (s *Scheduler) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Restart clears the failure state after manual intervention.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	wasDisabled := s.disabled
	s.failures = 0
	s.disabled = false
	s.mu.Unlock()
	if wasDisabled {
		log.Printf("[Sched] manually restarted")
	}
}

// TriggerAsync fires a refresh without waiting for it. Used by stale reads.
func (s *Scheduler) TriggerAsync() {
	go func() {
		if _, err := s.Refresh(context.Background()); err != nil {
			log.Printf("[Sched] triggered refresh failed: %v", err)
		}
	}()
}

// Refresh runs one refresh, joining the in-flight call if one exists.
func (s *Scheduler) Refresh(ctx context.Context) (RateSet, error) {
	s.mu.Lock()
	if c := s.inflight; c != nil {
		s.mu.Unlock()
		select {
		case <-c.done:
			return c.rates, c.err
		case <-ctx.Done():
			return RateSet{}, ctx.Err()
		}
	}
	c := &refreshCall{done: make(chan struct{})}
	s.inflight = c
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	c.rates, c.err = s.refresher.RefreshOnce(rctx)
	cancel()

	s.mu.Lock()
	s.inflight = nil
	alerts := s.recordLocked(c.err)
	s.mu.Unlock()
	close(c.done)
	for _, fire := range alerts {
		fire()
	}
	return c.rates, c.err
}

// recordLocked updates the consecutive-failure counter and returns any
// alerts to fire once the lock is released. Each threshold alerts exactly
// once per crossing.
func (s *Scheduler) recordLocked(err error) []func() {
	if err == nil {
		if s.failures > 0 {
			log.Printf("[Sched] refresh recovered after %d failures", s.failures)
		}
		s.failures = 0
		return nil
	}
	s.failures++
	n := s.failures
	log.Printf("[Sched] refresh failed (consecutive=%d): %v", n, err)

	var alerts []func()
	if n == s.warnAfter && s.alerts != nil {
		alerts = append(alerts, func() {
			s.alerts.Alert(domain.AlertFeedDegraded,
				fmt.Sprintf("%d consecutive price feed refresh failures", n))
		})
	}
	if n == s.disableAfter {
		s.disabled = true
		log.Printf("[Sched] periodic refresh disabled after %d consecutive failures", n)
		if s.alerts != nil {
			alerts = append(alerts, func() {
				s.alerts.Alert(domain.AlertSchedulerStopped,
					fmt.Sprintf("periodic refresh disabled after %d consecutive failures; manual restart required", n))
			})
		}
	}
	return alerts
}
