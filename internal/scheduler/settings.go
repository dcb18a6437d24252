package scheduler

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults for the runtime settings.
const (
	DefaultTickInterval       = 30 * time.Second
	DefaultMaxConcurrentTasks = 3
	DefaultTaskTimeout        = 10 * time.Minute
	DefaultDrainTimeout       = 30 * time.Second
	DefaultOptimizeMinCount   = 5
	DefaultOptimizeInterval   = 24 * time.Hour
)

// Settings is the scheduler's hot-reloadable runtime configuration. Every
// accessor is safe for concurrent use; changes take effect on the next
// tick without a restart.
type Settings struct {
	mu sync.RWMutex

	tickInterval       time.Duration
	maxConcurrentTasks int
	taskTimeout        time.Duration
	drainTimeout       time.Duration

	timeTriggerEnabled  bool
	priceTriggerEnabled bool
	priceThreshold      decimal.Decimal

	optimizeEnabled  bool
	optimizeMinCount int
	optimizeInterval time.Duration
}

// NewSettings creates a settings store with all defaults and both trigger
// types plus optimization enabled.
func NewSettings() *Settings {
	return &Settings{
		tickInterval:        DefaultTickInterval,
		maxConcurrentTasks:  DefaultMaxConcurrentTasks,
		taskTimeout:         DefaultTaskTimeout,
		drainTimeout:        DefaultDrainTimeout,
		timeTriggerEnabled:  true,
		priceTriggerEnabled: true,
		priceThreshold:      decimal.NewFromFloat(0.04),
		optimizeEnabled:     true,
		optimizeMinCount:    DefaultOptimizeMinCount,
		optimizeInterval:    DefaultOptimizeInterval,
	}
}

func (s *Settings) TickInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tickInterval
}

func (s *Settings) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.tickInterval = d
	s.mu.Unlock()
}

func (s *Settings) MaxConcurrentTasks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxConcurrentTasks
}

func (s *Settings) SetMaxConcurrentTasks(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxConcurrentTasks = n
	s.mu.Unlock()
}

func (s *Settings) TaskTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskTimeout
}

func (s *Settings) SetTaskTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.taskTimeout = d
	s.mu.Unlock()
}

func (s *Settings) DrainTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drainTimeout
}

func (s *Settings) SetDrainTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.drainTimeout = d
	s.mu.Unlock()
}

func (s *Settings) TimeTriggerEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeTriggerEnabled
}

func (s *Settings) SetTimeTriggerEnabled(enabled bool) {
	s.mu.Lock()
	s.timeTriggerEnabled = enabled
	s.mu.Unlock()
}

func (s *Settings) PriceTriggerEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceTriggerEnabled
}

func (s *Settings) SetPriceTriggerEnabled(enabled bool) {
	s.mu.Lock()
	s.priceTriggerEnabled = enabled
	s.mu.Unlock()
}

func (s *Settings) PriceThreshold() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceThreshold
}

func (s *Settings) SetPriceThreshold(threshold decimal.Decimal) {
	if threshold.LessThanOrEqual(decimal.Zero) {
		return
	}
	s.mu.Lock()
	s.priceThreshold = threshold
	s.mu.Unlock()
}

func (s *Settings) OptimizeEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optimizeEnabled
}

func (s *Settings) SetOptimizeEnabled(enabled bool) {
	s.mu.Lock()
	s.optimizeEnabled = enabled
	s.mu.Unlock()
}

func (s *Settings) OptimizeMinCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optimizeMinCount
}

func (s *Settings) SetOptimizeMinCount(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.optimizeMinCount = n
	s.mu.Unlock()
}

func (s *Settings) OptimizeInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optimizeInterval
}

func (s *Settings) SetOptimizeInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.optimizeInterval = d
	s.mu.Unlock()
}
