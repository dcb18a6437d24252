package triggers

import (
	"context"
	"sync"
	"time"
)

// timeframeDurations maps exchange timeframe codes to wall-clock durations.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

const defaultTimeframe = time.Hour

// TimeframeDuration returns the duration for a timeframe code, defaulting
// unknown codes to one hour.
func TimeframeDuration(code string) time.Duration {
	if d, ok := timeframeDurations[code]; ok {
		return d
	}
	return defaultTimeframe
}

// TimeTrigger fires when any of the trader's configured timeframes has
// elapsed since the last fire. The first evaluation for a trader always
// fires so a fresh trader gets an immediate decision cycle.
type TimeTrigger struct {
	now func() time.Time

	mu       sync.Mutex
	lastFire map[string]time.Time
}

// NewTimeTrigger creates a time trigger. A nil clock means time.Now.
func NewTimeTrigger(now func() time.Time) *TimeTrigger {
	if now == nil {
		now = time.Now
	}
	return &TimeTrigger{
		now:      now,
		lastFire: make(map[string]time.Time),
	}
}

func (t *TimeTrigger) Type() Type { return TypeTime }

func (t *TimeTrigger) ShouldFire(_ context.Context, traderID string, tctx Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, seen := t.lastFire[traderID]
	if !seen {
		t.lastFire[traderID] = now
		return true, nil
	}

	elapsed := now.Sub(last)
	var timeframes []string
	if tctx.Trader != nil {
		timeframes = tctx.Trader.Timeframes
	}
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}
	for _, code := range timeframes {
		if elapsed >= TimeframeDuration(code) {
			t.lastFire[traderID] = now
			return true, nil
		}
	}
	return false, nil
}

func (t *TimeTrigger) Reset(traderID string) {
	t.mu.Lock()
	delete(t.lastFire, traderID)
	t.mu.Unlock()
}
