package triggers

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultPriceThreshold is the relative price move that fires the
// price trigger (4%).
var DefaultPriceThreshold = decimal.NewFromFloat(0.04)

// PriceTrigger fires when any watched pair moved at least the threshold
// fraction away from its snapshot. The snapshot advances to the current
// price on every fire, so each fire needs a fresh move of the full
// threshold. The first sighting of a pair only records the snapshot.
type PriceTrigger struct {
	mu        sync.Mutex
	threshold decimal.Decimal
	source    func() decimal.Decimal
	// snapshots[traderID][pair] is the reference price for the next move.
	snapshots map[string]map[string]decimal.Decimal
}

// NewPriceTrigger creates a price trigger. A non-positive threshold falls
// back to the default.
func NewPriceTrigger(threshold decimal.Decimal) *PriceTrigger {
	if threshold.LessThanOrEqual(decimal.Zero) {
		threshold = DefaultPriceThreshold
	}
	return &PriceTrigger{
		threshold: threshold,
		snapshots: make(map[string]map[string]decimal.Decimal),
	}
}

// NewDynamicPriceTrigger creates a price trigger that reads its threshold
// through source on every evaluation, so runtime settings changes take
// effect on the next sweep. Non-positive source values fall back to the
// default.
func NewDynamicPriceTrigger(source func() decimal.Decimal) *PriceTrigger {
	t := NewPriceTrigger(decimal.Zero)
	t.source = source
	return t
}

func (t *PriceTrigger) Type() Type { return TypePrice }

// SetThreshold changes the firing threshold at runtime. Non-positive
// values are ignored.
func (t *PriceTrigger) SetThreshold(threshold decimal.Decimal) {
	if threshold.LessThanOrEqual(decimal.Zero) {
		return
	}
	t.mu.Lock()
	t.threshold = threshold
	t.mu.Unlock()
}

// Threshold returns the current firing threshold.
func (t *PriceTrigger) Threshold() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentThreshold()
}

// currentThreshold must be called with the mutex held.
func (t *PriceTrigger) currentThreshold() decimal.Decimal {
	if t.source != nil {
		if v := t.source(); v.GreaterThan(decimal.Zero) {
			return v
		}
	}
	return t.threshold
}

func (t *PriceTrigger) ShouldFire(_ context.Context, traderID string, tctx Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps, ok := t.snapshots[traderID]
	if !ok {
		snaps = make(map[string]decimal.Decimal)
		t.snapshots[traderID] = snaps
	}

	threshold := t.currentThreshold()
	fired := false
	for pair, current := range tctx.Prices {
		snap, seen := snaps[pair]
		if !seen || snap.IsZero() {
			snaps[pair] = current
			continue
		}
		change := current.Sub(snap).Div(snap).Abs()
		if change.GreaterThanOrEqual(threshold) {
			snaps[pair] = current
			fired = true
		}
	}
	return fired, nil
}

func (t *PriceTrigger) Reset(traderID string) {
	t.mu.Lock()
	delete(t.snapshots, traderID)
	t.mu.Unlock()
}
