// Package triggers decides when a trader is due for a decision cycle,
// either because enough market time elapsed or because price moved.
package triggers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
)

// Type identifies the kind of trigger that fired.
type Type string

const (
	TypeTime  Type = "time"
	TypePrice Type = "price"
)

// Context bundles what a trigger sees when evaluating one trader.
type Context struct {
	Trader        *domain.Trader
	OpenPositions []*domain.Position
	// Prices maps "exchange:SYMBOL" to the latest price.
	Prices map[string]decimal.Decimal
}

// Event records one trigger firing for a trader.
type Event struct {
	Type      Type
	TraderID  string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Trigger is one firing condition. Implementations keep per-trader state
// (last fire times, price snapshots) and must be safe for concurrent use.
type Trigger interface {
	Type() Type
	// ShouldFire evaluates the condition for a trader and advances internal
	// state when it fires.
	ShouldFire(ctx context.Context, traderID string, tctx Context) (bool, error)
	// Reset drops the trigger's state for a trader.
	Reset(traderID string)
}
