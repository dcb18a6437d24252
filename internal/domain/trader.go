package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trader is an independent trading agent with its own simulated account.
// Traders are created by profile ingestion outside this core; the scheduler
// only updates balances and equity as positions open and close.
type Trader struct {
	ID   string
	Name string

	// TradingPairs are the symbols the trader watches (e.g. BTCUSDT).
	TradingPairs []string
	// Timeframes are interval codes driving the time trigger (e.g. 1h, 4h).
	Timeframes []string

	InitialBalance decimal.Decimal
	Balance        decimal.Decimal
	// Equity = Balance + sum of unrealized PnL over open positions.
	Equity decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}
