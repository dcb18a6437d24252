package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceProvider fetches current market prices from an exchange.
// Implementations should wrap provider failures with ErrPriceUnavailable.
type PriceProvider interface {
	// FetchPrice returns the current price for a symbol on an exchange.
	FetchPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
}

// Kline is a single OHLCV candle as returned by a market data provider.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// KlineProvider fetches historical candles. Optional capability of a
// PriceProvider; consumers that only mark to market don't need it.
type KlineProvider interface {
	FetchKlines(ctx context.Context, exchange, symbol, interval string, limit int) ([]*Kline, error)
}

// FeeSchedule computes the trading fee charged for a fill.
type FeeSchedule interface {
	// Fee returns the fee in quote currency for trading `size` base units
	// at `price` on the given exchange.
	Fee(exchange string, size, price decimal.Decimal) (decimal.Decimal, error)
}
