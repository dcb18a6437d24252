package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"traderHive/internal/ports"
)

// OrderType selects the fee tier applied to a fill.
type OrderType string

const (
	Maker OrderType = "maker"
	Taker OrderType = "taker"
)

// rate holds the maker/taker fee rates for one exchange (VIP0 perpetuals).
type rate struct {
	maker decimal.Decimal
	taker decimal.Decimal
}

var exchangeRates = map[string]rate{
	"binance": {maker: decimal.NewFromFloat(0.0002), taker: decimal.NewFromFloat(0.0005)},
	"bybit":   {maker: decimal.NewFromFloat(0.0001), taker: decimal.NewFromFloat(0.0006)},
	"okx":     {maker: decimal.NewFromFloat(0.0002), taker: decimal.NewFromFloat(0.0005)},
	"bitget":  {maker: decimal.NewFromFloat(0.0002), taker: decimal.NewFromFloat(0.0006)},
}

// Schedule implements ports.FeeSchedule with a static per-exchange rate table.
// All simulated fills are charged at the taker rate.
type Schedule struct{}

// NewSchedule creates a static fee schedule.
func NewSchedule() *Schedule {
	return &Schedule{}
}

// Fee returns size * price * takerRate in quote currency.
func (s *Schedule) Fee(exchange string, size, price decimal.Decimal) (decimal.Decimal, error) {
	return s.FeeFor(exchange, size, price, Taker)
}

// FeeFor computes the fee at an explicit maker/taker tier.
func (s *Schedule) FeeFor(exchange string, size, price decimal.Decimal, orderType OrderType) (decimal.Decimal, error) {
	r, ok := exchangeRates[strings.ToLower(exchange)]
	if !ok {
		return decimal.Zero, fmt.Errorf("fee schedule has no rates for %q: %w", exchange, ports.ErrUnsupportedExchange)
	}

	feeRate := r.taker
	if orderType == Maker {
		feeRate = r.maker
	}

	// Fee is charged on notional value (size * price) in the quote currency.
	return size.Mul(price).Mul(feeRate), nil
}

// Rate returns the raw fee rate for an exchange and tier.
func (s *Schedule) Rate(exchange string, orderType OrderType) (decimal.Decimal, error) {
	r, ok := exchangeRates[strings.ToLower(exchange)]
	if !ok {
		return decimal.Zero, fmt.Errorf("fee schedule has no rates for %q: %w", exchange, ports.ErrUnsupportedExchange)
	}
	if orderType == Maker {
		return r.maker, nil
	}
	return r.taker, nil
}
