package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderHive/internal/ports"
)

func TestFeeUsesTakerRate(t *testing.T) {
	s := NewSchedule()

	fee, err := s.Fee("binance", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromFloat(0.05)), "fee: %s", fee)

	fee, err = s.Fee("bybit", decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromFloat(0.12)), "fee: %s", fee)
}

func TestFeeForMaker(t *testing.T) {
	s := NewSchedule()

	fee, err := s.FeeFor("binance", decimal.NewFromInt(1), decimal.NewFromInt(100), Maker)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromFloat(0.02)), "fee: %s", fee)
}

func TestFeeExchangeIsCaseInsensitive(t *testing.T) {
	s := NewSchedule()

	upper, err := s.Fee("Binance", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)
	lower, err := s.Fee("binance", decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, upper.Equal(lower))
}

func TestFeeUnknownExchange(t *testing.T) {
	s := NewSchedule()

	_, err := s.Fee("kraken", decimal.NewFromInt(1), decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ports.ErrUnsupportedExchange)
}
