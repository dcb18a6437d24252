package binanceprice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"traderHive/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.PriceProvider and ports.KlineProvider using the
// go-binance futures API. Only public market-data endpoints are used; all
// positions in this system are simulated, no orders are ever placed.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance market-data adapter.
type Config struct {
	APIKey     string // optional; public endpoints work without keys
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance market-data adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance price client")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance price client configured", map[string]interface{}{"baseURL": client.BaseURL})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates Binance API failures into the standard error taxonomy;
// every failure from this adapter is a form of ErrPriceUnavailable.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	switch {
	case errors.As(err, &apiErr):
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		fields["reason"] = "timeout"
	case errors.Is(err, context.Canceled):
		c.logger.Warn(ctx, operation+" canceled", fields)
		return fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	}

	c.logger.Error(ctx, err, operation+" failed", fields)
	return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrPriceUnavailable, err)
}

// FetchPrice retrieves the current mark price for a symbol. The exchange
// argument exists to satisfy the provider contract; this adapter only serves
// binance and rejects anything else.
func (c *Client) FetchPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	op := "FetchPrice"
	if !strings.EqualFold(exchange, "binance") {
		return decimal.Zero, fmt.Errorf("%s: %q: %w", op, exchange, ports.ErrUnsupportedExchange)
	}

	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}

	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price %q: %w", tickers[0].MarkPrice, err), op)
	}
	if !price.IsPositive() {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("non-positive price %s for symbol %s", price, symbol), op)
	}
	return price, nil
}

// FetchKlines retrieves recent candles for a symbol.
func (c *Client) FetchKlines(ctx context.Context, exchange, symbol, interval string, limit int) ([]*ports.Kline, error) {
	op := "FetchKlines"
	if !strings.EqualFold(exchange, "binance") {
		return nil, fmt.Errorf("%s: %q: %w", op, exchange, ports.ErrUnsupportedExchange)
	}

	raw, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*ports.Kline, 0, len(raw))
	for _, k := range raw {
		parsed, err := parseKline(k)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		klines = append(klines, parsed)
	}
	return klines, nil
}

func parseKline(k *futures.Kline) (*ports.Kline, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return nil, fmt.Errorf("could not parse kline open %q: %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return nil, fmt.Errorf("could not parse kline high %q: %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return nil, fmt.Errorf("could not parse kline low %q: %w", k.Low, err)
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return nil, fmt.Errorf("could not parse kline close %q: %w", k.Close, err)
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return nil, fmt.Errorf("could not parse kline volume %q: %w", k.Volume, err)
	}

	return &ports.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime),
	}, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}
