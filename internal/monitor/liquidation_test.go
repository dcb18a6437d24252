package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderHive/internal/adapters/logger"
	"traderHive/internal/domain"
	"traderHive/internal/ports"
)

type stubPositions struct {
	mu        sync.Mutex
	positions map[int64]*domain.Position
}

func newStubPositions(positions ...*domain.Position) *stubPositions {
	s := &stubPositions{positions: make(map[int64]*domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *stubPositions) CreatePosition(_ context.Context, pos *domain.Position) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return pos.ID, nil
}

func (s *stubPositions) GetPosition(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *stubPositions) ListByTrader(_ context.Context, traderID string, status domain.PositionStatus) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.TraderID == traderID && (status == "" || p.Status == status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubPositions) ListByStatus(_ context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubPositions) UpdatePnL(_ context.Context, id int64, unrealized, roi decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return ports.ErrNotFound
	}
	p.UnrealizedPnL = unrealized
	p.ROI = roi
	return nil
}

func (s *stubPositions) CloseOut(_ context.Context, id int64, status domain.PositionStatus, exitPrice decimal.Decimal, exitTime time.Time, exitFee, realized, roi decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return ports.ErrNotFound
	}
	if !p.IsOpen() {
		return ports.ErrPositionClosed
	}
	p.Status = status
	p.ExitPrice = exitPrice
	p.RealizedPnL = realized
	return nil
}

func (s *stubPositions) CountByTrader(_ context.Context, traderID string) (int, error) {
	return 0, nil
}

type recordingLedger struct {
	mu           sync.Mutex
	store        *stubPositions
	liquidations []int64
	equityPushes []string
	failNext     error
}

func (r *recordingLedger) UpdateMark(_ context.Context, pos *domain.Position, price decimal.Decimal) error {
	return r.store.UpdatePnL(context.Background(), pos.ID, pos.ComputeUnrealizedPnL(price), decimal.Zero)
}

func (r *recordingLedger) ForceLiquidate(ctx context.Context, id int64, price decimal.Decimal) error {
	r.mu.Lock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		r.mu.Unlock()
		return err
	}
	r.liquidations = append(r.liquidations, id)
	r.mu.Unlock()
	return r.store.CloseOut(ctx, id, domain.StatusLiquidated, price, time.Now(), decimal.Zero, decimal.Zero, decimal.Zero)
}

func (r *recordingLedger) RecomputeEquity(_ context.Context, traderID string) error {
	r.mu.Lock()
	r.equityPushes = append(r.equityPushes, traderID)
	r.mu.Unlock()
	return nil
}

type priceMap struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (p *priceMap) Get(_ context.Context, exchange, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, ports.ErrPriceUnavailable
	}
	return price, nil
}

func (p *priceMap) set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

func openPosition(id int64, traderID, symbol string, side domain.Side, entry, leverage string) *domain.Position {
	pos := &domain.Position{
		ID:         id,
		TraderID:   traderID,
		Exchange:   "binance",
		Symbol:     symbol,
		Side:       side,
		Status:     domain.StatusOpen,
		EntryPrice: decimal.RequireFromString(entry),
		Leverage:   decimal.RequireFromString(leverage),
		Size:       decimal.NewFromInt(1),
	}
	pos.Margin = pos.ComputeMargin()
	pos.LiquidationPrice = pos.ComputeLiquidationPrice()
	return pos
}

func newTestMonitor(t *testing.T, store *stubPositions, ledger *recordingLedger, prices *priceMap) *Monitor {
	t.Helper()
	m, err := New(Config{
		Positions: store,
		Ledger:    ledger,
		Prices:    prices,
		Logger:    logger.NewStdLogger(logger.LevelError),
	})
	require.NoError(t, err)
	return m
}

func TestSweepLiquidatesCrossedPositions(t *testing.T) {
	safe := openPosition(1, "trader-1", "BTCUSDT", domain.Long, "100", "5")
	crossed := openPosition(2, "trader-2", "ETHUSDT", domain.Long, "100", "5")
	store := newStubPositions(safe, crossed)
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(99),
		"ETHUSDT": decimal.NewFromInt(80), // below liq price 80.5
	}}
	m := newTestMonitor(t, store, ledger, prices)

	m.Sweep(context.Background())

	assert.Equal(t, []int64{2}, ledger.liquidations)
	assert.Equal(t, []string{"trader-2"}, ledger.equityPushes)

	got, err := store.GetPosition(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLiquidated, got.Status)
}

func TestSweepShortSideLiquidation(t *testing.T) {
	short := openPosition(1, "trader-1", "BTCUSDT", domain.Short, "100", "5")
	store := newStubPositions(short)
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(120), // above liq price 119.5
	}}
	m := newTestMonitor(t, store, ledger, prices)

	m.Sweep(context.Background())
	assert.Equal(t, []int64{1}, ledger.liquidations)
}

func TestSweepDoesNotDoubleLiquidate(t *testing.T) {
	crossed := openPosition(1, "trader-1", "BTCUSDT", domain.Long, "100", "5")
	store := newStubPositions(crossed)
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(80),
	}}
	m := newTestMonitor(t, store, ledger, prices)

	m.Sweep(context.Background())
	m.Sweep(context.Background())

	assert.Equal(t, []int64{1}, ledger.liquidations, "one liquidation across sweeps")
}

func TestSweepSkipsPositionWithoutPrice(t *testing.T) {
	pos := openPosition(1, "trader-1", "BTCUSDT", domain.Long, "100", "5")
	store := newStubPositions(pos)
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	m := newTestMonitor(t, store, ledger, prices)

	m.Sweep(context.Background())
	assert.Empty(t, ledger.liquidations)
}

func TestSweepRetriesAfterLiquidationFailure(t *testing.T) {
	crossed := openPosition(1, "trader-1", "BTCUSDT", domain.Long, "100", "5")
	store := newStubPositions(crossed)
	ledger := &recordingLedger{store: store, failNext: ports.ErrPersistence}
	prices := &priceMap{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(80),
	}}
	m := newTestMonitor(t, store, ledger, prices)

	m.Sweep(context.Background())
	assert.Empty(t, ledger.liquidations)

	m.Sweep(context.Background())
	assert.Equal(t, []int64{1}, ledger.liquidations, "claim released, retried next sweep")
}

func TestCheckPosition(t *testing.T) {
	crossed := openPosition(1, "trader-1", "BTCUSDT", domain.Long, "100", "5")
	store := newStubPositions(crossed)
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(90),
	}}
	m := newTestMonitor(t, store, ledger, prices)

	liquidated, err := m.CheckPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, liquidated, "90 is above the liquidation price")

	prices.set("BTCUSDT", decimal.NewFromFloat(80.5))
	liquidated, err = m.CheckPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, liquidated, "exactly at the liquidation price fires")

	liquidated, err = m.CheckPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, liquidated, "terminal positions are never rechecked")

	_, err = m.CheckPosition(context.Background(), 42)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStartStopLifecycle(t *testing.T) {
	store := newStubPositions()
	ledger := &recordingLedger{store: store}
	prices := &priceMap{prices: map[string]decimal.Decimal{}}

	m, err := New(Config{
		Positions: store,
		Ledger:    ledger,
		Prices:    prices,
		Logger:    logger.NewStdLogger(logger.LevelError),
		Interval:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	m.Start(context.Background())
	m.Start(context.Background()) // idempotent
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop() // no-op when stopped

	// Stop nils the done channel while the loop goroutine is still
	// registering its defer. Repeat to give the race a chance.
	for i := 0; i < 100; i++ {
		m.Start(context.Background())
		m.Stop()
	}
}
