// Package monitor watches open positions and force-liquidates the ones
// whose price has crossed their liquidation threshold.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
	"traderHive/internal/ports"
)

// DefaultInterval is the sweep period.
const DefaultInterval = 10 * time.Second

// LedgerOps is the slice of the ledger the monitor drives.
type LedgerOps interface {
	UpdateMark(ctx context.Context, pos *domain.Position, price decimal.Decimal) error
	ForceLiquidate(ctx context.Context, positionID int64, price decimal.Decimal) error
	RecomputeEquity(ctx context.Context, traderID string) error
}

// PriceSource supplies the current price for a pair. Satisfied by the
// price cache.
type PriceSource interface {
	Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
}

// Config holds the dependencies and tuning for a Monitor.
type Config struct {
	Positions ports.PositionRepository
	Ledger    LedgerOps
	Prices    PriceSource
	Logger    ports.Logger
	// Interval is the sweep period. Zero means DefaultInterval.
	Interval time.Duration
}

// Monitor runs a background sweep over all open positions, marking them to
// market and liquidating the ones past their threshold. A processed set
// guarantees each position is submitted for liquidation at most once, even
// when a sweep overlaps a manual close.
type Monitor struct {
	positions ports.PositionRepository
	ledger    LedgerOps
	prices    PriceSource
	logger    ports.Logger
	interval  time.Duration

	mu        sync.Mutex
	processed map[int64]struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a liquidation monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Positions == nil || cfg.Ledger == nil || cfg.Prices == nil {
		return nil, fmt.Errorf("positions, ledger and prices are required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrInvalidRequest)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		positions: cfg.Positions,
		ledger:    cfg.Ledger,
		prices:    cfg.Prices,
		logger:    cfg.Logger,
		interval:  interval,
		processed: make(map[int64]struct{}),
	}, nil
}

// Start launches the sweep loop. Idempotent while running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, done)
	m.logger.Info(ctx, "liquidation monitor started", map[string]interface{}{
		"interval": m.interval.String(),
	})
}

// Stop cancels the sweep loop and waits for the current sweep to finish.
// A no-op when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run owns its done channel. Stop nils the struct field, so the loop must
// not read it back.
func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over all open positions. Exposed so tests and
// on-demand callers can run it synchronously.
func (m *Monitor) Sweep(ctx context.Context) {
	open, err := m.positions.ListByStatus(ctx, domain.StatusOpen)
	if err != nil {
		m.logger.Error(ctx, err, "failed to list open positions")
		return
	}

	affected := make(map[string]struct{})
	seen := make(map[int64]struct{}, len(open))

	for _, pos := range open {
		if ctx.Err() != nil {
			return
		}
		seen[pos.ID] = struct{}{}

		price, err := m.prices.Get(ctx, pos.Exchange, pos.Symbol)
		if err != nil {
			m.logger.Warn(ctx, "skipping position, price unavailable", map[string]interface{}{
				"position_id": pos.ID,
				"symbol":      pos.Symbol,
				"error":       err.Error(),
			})
			continue
		}

		if err := m.ledger.UpdateMark(ctx, pos, price); err != nil && !errors.Is(err, ports.ErrPositionClosed) {
			m.logger.Error(ctx, err, "failed to mark position", map[string]interface{}{
				"position_id": pos.ID,
			})
		}

		if !pos.ShouldLiquidate(price) {
			continue
		}
		if !m.claim(pos.ID) {
			continue
		}

		affected[pos.TraderID] = struct{}{}
		if err := m.ledger.ForceLiquidate(ctx, pos.ID, price); err != nil {
			if errors.Is(err, ports.ErrPositionClosed) {
				// A manual close won the race; nothing to do.
				continue
			}
			// Release the claim so the next sweep retries.
			m.unclaim(pos.ID)
			m.logger.Error(ctx, err, "failed to liquidate position", map[string]interface{}{
				"position_id": pos.ID,
			})
		}
	}

	for traderID := range affected {
		if err := m.ledger.RecomputeEquity(ctx, traderID); err != nil {
			m.logger.Error(ctx, err, "failed to recompute equity", map[string]interface{}{
				"trader_id": traderID,
			})
		}
	}

	m.prune(seen)
}

// CheckPosition runs the liquidation check for one position on demand and
// reports whether it was liquidated.
func (m *Monitor) CheckPosition(ctx context.Context, positionID int64) (bool, error) {
	pos, err := m.positions.GetPosition(ctx, positionID)
	if err != nil {
		return false, fmt.Errorf("failed to load position %d: %w", positionID, err)
	}
	if pos == nil {
		return false, fmt.Errorf("position %d: %w", positionID, ports.ErrNotFound)
	}
	if !pos.IsOpen() {
		return false, nil
	}

	price, err := m.prices.Get(ctx, pos.Exchange, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to fetch price for position %d: %w", positionID, err)
	}
	if !pos.ShouldLiquidate(price) {
		return false, nil
	}
	if !m.claim(positionID) {
		return false, nil
	}

	if err := m.ledger.ForceLiquidate(ctx, positionID, price); err != nil {
		if errors.Is(err, ports.ErrPositionClosed) {
			return false, nil
		}
		m.unclaim(positionID)
		return false, err
	}
	return true, nil
}

// claim marks a position as submitted for liquidation. Returns false when
// some other path already claimed it.
func (m *Monitor) claim(positionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[positionID]; ok {
		return false
	}
	m.processed[positionID] = struct{}{}
	return true
}

func (m *Monitor) unclaim(positionID int64) {
	m.mu.Lock()
	delete(m.processed, positionID)
	m.mu.Unlock()
}

// prune drops processed entries for positions that are no longer open, so
// the set does not grow with history.
func (m *Monitor) prune(stillOpen map[int64]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.processed {
		if _, ok := stillOpen[id]; !ok {
			delete(m.processed, id)
		}
	}
}
