package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"traderHive/internal/domain"
)

// TraderRepository defines the interface for storing and retrieving traders.
type TraderRepository interface {
	// CreateTrader saves a new trader.
	CreateTrader(ctx context.Context, trader *domain.Trader) error
	// GetTrader retrieves a trader by id. Returns nil, nil if not found.
	GetTrader(ctx context.Context, id string) (*domain.Trader, error)
	// ListTraders retrieves all traders ordered by id.
	ListTraders(ctx context.Context) ([]*domain.Trader, error)
	// UpdateTrader modifies an existing trader's profile fields.
	UpdateTrader(ctx context.Context, trader *domain.Trader) error
	// ApplyBalanceChange atomically adds balanceDelta to the trader's
	// balance and sets equity in a single statement.
	ApplyBalanceChange(ctx context.Context, id string, balanceDelta, equity decimal.Decimal) error
	// SetEquity atomically overwrites the trader's equity.
	SetEquity(ctx context.Context, id string, equity decimal.Decimal) error
}

// PositionRepository defines the interface for storing and retrieving positions.
type PositionRepository interface {
	// CreatePosition saves a new position and returns its assigned ID.
	CreatePosition(ctx context.Context, pos *domain.Position) (int64, error)
	// GetPosition retrieves a position by id. Returns nil, nil if not found.
	GetPosition(ctx context.Context, id int64) (*domain.Position, error)
	// ListByTrader retrieves a trader's positions, optionally filtered by
	// status. An empty status returns every position.
	ListByTrader(ctx context.Context, traderID string, status domain.PositionStatus) ([]*domain.Position, error)
	// ListByStatus retrieves all positions with the given status across traders.
	ListByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error)
	// UpdatePnL stores a fresh mark-to-market result for an open position.
	UpdatePnL(ctx context.Context, id int64, unrealized, roi decimal.Decimal) error
	// CloseOut records a terminal transition (closed or liquidated) with its
	// exit fill details and final PnL. Fails with ErrPositionClosed if the
	// position already left the open state.
	CloseOut(ctx context.Context, id int64, status domain.PositionStatus, exitPrice decimal.Decimal, exitTime time.Time, exitFee, realized, roi decimal.Decimal) error
	// CountByTrader counts a trader's positions across all statuses.
	CountByTrader(ctx context.Context, traderID string) (int, error)
}
