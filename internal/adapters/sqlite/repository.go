package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"traderHive/internal/domain"
	"traderHive/internal/ports"
)

// Repository implements ports.TraderRepository and ports.PositionRepository
// using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/traders.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory %q: %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the scheduler and the
	// liquidation monitor.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at %q: %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at %q: %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers internally; a single connection avoids
	// SQLITE_BUSY churn from the Go pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite repository ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist. Monetary columns are
// TEXT so decimals round-trip without float drift.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS traders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		trading_pairs TEXT NOT NULL DEFAULT '[]',
		timeframes TEXT NOT NULL DEFAULT '[]',
		initial_balance TEXT NOT NULL DEFAULT '10000',
		balance TEXT NOT NULL DEFAULT '10000',
		equity TEXT NOT NULL DEFAULT '10000',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trader_id TEXT NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		leverage TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_fee TEXT NOT NULL DEFAULT '0',
		exit_price TEXT DEFAULT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		exit_fee TEXT NOT NULL DEFAULT '0',
		size TEXT NOT NULL,
		margin TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL DEFAULT '0',
		realized_pnl TEXT NOT NULL DEFAULT '0',
		roi TEXT NOT NULL DEFAULT '0',
		liquidation_price TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_trader_status ON positions (trader_id, status);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema execution failed: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// --- TraderRepository ---

// CreateTrader saves a new trader.
func (r *Repository) CreateTrader(ctx context.Context, trader *domain.Trader) error {
	pairs, err := sonic.MarshalString(trader.TradingPairs)
	if err != nil {
		return fmt.Errorf("marshal trading pairs: %w: %w", ports.ErrPersistence, err)
	}
	frames, err := sonic.MarshalString(trader.Timeframes)
	if err != nil {
		return fmt.Errorf("marshal timeframes: %w: %w", ports.ErrPersistence, err)
	}

	now := time.Now().UTC()
	if trader.CreatedAt.IsZero() {
		trader.CreatedAt = now
	}
	trader.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO traders (id, name, trading_pairs, timeframes, initial_balance, balance, equity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trader.ID, trader.Name, pairs, frames,
		trader.InitialBalance.String(), trader.Balance.String(), trader.Equity.String(),
		trader.CreatedAt, trader.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trader %s: %w: %w", trader.ID, ports.ErrPersistence, err)
	}
	return nil
}

// GetTrader retrieves a trader by id. Returns nil, nil if not found.
func (r *Repository) GetTrader(ctx context.Context, id string) (*domain.Trader, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, trading_pairs, timeframes, initial_balance, balance, equity, created_at, updated_at
		FROM traders WHERE id = ?`, id)

	trader, err := scanTrader(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	return trader, nil
}

// ListTraders retrieves all traders ordered by id.
func (r *Repository) ListTraders(ctx context.Context) ([]*domain.Trader, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, trading_pairs, timeframes, initial_balance, balance, equity, created_at, updated_at
		FROM traders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list traders: %w: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()

	var traders []*domain.Trader
	for rows.Next() {
		trader, err := scanTrader(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trader row: %w: %w", ports.ErrPersistence, err)
		}
		traders = append(traders, trader)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traders: %w: %w", ports.ErrPersistence, err)
	}
	return traders, nil
}

// UpdateTrader modifies an existing trader's profile fields.
func (r *Repository) UpdateTrader(ctx context.Context, trader *domain.Trader) error {
	pairs, err := sonic.MarshalString(trader.TradingPairs)
	if err != nil {
		return fmt.Errorf("marshal trading pairs: %w: %w", ports.ErrPersistence, err)
	}
	frames, err := sonic.MarshalString(trader.Timeframes)
	if err != nil {
		return fmt.Errorf("marshal timeframes: %w: %w", ports.ErrPersistence, err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE traders
		SET name = ?, trading_pairs = ?, timeframes = ?, initial_balance = ?, balance = ?, equity = ?, updated_at = ?
		WHERE id = ?`,
		trader.Name, pairs, frames,
		trader.InitialBalance.String(), trader.Balance.String(), trader.Equity.String(),
		time.Now().UTC(), trader.ID,
	)
	if err != nil {
		return fmt.Errorf("update trader %s: %w: %w", trader.ID, ports.ErrPersistence, err)
	}
	return requireRowAffected(res, trader.ID)
}

// ApplyBalanceChange atomically adds balanceDelta to the trader's balance and
// sets equity in one statement; the ledger relies on this to keep balances
// consistent under concurrent closes.
func (r *Repository) ApplyBalanceChange(ctx context.Context, id string, balanceDelta, equity decimal.Decimal) error {
	row := r.db.QueryRowContext(ctx, `SELECT balance FROM traders WHERE id = ?`, id)
	var balanceStr string
	if err := row.Scan(&balanceStr); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("trader %s: %w", id, ports.ErrNotFound)
		}
		return fmt.Errorf("read balance for trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return fmt.Errorf("corrupt balance %q for trader %s: %w", balanceStr, id, ports.ErrPersistence)
	}

	newBalance := balance.Add(balanceDelta)
	res, err := r.db.ExecContext(ctx, `
		UPDATE traders SET balance = ?, equity = ?, updated_at = ? WHERE id = ? AND balance = ?`,
		newBalance.String(), equity.String(), time.Now().UTC(), id, balanceStr,
	)
	if err != nil {
		return fmt.Errorf("apply balance change for trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply balance change for trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	if n == 0 {
		// Balance moved between read and write; the caller serializes per
		// trader so this indicates an outside writer.
		return fmt.Errorf("concurrent balance update for trader %s: %w", id, ports.ErrPersistence)
	}
	return nil
}

// SetEquity atomically overwrites the trader's equity.
func (r *Repository) SetEquity(ctx context.Context, id string, equity decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE traders SET equity = ?, updated_at = ? WHERE id = ?`,
		equity.String(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set equity for trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	return requireRowAffected(res, id)
}

// --- PositionRepository ---

// positionColumns is the column list shared by insert and select.
const positionColumns = `id, trader_id, exchange, symbol, side, status, leverage,
	entry_price, entry_time, entry_fee, exit_price, exit_time, exit_fee,
	size, margin, unrealized_pnl, realized_pnl, roi, liquidation_price,
	created_at, updated_at`

// CreatePosition saves a new position and returns its assigned ID.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	now := time.Now().UTC()
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = now
	}
	pos.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (trader_id, exchange, symbol, side, status, leverage,
			entry_price, entry_time, entry_fee, exit_fee,
			size, margin, unrealized_pnl, realized_pnl, roi, liquidation_price,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.TraderID, pos.Exchange, pos.Symbol, string(pos.Side), string(pos.Status),
		pos.Leverage.String(), pos.EntryPrice.String(), pos.EntryTime, pos.EntryFee.String(),
		pos.ExitFee.String(), pos.Size.String(), pos.Margin.String(),
		pos.UnrealizedPnL.String(), pos.RealizedPnL.String(), pos.ROI.String(),
		pos.LiquidationPrice.String(), pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert position for trader %s: %w: %w", pos.TraderID, ports.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read position id: %w: %w", ports.ErrPersistence, err)
	}
	pos.ID = id
	return id, nil
}

// GetPosition retrieves a position by id. Returns nil, nil if not found.
func (r *Repository) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)

	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query position %d: %w: %w", id, ports.ErrPersistence, err)
	}
	return pos, nil
}

// ListByTrader retrieves a trader's positions, optionally filtered by status.
func (r *Repository) ListByTrader(ctx context.Context, traderID string, status domain.PositionStatus) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE trader_id = ?`
	args := []interface{}{traderID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY entry_time DESC`
	return r.queryPositions(ctx, query, args...)
}

// ListByStatus retrieves all positions with the given status across traders.
func (r *Repository) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	return r.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY entry_time DESC`,
		string(status))
}

// UpdatePnL stores a fresh mark-to-market result for an open position.
func (r *Repository) UpdatePnL(ctx context.Context, id int64, unrealized, roi decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE positions SET unrealized_pnl = ?, roi = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		unrealized.String(), roi.String(), time.Now().UTC(), id, string(domain.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("update pnl for position %d: %w: %w", id, ports.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pnl for position %d: %w: %w", id, ports.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("position %d: %w", id, ports.ErrPositionClosed)
	}
	return nil
}

// CloseOut records a terminal transition (closed or liquidated). The status
// guard in the WHERE clause makes the open -> terminal transition atomic:
// a position can leave `open` exactly once.
func (r *Repository) CloseOut(ctx context.Context, id int64, status domain.PositionStatus, exitPrice decimal.Decimal, exitTime time.Time, exitFee, realized, roi decimal.Decimal) error {
	if !status.IsTerminal() {
		return fmt.Errorf("close-out to non-terminal status %q: %w", status, ports.ErrInvalidRequest)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, exit_price = ?, exit_time = ?, exit_fee = ?,
			realized_pnl = ?, unrealized_pnl = '0', roi = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), exitPrice.String(), exitTime, exitFee.String(),
		realized.String(), roi.String(), time.Now().UTC(),
		id, string(domain.StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("close out position %d: %w: %w", id, ports.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close out position %d: %w: %w", id, ports.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("position %d: %w", id, ports.ErrPositionClosed)
	}
	return nil
}

// CountByTrader counts a trader's positions across all statuses.
func (r *Repository) CountByTrader(ctx context.Context, traderID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE trader_id = ?`, traderID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count positions for trader %s: %w: %w", traderID, ports.ErrPersistence, err)
	}
	return count, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrader(row rowScanner) (*domain.Trader, error) {
	var (
		trader                 domain.Trader
		pairsJSON, framesJSON  string
		initial, balance, eqty string
	)
	if err := row.Scan(&trader.ID, &trader.Name, &pairsJSON, &framesJSON,
		&initial, &balance, &eqty, &trader.CreatedAt, &trader.UpdatedAt); err != nil {
		return nil, err
	}

	if err := sonic.UnmarshalString(pairsJSON, &trader.TradingPairs); err != nil {
		return nil, fmt.Errorf("unmarshal trading pairs %q: %w", pairsJSON, err)
	}
	if err := sonic.UnmarshalString(framesJSON, &trader.Timeframes); err != nil {
		return nil, fmt.Errorf("unmarshal timeframes %q: %w", framesJSON, err)
	}

	var err error
	if trader.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("corrupt initial balance %q: %w", initial, err)
	}
	if trader.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance %q: %w", balance, err)
	}
	if trader.Equity, err = decimal.NewFromString(eqty); err != nil {
		return nil, fmt.Errorf("corrupt equity %q: %w", eqty, err)
	}
	return &trader, nil
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		pos                          domain.Position
		side, status                 string
		leverage, entryPrice         string
		entryFee, exitFee            string
		size, margin                 string
		unrealized, realized, roi    string
		liqPrice                     string
		exitPrice                    sql.NullString
		exitTime                     sql.NullTime
	)
	if err := row.Scan(&pos.ID, &pos.TraderID, &pos.Exchange, &pos.Symbol, &side, &status,
		&leverage, &entryPrice, &pos.EntryTime, &entryFee, &exitPrice, &exitTime, &exitFee,
		&size, &margin, &unrealized, &realized, &roi, &liqPrice,
		&pos.CreatedAt, &pos.UpdatedAt); err != nil {
		return nil, err
	}

	pos.Side = domain.Side(side)
	pos.Status = domain.PositionStatus(status)

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&pos.Leverage, leverage},
		{&pos.EntryPrice, entryPrice},
		{&pos.EntryFee, entryFee},
		{&pos.ExitFee, exitFee},
		{&pos.Size, size},
		{&pos.Margin, margin},
		{&pos.UnrealizedPnL, unrealized},
		{&pos.RealizedPnL, realized},
		{&pos.ROI, roi},
		{&pos.LiquidationPrice, liqPrice},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal column %q: %w", f.src, err)
		}
		*f.dst = d
	}

	if exitPrice.Valid {
		d, err := decimal.NewFromString(exitPrice.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt exit price %q: %w", exitPrice.String, err)
		}
		pos.ExitPrice = d
	}
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time
	}
	return &pos, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w: %w", ports.ErrPersistence, err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w: %w", ports.ErrPersistence, err)
	}
	return positions, nil
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for trader %s: %w: %w", id, ports.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("trader %s: %w", id, ports.ErrNotFound)
	}
	return nil
}
