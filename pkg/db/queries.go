package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Queries groups the typed statements used by the runner.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Strategy Queries
// ----------------------------------------

// UpsertStrategy inserts or replaces a strategy definition. Status is only
// written on insert; lifecycle changes go through UpdateStrategyStatus.
func (q *Queries) UpsertStrategy(ctx context.Context, s Strategy) error {
	symbols, err := json.Marshal(s.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.Status == "" {
		s.Status = "STOPPED"
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, strategy_type, status, symbols, timeframe, parameters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			strategy_type = excluded.strategy_type,
			symbols = excluded.symbols,
			timeframe = excluded.timeframe,
			parameters = excluded.parameters,
			updated_at = excluded.updated_at
	`, s.ID, s.Name, s.Type, s.Status, string(symbols), s.Timeframe, string(params), toMillis(s.CreatedAt), toMillis(now))
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.ID, err)
	}
	return nil
}

// UpdateStrategyStatus persists a lifecycle transition.
func (q *Queries) UpdateStrategyStatus(ctx context.Context, id, status string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE strategies SET status = ?, updated_at = ? WHERE id = ?`,
		status, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update strategy status: %w", err)
	}
	return expectOne(res)
}

// GetStrategy loads one strategy by id.
func (q *Queries) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, strategy_type, status, symbols, timeframe, COALESCE(parameters, ''), created_at, updated_at
		FROM strategies WHERE id = ?
	`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListStrategies returns all strategies ordered by creation time.
func (q *Queries) ListStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, strategy_type, status, symbols, timeframe, COALESCE(parameters, ''), created_at, updated_at
		FROM strategies ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteStrategy removes a strategy definition.
func (q *Queries) DeleteStrategy(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(r scanner) (*Strategy, error) {
	var (
		s                    Strategy
		symbols, params      string
		createdAt, updatedAt int64
	)
	if err := r.Scan(&s.ID, &s.Name, &s.Type, &s.Status, &symbols, &s.Timeframe, &params, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(symbols), &s.Symbols); err != nil {
		return nil, fmt.Errorf("decode symbols for %s: %w", s.ID, err)
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &s.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters for %s: %w", s.ID, err)
		}
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

// InsertPosition stores a new open position. The (strategy, symbol)
// primary key rejects duplicates with ErrDuplicate.
func (q *Queries) InsertPosition(ctx context.Context, p Position) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (strategy_id, symbol, shares, entry_price, entry_time, stop_loss, take_profit, entry_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.StrategyID, p.Symbol, p.Shares, p.EntryPrice, toMillis(p.EntryTime),
		nullFloat(p.StopLoss), nullFloat(p.TakeProfit), p.EntryOrderID)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("position %s:%s: %w", p.StrategyID, p.Symbol, ErrDuplicate)
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// DeletePosition removes a closed position.
func (q *Queries) DeletePosition(ctx context.Context, strategyID, symbol string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM positions WHERE strategy_id = ? AND symbol = ?`, strategyID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return expectOne(res)
}

// ListPositions returns every open position.
func (q *Queries) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT strategy_id, symbol, shares, entry_price, entry_time, stop_loss, take_profit, COALESCE(entry_order_id, '')
		FROM positions ORDER BY strategy_id, symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var (
			p          Position
			entryTime  int64
			stop, take sql.NullFloat64
		)
		if err := rows.Scan(&p.StrategyID, &p.Symbol, &p.Shares, &p.EntryPrice, &entryTime, &stop, &take, &p.EntryOrderID); err != nil {
			return nil, err
		}
		p.EntryTime = fromMillis(entryTime)
		p.StopLoss = floatPtr(stop)
		p.TakeProfit = floatPtr(take)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// InsertOrder records a placement attempt.
func (q *Queries) InsertOrder(ctx context.Context, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, strategy_id, symbol, side, type, qty, price, status, error, venue, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ExchangeOrderID, o.StrategyID, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.Status, o.Error, o.Venue, toMillis(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// ListOrders returns recent orders, newest first.
func (q *Queries) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), COALESCE(strategy_id, ''), symbol, side, type, qty, price, status,
		       COALESCE(error, ''), COALESCE(venue, ''), created_at
		FROM orders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o         Order
			createdAt int64
		)
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.StrategyID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price,
			&o.Status, &o.Error, &o.Venue, &createdAt); err != nil {
			return nil, err
		}
		o.CreatedAt = fromMillis(createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trade Queries (append-only)
// ----------------------------------------

// AppendTrade writes one immutable trade entry.
func (q *Queries) AppendTrade(ctx context.Context, t Trade) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (id, ts, strategy_id, symbol, side, shares, price, realized_pnl, reason, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, toMillis(t.Timestamp), t.StrategyID, t.Symbol, t.Side, t.Shares, t.Price, nullFloat(t.RealizedPnL), t.Reason, t.OrderID)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicate)
		}
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

// QueryTrades returns trades matching f in chronological order.
func (q *Queries) QueryTrades(ctx context.Context, f TradeFilter) ([]Trade, error) {
	var (
		where []string
		args  []any
	)
	if f.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, f.StrategyID)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, toMillis(f.To))
	}

	query := `SELECT id, ts, strategy_id, symbol, side, shares, price, realized_pnl, reason, COALESCE(order_id, '') FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t   Trade
			ts  int64
			pnl sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &ts, &t.StrategyID, &t.Symbol, &t.Side, &t.Shares, &t.Price, &pnl, &t.Reason, &t.OrderID); err != nil {
			return nil, err
		}
		t.Timestamp = fromMillis(ts)
		t.RealizedPnL = floatPtr(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Risk State Queries
// ----------------------------------------

// SaveRiskState upserts the singleton daily risk row.
func (q *Queries) SaveRiskState(ctx context.Context, s RiskState) error {
	var haltedAt any
	if s.HaltedAt != nil {
		haltedAt = toMillis(*s.HaltedAt)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO daily_risk_state (id, trading_day, starting_equity, current_equity, halted, halt_reason, halted_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trading_day = excluded.trading_day,
			starting_equity = excluded.starting_equity,
			current_equity = excluded.current_equity,
			halted = excluded.halted,
			halt_reason = excluded.halt_reason,
			halted_at = excluded.halted_at,
			updated_at = excluded.updated_at
	`, s.TradingDay, s.StartingEquity, s.CurrentEquity, boolToInt(s.Halted), s.HaltReason, haltedAt, toMillis(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

// LoadRiskState returns the persisted daily risk row or ErrNotFound.
func (q *Queries) LoadRiskState(ctx context.Context) (*RiskState, error) {
	var (
		s         RiskState
		halted    int
		haltedAt  sql.NullInt64
		updatedAt int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT trading_day, starting_equity, current_equity, halted, COALESCE(halt_reason, ''), halted_at, updated_at
		FROM daily_risk_state WHERE id = 1
	`).Scan(&s.TradingDay, &s.StartingEquity, &s.CurrentEquity, &halted, &s.HaltReason, &haltedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load risk state: %w", err)
	}
	s.Halted = halted != 0
	if haltedAt.Valid {
		t := fromMillis(haltedAt.Int64)
		s.HaltedAt = &t
	}
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// ----------------------------------------
// Alert Queries
// ----------------------------------------

// InsertAlerts writes a batch of alerts in one transaction.
func (q *Queries) InsertAlerts(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO alerts (id, type, level, title, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx, a.ID, a.Type, a.Level, a.Title, a.Message, toMillis(a.CreatedAt)); err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// RecentAlerts returns the newest alerts first.
func (q *Queries) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, level, title, COALESCE(message, ''), created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var (
			a         Alert
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Level, &a.Title, &a.Message, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ----------------------------------------
// helpers
// ----------------------------------------

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
