package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autotrader/pkg/db"
	"autotrader/pkg/exchanges/common"
)

// Store persists one row per placement attempt. *db.Queries implements it.
type Store interface {
	InsertOrder(ctx context.Context, o db.Order) error
}

// Observer receives the outcome of every placement.
type Observer interface {
	ObserveOrder(venue string, status common.OrderStatus, elapsed time.Duration)
}

// Executor routes orders to the venue of the current trading mode, bounds
// each attempt with a timeout and records every attempt.
type Executor struct {
	store    Store
	timeout  time.Duration
	log      *zap.Logger
	observer Observer

	mu     sync.RWMutex
	mode   Mode
	venues map[Mode]common.Venue
}

// NewExecutor builds an executor starting in mode. venues must contain mode.
func NewExecutor(store Store, venues map[Mode]common.Venue, mode Mode, timeout time.Duration, log *zap.Logger) (*Executor, error) {
	if _, ok := venues[mode]; !ok {
		return nil, fmt.Errorf("no venue configured for %s mode", mode)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	copied := make(map[Mode]common.Venue, len(venues))
	for m, v := range venues {
		copied[m] = v
	}
	return &Executor{
		store:   store,
		timeout: timeout,
		log:     log.Named("order"),
		mode:    mode,
		venues:  copied,
	}, nil
}

// SetObserver installs a metrics hook.
func (e *Executor) SetObserver(o Observer) { e.observer = o }

// Mode returns the current trading mode.
func (e *Executor) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the venue for subsequent orders.
func (e *Executor) SetMode(m Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.venues[m]; !ok {
		return fmt.Errorf("no venue configured for %s mode", m)
	}
	if e.mode != m {
		e.log.Warn("trading mode switched", zap.String("from", string(e.mode)), zap.String("to", string(m)))
	}
	e.mode = m
	return nil
}

// VenueName names the venue orders currently go to.
func (e *Executor) VenueName() string { return e.venue().Name() }

func (e *Executor) venue() common.Venue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.venues[e.mode]
}

// Equity reports the account value of the current venue.
func (e *Executor) Equity(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.venue().Equity(ctx)
}

// ErrNoHoldings is returned when the current venue cannot report holdings.
var ErrNoHoldings = errors.New("venue does not report holdings")

// Holdings reports what the current venue holds per symbol.
func (e *Executor) Holdings(ctx context.Context) (map[string]float64, error) {
	hr, ok := e.venue().(common.HoldingsReader)
	if !ok {
		return nil, ErrNoHoldings
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return hr.Holdings(ctx)
}

// Place submits req and waits for the venue acknowledgement. A timeout, a
// transport error or a refused status all count as failure; nothing about
// the position changes in that case.
func (e *Executor) Place(ctx context.Context, req Request) (Result, error) {
	if req.Shares <= 0 {
		return Result{}, fmt.Errorf("place %s %s: invalid shares %v", req.Side, req.Symbol, req.Shares)
	}
	if req.Type == "" {
		req.Type = common.OrderTypeMarket
	}
	venue := e.venue()
	id := uuid.NewString()

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := venue.SubmitOrder(attemptCtx, common.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Qty:      req.Shares,
		Price:    req.Price,
		ClientID: id,
	})
	elapsed := time.Since(start)

	out := Result{
		OrderID:         id,
		ExchangeOrderID: res.ExchangeOrderID,
		Status:          res.Status,
		FilledQty:       res.ExecutedQty,
		FillPrice:       res.AvgPrice,
		Venue:           venue.Name(),
	}
	if err != nil {
		out.Status = common.StatusRejected
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("order timed out after %s: %w", e.timeout, err)
		}
	} else if res.Status.Failed() {
		err = ErrRejected
	}
	if out.FilledQty == 0 {
		out.FilledQty = req.Shares
	}
	if out.FillPrice == 0 {
		out.FillPrice = req.RefPrice
	}

	e.record(ctx, req, out, err)
	if e.observer != nil {
		e.observer.ObserveOrder(out.Venue, out.Status, elapsed)
	}

	if err != nil {
		e.log.Warn("order failed",
			zap.String("order_id", id),
			zap.String("strategy_id", req.StrategyID),
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Float64("shares", req.Shares),
			zap.String("status", string(out.Status)),
			zap.Error(err))
		return out, fmt.Errorf("place %s %s: %w", req.Side, req.Symbol, err)
	}

	e.log.Info("order filled",
		zap.String("order_id", id),
		zap.String("exchange_order_id", out.ExchangeOrderID),
		zap.String("venue", out.Venue),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("shares", out.FilledQty),
		zap.Float64("price", out.FillPrice),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

// Cancel asks the current venue to cancel an order.
func (e *Executor) Cancel(ctx context.Context, symbol, exchangeOrderID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.venue().CancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, exchangeOrderID, err)
	}
	return nil
}

// record stores the attempt. Storage failures are logged only: the venue
// outcome already happened and must still reach the caller.
func (e *Executor) record(ctx context.Context, req Request, res Result, placeErr error) {
	if e.store == nil {
		return
	}
	row := db.Order{
		ID:              res.OrderID,
		ExchangeOrderID: res.ExchangeOrderID,
		StrategyID:      req.StrategyID,
		Symbol:          req.Symbol,
		Side:            string(req.Side),
		Type:            string(req.Type),
		Qty:             req.Shares,
		Price:           res.FillPrice,
		Status:          string(res.Status),
		Venue:           res.Venue,
		CreatedAt:       time.Now().UTC(),
	}
	if placeErr != nil {
		row.Error = placeErr.Error()
	}
	if err := e.store.InsertOrder(context.WithoutCancel(ctx), row); err != nil {
		e.log.Error("store order failed", zap.String("order_id", res.OrderID), zap.Error(err))
	}
}
