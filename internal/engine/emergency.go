package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/audit"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/order"
	"autotrader/pkg/exchanges/common"
)

// EmergencyStop stops every strategy, then tries to close every open
// position once, each attempt bounded by the liquidation timeout. It blocks
// until all of that is done. With nothing running and nothing open it is a
// no-op. Positions that could not be closed come back in a
// *LiquidationError; strategies already stopped stay stopped.
func (e *Impl) EmergencyStop(ctx context.Context) (*EmergencyReport, error) {
	e.emergencyMu.Lock()
	defer e.emergencyMu.Unlock()

	start := time.Now()
	stopped, stopErr := e.sched.StopAll(ctx)
	if stopErr != nil {
		e.log.Error("emergency stop: some strategies failed to stop", zap.Error(stopErr))
	}
	positions := e.ledger.All()

	report := &EmergencyReport{StoppedStrategies: stopped}
	if len(stopped) == 0 && len(positions) == 0 && stopErr == nil {
		report.NoOp = true
		report.Duration = time.Since(start).String()
		e.log.Info("emergency stop: nothing running and nothing open")
		return report, nil
	}

	e.log.Error("emergency stop engaged",
		zap.Strings("stopped_strategies", stopped),
		zap.Int("open_positions", len(positions)))

	var (
		remaining []ledger.Key
		causes    []error
	)
	for _, p := range positions {
		closed, err := e.liquidate(ctx, p)
		if err != nil {
			remaining = append(remaining, p.Key())
			causes = append(causes, err)
			report.Failed = append(report.Failed, FailedPosition{Key: p.Key(), Error: err.Error()})
			e.log.Error("emergency liquidation failed",
				zap.String("strategy_id", p.StrategyID),
				zap.String("symbol", p.Symbol),
				zap.Error(err))
			continue
		}
		if closed != nil {
			report.Closed = append(report.Closed, *closed)
		}
	}
	report.Duration = time.Since(start).String()

	alert := events.Alert{
		Type:    events.EventEmergencyStop,
		Level:   events.LevelCritical,
		Title:   "Emergency stop executed",
		Message: fmt.Sprintf("stopped %d strategies, closed %d positions", len(stopped), len(report.Closed)),
		Details: map[string]any{
			"stopped_strategies": len(stopped),
			"closed_positions":   len(report.Closed),
			"duration":           report.Duration,
		},
	}

	var err error
	if len(remaining) > 0 {
		lerr := &LiquidationError{Remaining: remaining, Cause: errors.Join(causes...)}
		alert.Title = "Emergency stop incomplete"
		alert.Message = lerr.Error()
		alert.Details["remaining"] = keyStrings(remaining)
		err = lerr
	}
	if stopErr != nil {
		alert.Details["stop_errors"] = stopErr.Error()
		err = errors.Join(err, stopErr)
	}
	events.Emit(e.bus, alert)
	return report, err
}

// liquidate closes one position at market. The order attempt is bounded by
// the liquidation timeout; the audit write is not, because the fill already
// happened. A nil result means the position was already gone.
func (e *Impl) liquidate(ctx context.Context, p ledger.Position) (*ClosedPosition, error) {
	key := p.Key()
	attemptCtx, cancel := context.WithTimeout(ctx, e.liquidationTimeout)
	defer cancel()

	release, err := e.ledger.Acquire(attemptCtx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lane: a tick finishing just before may have closed it.
	p, ok := e.ledger.Get(key)
	if !ok {
		e.log.Info("emergency liquidation: position already closed", zap.String("position", key.String()))
		return nil, nil
	}

	price, ok := e.marks.Get(p.Symbol)
	if !ok {
		price = p.EntryPrice
	}
	side, qty := common.SideSell, p.Shares
	if qty < 0 {
		side, qty = common.SideBuy, -qty
	}

	res, err := e.executor.Place(attemptCtx, order.Request{
		StrategyID: p.StrategyID,
		Symbol:     p.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Shares:     qty,
		RefPrice:   price,
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("liquidation timed out after %s: %w", e.liquidationTimeout, err)
		}
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	closed, err := e.ledger.Close(persistCtx, key, res.FillPrice)
	if err != nil {
		return nil, err
	}
	pnl := closed.RealizedPnL
	trade, recErr := e.audit.Record(persistCtx, audit.Trade{
		StrategyID:  p.StrategyID,
		Symbol:      p.Symbol,
		Side:        string(side),
		Shares:      qty,
		Price:       res.FillPrice,
		RealizedPnL: &pnl,
		Reason:      audit.ReasonEmergency,
		OrderID:     res.OrderID,
	})
	if recErr != nil {
		// The position is closed; the audit log already raised its own alert.
		e.log.Error("emergency trade not recorded", zap.String("position", key.String()), zap.Error(recErr))
	}
	e.balance.Invalidate()

	return &ClosedPosition{
		Key:         key,
		Shares:      qty,
		ExitPrice:   res.FillPrice,
		RealizedPnL: pnl,
		TradeID:     trade.ID,
	}, nil
}

func keyStrings(keys []ledger.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
