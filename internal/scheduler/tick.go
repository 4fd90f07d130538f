package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/audit"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"
	"autotrader/pkg/exchanges/common"
)

// tick runs every symbol of one strategy in order and returns the last
// failure message, or "" when the tick was clean.
func (s *Scheduler) tick(ctx context.Context, inst *instance) string {
	var last string
	for _, symbol := range inst.def.Symbols {
		if err := s.tickSymbol(ctx, inst, symbol); err != nil {
			last = fmt.Sprintf("%s: %v", symbol, err)
		}
	}
	return last
}

// tickSymbol follows the fixed order: fetch, halt check, signal, protective
// exit, execution, record, notify.
func (s *Scheduler) tickSymbol(ctx context.Context, inst *instance, symbol string) error {
	log := s.log.With(zap.String("strategy_id", inst.def.ID), zap.String("symbol", symbol))

	in, err := s.fetch(ctx, inst, symbol)
	if err != nil {
		kind := "market_data"
		if !errors.Is(err, market.ErrUnavailable) {
			kind = "market_data_permanent"
		}
		s.tickError(kind)
		log.Warn("fetch bars failed; skipping symbol this tick", zap.Error(err))
		return err
	}
	price := in.Series.Last()
	if price <= 0 {
		s.tickError("market_data")
		log.Warn("no usable price; skipping symbol this tick")
		return fmt.Errorf("no usable price")
	}
	s.Marks.Set(symbol, price)
	if s.History != nil {
		s.History.Record(symbol, inst.def.Timeframe, in.Series.Closes)
	}
	if s.Bus != nil {
		s.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: symbol, Price: price, Time: time.Now()})
	}

	halted := s.Daily.Halted()
	sig := strategy.Hold("trading halted")
	if !halted {
		sig = inst.eval.Evaluate(in)
		if s.Metrics != nil {
			s.Metrics.Signal(inst.def.ID, string(sig.Action))
		}
	}

	key := ledger.Key{StrategyID: inst.def.ID, Symbol: symbol}
	release, err := s.Ledger.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	pos, open := s.Ledger.Get(key)
	if open {
		if kind, note, hit := pos.ProtectiveExit(price); hit {
			if sig.Action == strategy.ActionSell {
				log.Info("protective exit takes priority over sell signal", zap.String("signal", sig.Note))
			}
			return s.exit(ctx, inst, pos, price, string(kind), note)
		}
	}
	if halted {
		log.Debug("trading halted; signals skipped")
		return nil
	}

	switch sig.Action {
	case strategy.ActionBuy:
		if open {
			log.Debug("buy signal ignored; position already open")
			return nil
		}
		return s.enter(ctx, inst, symbol, in.Series, sig)
	case strategy.ActionSell:
		if !open {
			return nil
		}
		return s.exit(ctx, inst, pos, price, audit.ReasonSignal, sig.Note)
	}
	return nil
}

func (s *Scheduler) fetch(ctx context.Context, inst *instance, symbol string) (strategy.Input, error) {
	req := inst.eval.Requirements()
	lookback := s.cfg.Lookback
	if req.Lookback > lookback {
		lookback = req.Lookback
	}
	if n := s.cfg.ATRPeriod + 1; n > lookback {
		lookback = n
	}

	fetchCtx, cancel := context.WithTimeout(ctx, inst.interval)
	defer cancel()

	frames := make(map[string]market.Series, 1+len(req.Timeframes))
	timeframes := append([]string{inst.def.Timeframe}, req.Timeframes...)
	for _, tf := range timeframes {
		if _, done := frames[tf]; done {
			continue
		}
		bars, err := s.Market.LatestBars(fetchCtx, symbol, tf, lookback)
		if err != nil {
			return strategy.Input{}, fmt.Errorf("bars %s %s: %w", symbol, tf, err)
		}
		frames[tf] = market.NewSeries(bars)
	}
	return strategy.Input{Symbol: symbol, Series: frames[inst.def.Timeframe], Frames: frames}, nil
}

// enter sizes, risk-checks and opens a long position on a BUY signal.
func (s *Scheduler) enter(ctx context.Context, inst *instance, symbol string, series market.Series, sig strategy.Signal) error {
	log := s.log.With(zap.String("strategy_id", inst.def.ID), zap.String("symbol", symbol))
	price := series.Last()

	equity, err := s.Equity.Equity(ctx)
	if err != nil {
		s.tickError("equity")
		log.Warn("equity unavailable; entry skipped", zap.Error(err))
		return err
	}

	atr, ok := atrOf(series, s.cfg.ATRPeriod)
	if !ok {
		log.Info("not enough bars for ATR; entry skipped")
		return nil
	}
	k := inst.def.Params.Float("stop_atr_multiplier", s.cfg.StopATRMultiplier)
	lot := inst.def.Params.Float("lot_step", s.cfg.LotStep)
	fraction := inst.def.Params.Float("position_fraction", s.cfg.PositionFraction)

	shares := PositionSize(equity, fraction, price, lot)
	if shares <= 0 {
		log.Info("position size below one lot; entry skipped",
			zap.Float64("equity", equity), zap.Float64("price", price), zap.Float64("lot_step", lot))
		return nil
	}

	cand := risk.Candidate{
		StrategyID: inst.def.ID,
		Symbol:     symbol,
		Shares:     shares,
		Price:      price,
		StopLoss:   stopPrice(price, atr, k),
	}
	decision := s.Risk.Approve(cand, equity)
	if !decision.Allowed {
		events.Emit(s.Bus, events.Alert{
			Type:       events.EventRiskRejected,
			Level:      events.LevelInfo,
			Title:      "Entry rejected by risk limits",
			Message:    decision.Rejection.Reason,
			StrategyID: inst.def.ID,
			Symbol:     symbol,
			Details: map[string]any{
				"guard":       string(decision.Rejection.Guard),
				"shares":      shares,
				"price":       price,
				"heat_before": decision.HeatBefore,
				"heat_after":  decision.HeatAfter,
			},
		})
		return nil
	}

	res, err := s.Orders.Place(ctx, order.Request{
		StrategyID: inst.def.ID,
		Symbol:     symbol,
		Side:       common.SideBuy,
		Type:       common.OrderTypeMarket,
		Shares:     shares,
		RefPrice:   price,
	})
	if err != nil {
		s.orderFailed(inst, symbol, common.SideBuy, shares, err)
		return err
	}

	entry := res.FillPrice
	pos := ledger.Position{
		StrategyID:   inst.def.ID,
		Symbol:       symbol,
		Shares:       res.FilledQty,
		EntryPrice:   entry,
		EntryTime:    time.Now().UTC(),
		EntryOrderID: res.OrderID,
	}
	if stop := stopPrice(entry, atr, k); stop > 0 {
		pos.StopLoss = &stop
	}
	if pct := inst.def.Params.Float("take_profit_pct", 0); pct > 0 {
		tp := decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(1 + pct)).InexactFloat64()
		pos.TakeProfit = &tp
	}
	if err := s.Ledger.Open(ctx, pos); err != nil {
		// The venue holds the fill; the ledger does not. Surface loudly.
		log.Error("ledger open failed after fill", zap.String("order_id", res.OrderID), zap.Error(err))
		events.Emit(s.Bus, events.Alert{
			Type:       events.EventSystemError,
			Level:      events.LevelCritical,
			Title:      "Filled entry not tracked",
			Message:    err.Error(),
			StrategyID: inst.def.ID,
			Symbol:     symbol,
			Details:    map[string]any{"order_id": res.OrderID, "shares": res.FilledQty, "price": entry},
		})
	}

	trade, err := s.Audit.Record(ctx, audit.Trade{
		StrategyID: inst.def.ID,
		Symbol:     symbol,
		Side:       string(common.SideBuy),
		Shares:     res.FilledQty,
		Price:      entry,
		Reason:     audit.ReasonSignal,
		OrderID:    res.OrderID,
	})
	s.Equity.Invalidate()

	details := map[string]any{
		"side":     string(common.SideBuy),
		"shares":   res.FilledQty,
		"price":    entry,
		"trade_id": trade.ID,
		"signal":   sig.Note,
	}
	if pos.StopLoss != nil {
		details["stop_loss"] = *pos.StopLoss
	}
	if pos.TakeProfit != nil {
		details["take_profit"] = *pos.TakeProfit
	}
	log.Info("position opened",
		zap.Float64("shares", res.FilledQty),
		zap.Float64("price", entry),
		zap.Any("stop_loss", pos.StopLoss),
		zap.String("signal", sig.Note))
	events.Emit(s.Bus, events.Alert{
		Type:       events.EventTradeExecuted,
		Level:      events.LevelInfo,
		Title:      fmt.Sprintf("BUY %s", symbol),
		Message:    fmt.Sprintf("bought %g %s at %.4f", res.FilledQty, symbol, entry),
		StrategyID: inst.def.ID,
		Symbol:     symbol,
		Details:    details,
	})
	return err
}

// exit closes pos at market. reason is signal, stop_loss or take_profit.
func (s *Scheduler) exit(ctx context.Context, inst *instance, pos ledger.Position, price float64, reason, note string) error {
	log := s.log.With(zap.String("strategy_id", pos.StrategyID), zap.String("symbol", pos.Symbol))
	side := common.SideSell
	qty := pos.Shares
	if qty < 0 {
		side, qty = common.SideBuy, -qty
	}

	res, err := s.Orders.Place(ctx, order.Request{
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Shares:     qty,
		RefPrice:   price,
	})
	if err != nil {
		s.orderFailed(inst, pos.Symbol, side, qty, err)
		return err
	}

	closed, err := s.Ledger.Close(ctx, pos.Key(), res.FillPrice)
	if err != nil {
		log.Error("ledger close failed after fill", zap.Error(err))
		return err
	}
	pnl := closed.RealizedPnL
	trade, recErr := s.Audit.Record(ctx, audit.Trade{
		StrategyID:  pos.StrategyID,
		Symbol:      pos.Symbol,
		Side:        string(side),
		Shares:      qty,
		Price:       res.FillPrice,
		RealizedPnL: &pnl,
		Reason:      reason,
		OrderID:     res.OrderID,
	})
	s.Equity.Invalidate()

	alert := events.Alert{
		Type:       events.EventTradeExecuted,
		Level:      events.LevelInfo,
		Title:      fmt.Sprintf("%s %s", side, pos.Symbol),
		Message:    fmt.Sprintf("closed %g %s at %.4f, pnl %.2f", qty, pos.Symbol, res.FillPrice, pnl),
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Details: map[string]any{
			"side":         string(side),
			"shares":       qty,
			"price":        res.FillPrice,
			"entry_price":  pos.EntryPrice,
			"realized_pnl": pnl,
			"reason":       reason,
			"trade_id":     trade.ID,
		},
	}
	switch reason {
	case string(ledger.ExitStopLoss):
		alert.Type, alert.Level, alert.Title = events.EventStopLossTriggered, events.LevelWarning, "Stop loss triggered: "+pos.Symbol
		alert.Message = note + "; " + alert.Message
	case string(ledger.ExitTakeProfit):
		alert.Type, alert.Level, alert.Title = events.EventTakeProfitTriggered, events.LevelWarning, "Take profit triggered: "+pos.Symbol
		alert.Message = note + "; " + alert.Message
	}
	log.Info("position closed",
		zap.String("reason", reason),
		zap.Float64("shares", qty),
		zap.Float64("price", res.FillPrice),
		zap.Float64("realized_pnl", pnl))
	events.Emit(s.Bus, alert)

	s.checkDaily(ctx)
	return recErr
}

// checkDaily re-evaluates the daily loss limit after a realized exit.
func (s *Scheduler) checkDaily(ctx context.Context) {
	equity, err := s.Equity.Equity(ctx)
	if err != nil {
		s.log.Warn("equity unavailable for daily check", zap.Error(err))
		return
	}
	if _, err := s.Daily.Check(ctx, equity); err != nil {
		s.log.Warn("daily risk check failed", zap.Error(err))
	}
}

func (s *Scheduler) orderFailed(inst *instance, symbol string, side common.Side, shares float64, err error) {
	s.tickError("order")
	events.Emit(s.Bus, events.Alert{
		Type:       events.EventSystemError,
		Level:      events.LevelCritical,
		Title:      fmt.Sprintf("Order failed: %s %s", side, symbol),
		Message:    err.Error(),
		StrategyID: inst.def.ID,
		Symbol:     symbol,
		Details:    map[string]any{"side": string(side), "shares": shares},
	})
}
