package cronrunner

import (
	"context"

	"go.uber.org/zap"

	"autotrader/internal/risk"
)

// DailyRisk is the part of *risk.DailyGuard the scheduled jobs drive.
type DailyRisk interface {
	ResetDay(ctx context.Context, equity float64) error
	Check(ctx context.Context, equity float64) (risk.DailyState, error)
}

// EquitySource is satisfied by *balance.Manager.
type EquitySource interface {
	Equity(ctx context.Context) (float64, error)
	Invalidate()
}

// RiskJobs holds the two periodic risk tasks.
type RiskJobs struct {
	Daily  DailyRisk
	Equity EquitySource
	Log    *zap.Logger
}

// ResetDay starts a new trading day from fresh account equity. The halt
// flag is left alone; only an operator resume clears it.
func (j RiskJobs) ResetDay(ctx context.Context) {
	j.Equity.Invalidate()
	equity, err := j.Equity.Equity(ctx)
	if err != nil {
		j.logger().Error("daily reset skipped: equity unavailable", zap.Error(err))
		return
	}
	if err := j.Daily.ResetDay(ctx, equity); err != nil {
		j.logger().Error("daily reset failed", zap.Error(err))
		return
	}
	j.logger().Info("trading day reset", zap.Float64("starting_equity", equity))
}

// CheckEquity re-evaluates the daily loss limit between ticks so a halt is
// not missed while no strategy is closing positions.
func (j RiskJobs) CheckEquity(ctx context.Context) {
	equity, err := j.Equity.Equity(ctx)
	if err != nil {
		j.logger().Warn("risk check skipped: equity unavailable", zap.Error(err))
		return
	}
	st, err := j.Daily.Check(ctx, equity)
	if err != nil {
		j.logger().Error("risk check failed", zap.Error(err))
		return
	}
	j.logger().Debug("risk check",
		zap.Float64("equity", equity),
		zap.Float64("daily_pnl_pct", st.DailyPnLPct),
		zap.Bool("halted", st.Halted))
}

// Register adds both jobs to r.
func (j RiskJobs) Register(r *Runner, resetSpec, checkSpec string) error {
	if _, err := r.Add("daily_reset", resetSpec, j.ResetDay); err != nil {
		return err
	}
	if _, err := r.Add("risk_check", checkSpec, j.CheckEquity); err != nil {
		return err
	}
	return nil
}

func (j RiskJobs) logger() *zap.Logger {
	if j.Log == nil {
		return zap.NewNop()
	}
	return j.Log
}
