package risk

import (
	"go.uber.org/zap"
)

// Gatekeeper is consulted before every new position. Both guards must
// approve; the scheduler never executes a rejected candidate.
type Gatekeeper struct {
	Daily     *DailyGuard
	Portfolio *PortfolioLimiter
	log       *zap.Logger
}

// NewGatekeeper combines the two guards.
func NewGatekeeper(daily *DailyGuard, portfolio *PortfolioLimiter, log *zap.Logger) *Gatekeeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gatekeeper{Daily: daily, Portfolio: portfolio, log: log.Named("risk")}
}

// Approve evaluates c against current state. Rejections are logged at Info
// because they are an expected outcome.
func (g *Gatekeeper) Approve(c Candidate, equity float64) Decision {
	var d Decision
	if g.Daily != nil && g.Daily.Halted() {
		d = reject(d, GuardDailyLoss, "trading is halted")
	} else if g.Portfolio != nil {
		d = g.Portfolio.Evaluate(c, equity)
	} else {
		d.Allowed = true
	}

	if !d.Allowed {
		g.log.Info("candidate rejected",
			zap.String("strategy_id", c.StrategyID),
			zap.String("symbol", c.Symbol),
			zap.String("candidate", c.describe()),
			zap.String("guard", string(d.Rejection.Guard)),
			zap.String("reason", d.Rejection.Reason))
	}
	return d
}

// Heat exposes the current heat snapshot.
func (g *Gatekeeper) Heat(equity float64) HeatSnapshot {
	if g.Portfolio == nil {
		return HeatSnapshot{Equity: equity}
	}
	return g.Portfolio.Heat(equity)
}
