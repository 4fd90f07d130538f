package risk

import (
	"fmt"
	"sort"

	"autotrader/internal/ledger"
)

// Positions is the ledger view the limiter reads. *ledger.Ledger implements it.
type Positions interface {
	All() []ledger.Position
}

// PriceSource returns the latest mark. *market.Marks implements it.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Correlator reports the return correlation of two symbols; ok is false
// without enough history. *indicators.History implements it.
type Correlator interface {
	ReturnCorrelation(a, b string) (float64, bool)
}

// PositionHeat is one position's share of portfolio heat.
type PositionHeat struct {
	StrategyID string  `json:"strategy_id"`
	Symbol     string  `json:"symbol"`
	Shares     float64 `json:"shares"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	Risk       float64 `json:"risk"`
	Heat       float64 `json:"heat"`
}

// HeatSnapshot is derived on demand and never persisted.
type HeatSnapshot struct {
	Equity    float64        `json:"equity"`
	Heat      float64        `json:"heat"`
	Ceiling   float64        `json:"ceiling"`
	Positions []PositionHeat `json:"positions"`
}

// PortfolioLimiter rejects candidates that would push portfolio heat or
// correlated exposure over their ceilings.
type PortfolioLimiter struct {
	cfg        Config
	positions  Positions
	prices     PriceSource
	correlator Correlator
}

// NewPortfolioLimiter wires the limiter to its read-only inputs.
func NewPortfolioLimiter(cfg Config, positions Positions, prices PriceSource, correlator Correlator) *PortfolioLimiter {
	return &PortfolioLimiter{cfg: cfg, positions: positions, prices: prices, correlator: correlator}
}

// mark prices a position at its latest mark, or its entry without one.
func (l *PortfolioLimiter) mark(p ledger.Position) float64 {
	if l.prices != nil {
		if px, ok := l.prices.Get(p.Symbol); ok {
			return px
		}
	}
	return p.EntryPrice
}

// Heat computes the current snapshot. A position without a stop has its
// whole value at risk.
func (l *PortfolioLimiter) Heat(equity float64) HeatSnapshot {
	snap := HeatSnapshot{Equity: equity, Ceiling: l.cfg.MaxPortfolioHeat}
	if l.positions == nil {
		return snap
	}
	for _, p := range l.positions.All() {
		px := l.mark(p)
		ph := PositionHeat{
			StrategyID: p.StrategyID,
			Symbol:     p.Symbol,
			Shares:     p.Shares,
			Price:      px,
			Value:      p.Value(px),
		}
		if p.StopLoss == nil {
			ph.Risk = ph.Value
		} else {
			ph.Risk = abs(p.Shares) * p.RiskPerShare(px)
		}
		if equity > 0 {
			ph.Heat = ph.Risk / equity
		}
		snap.Heat += ph.Heat
		snap.Positions = append(snap.Positions, ph)
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Heat > snap.Positions[j].Heat })
	return snap
}

// Evaluate runs the heat check then the correlation check.
func (l *PortfolioLimiter) Evaluate(c Candidate, equity float64) Decision {
	var d Decision
	if equity <= 0 {
		return reject(d, GuardInput, "equity %.2f is not positive", equity)
	}
	if c.Shares == 0 || c.Price <= 0 {
		return reject(d, GuardInput, "candidate %s has %v shares at %v", c.Symbol, c.Shares, c.Price)
	}

	snap := l.Heat(equity)
	d.HeatBefore = snap.Heat
	d.HeatAfter = snap.Heat + c.Risk()/equity
	if l.cfg.MaxPortfolioHeat > 0 && d.HeatAfter > l.cfg.MaxPortfolioHeat+1e-12 {
		return reject(d, GuardHeat, "heat %.2f%% -> %.2f%% exceeds ceiling %.2f%%",
			d.HeatBefore*100, d.HeatAfter*100, l.cfg.MaxPortfolioHeat*100)
	}

	exposure, cluster := l.correlatedExposure(c)
	d.CorrelatedExposure = exposure / equity
	if l.cfg.MaxCorrelatedExposure > 0 && d.CorrelatedExposure > l.cfg.MaxCorrelatedExposure+1e-12 {
		return reject(d, GuardCorrelation, "correlated exposure %.2f%% across %v exceeds ceiling %.2f%%",
			d.CorrelatedExposure*100, cluster, l.cfg.MaxCorrelatedExposure*100)
	}

	d.Allowed = true
	return d
}

// correlatedExposure sums the candidate value and the value of every open
// position whose symbol correlates with the candidate above the threshold.
// The candidate's own symbol always counts.
func (l *PortfolioLimiter) correlatedExposure(c Candidate) (float64, []string) {
	total := c.Value()
	cluster := []string{c.Symbol}
	if l.positions == nil {
		return total, cluster
	}
	seen := map[string]bool{c.Symbol: true}
	for _, p := range l.positions.All() {
		if !l.correlated(c.Symbol, p.Symbol) {
			continue
		}
		total += p.Value(l.mark(p))
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			cluster = append(cluster, p.Symbol)
		}
	}
	return total, cluster
}

func (l *PortfolioLimiter) correlated(a, b string) bool {
	if a == b {
		return true
	}
	if l.correlator == nil {
		return false
	}
	rho, ok := l.correlator.ReturnCorrelation(a, b)
	return ok && rho > l.cfg.CorrelationThreshold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// describe is used in log lines.
func (c Candidate) describe() string {
	return fmt.Sprintf("%s %s %.6f@%.4f stop=%.4f", c.StrategyID, c.Symbol, c.Shares, c.Price, c.StopLoss)
}
