package risk

import "fmt"

// Guard names the check that produced a rejection.
type Guard string

const (
	GuardDailyLoss   Guard = "daily_loss"
	GuardHeat        Guard = "portfolio_heat"
	GuardCorrelation Guard = "correlated_exposure"
	GuardInput       Guard = "invalid_candidate"
)

// Config holds the gatekeeper limits, all as fractions of equity.
type Config struct {
	DailyLossThreshold    float64 `json:"daily_loss_threshold"`
	MaxPortfolioHeat      float64 `json:"max_portfolio_heat"`
	MaxCorrelatedExposure float64 `json:"max_correlated_exposure"`
	CorrelationThreshold  float64 `json:"correlation_threshold"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		DailyLossThreshold:    0.02,
		MaxPortfolioHeat:      0.25,
		MaxCorrelatedExposure: 0.15,
		CorrelationThreshold:  0.7,
	}
}

// Candidate is a prospective new position.
type Candidate struct {
	StrategyID string
	Symbol     string
	Shares     float64
	Price      float64
	// StopLoss of zero means no stop; the full value is then at risk.
	StopLoss float64
}

// Value is the absolute notional of the candidate.
func (c Candidate) Value() float64 {
	v := c.Shares * c.Price
	if v < 0 {
		return -v
	}
	return v
}

// Risk is the capital lost if the stop is hit.
func (c Candidate) Risk() float64 {
	if c.StopLoss <= 0 {
		return c.Value()
	}
	d := c.Price - c.StopLoss
	if d < 0 {
		d = -d
	}
	s := c.Shares
	if s < 0 {
		s = -s
	}
	return s * d
}

// Rejection explains a policy denial. It is an expected outcome, not an error.
type Rejection struct {
	Guard  Guard  `json:"guard"`
	Reason string `json:"reason"`
}

func (r Rejection) String() string { return fmt.Sprintf("%s: %s", r.Guard, r.Reason) }

// Decision is the gatekeeper verdict for one candidate.
type Decision struct {
	Allowed            bool       `json:"allowed"`
	Rejection          *Rejection `json:"rejection,omitempty"`
	HeatBefore         float64    `json:"heat_before"`
	HeatAfter          float64    `json:"heat_after"`
	CorrelatedExposure float64    `json:"correlated_exposure"`
}

func reject(d Decision, g Guard, format string, args ...any) Decision {
	d.Allowed = false
	d.Rejection = &Rejection{Guard: g, Reason: fmt.Sprintf(format, args...)}
	return d
}
