package strategy

import (
	"fmt"
	"strings"

	"autotrader/internal/market"
)

// Action is the decision a strategy produces for one symbol.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Type names one of the built-in strategy variants.
type Type string

const (
	TypeMACrossover        Type = "ma_crossover"
	TypeRSI                Type = "rsi"
	TypeMomentum           Type = "momentum"
	TypeMeanReversion      Type = "mean_reversion"
	TypeVolatilityBreakout Type = "volatility_breakout"
	TypeMultiTimeframe     Type = "multi_timeframe"
	TypeQuickTest          Type = "quick_test"
)

// Types lists every supported variant.
var Types = []Type{
	TypeMACrossover,
	TypeRSI,
	TypeMomentum,
	TypeMeanReversion,
	TypeVolatilityBreakout,
	TypeMultiTimeframe,
	TypeQuickTest,
}

// ParseType normalizes a user supplied strategy type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown strategy type %q", s)
}

// Signal is a decision emitted by a strategy.
type Signal struct {
	Action Action
	Note   string
}

// Hold is the neutral signal; note says why nothing happened.
func Hold(note string) Signal { return Signal{Action: ActionHold, Note: note} }

// Input carries the bars a strategy sees for one symbol on one tick.
type Input struct {
	Symbol string
	// Series is the strategy's primary timeframe.
	Series market.Series
	// Frames holds every fetched timeframe, including the primary one.
	Frames map[string]market.Series
}

// Requirements tells the scheduler what to fetch before evaluating.
type Requirements struct {
	Lookback   int
	Timeframes []string // additional timeframes beyond the primary one
}

// Evaluator maps bars to a signal. Implementations are pure and safe for
// concurrent use; all state lives in the inputs.
type Evaluator interface {
	Type() Type
	Requirements() Requirements
	Evaluate(in Input) Signal
}

// Definition is a configured strategy instance.
type Definition struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      Type     `json:"type"`
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`
	Params    Params   `json:"params"`
}

// Validate checks the definition and its parameters.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("strategy id is required")
	}
	if len(d.Symbols) == 0 {
		return fmt.Errorf("strategy %s: at least one symbol is required", d.ID)
	}
	seen := make(map[string]struct{}, len(d.Symbols))
	for _, s := range d.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("strategy %s: empty symbol", d.ID)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("strategy %s: duplicate symbol %s", d.ID, s)
		}
		seen[s] = struct{}{}
	}
	if d.Timeframe == "" {
		return fmt.Errorf("strategy %s: timeframe is required", d.ID)
	}
	if _, err := New(d.Type, d.Params); err != nil {
		return fmt.Errorf("strategy %s: %w", d.ID, err)
	}
	if tp := d.Params.Float("take_profit_pct", 0); tp < 0 {
		return fmt.Errorf("strategy %s: take_profit_pct must be >= 0", d.ID)
	}
	if iv := d.Params.Int("interval_seconds", 0); iv < 0 {
		return fmt.Errorf("strategy %s: interval_seconds must be >= 0", d.ID)
	}
	return nil
}
