package strategy

import (
	"fmt"

	"autotrader/internal/indicators"
)

// MACrossover buys on a golden cross (fast SMA moves from at-or-below to
// above the slow SMA) and sells on the inverse death cross.
type MACrossover struct {
	FastPeriod int
	SlowPeriod int
}

func newMACrossover(p Params) (*MACrossover, error) {
	s := &MACrossover{
		FastPeriod: p.Int("fast_period", 10),
		SlowPeriod: p.Int("slow_period", 30),
	}
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 || s.FastPeriod >= s.SlowPeriod {
		return nil, fmt.Errorf("ma_crossover: fast_period/slow_period must be > 0 and fast < slow")
	}
	return s, nil
}

func (s *MACrossover) Type() Type { return TypeMACrossover }

func (s *MACrossover) Requirements() Requirements {
	return Requirements{Lookback: s.SlowPeriod + 1}
}

func (s *MACrossover) Evaluate(in Input) Signal {
	closes := in.Series.Closes
	n := len(closes)
	if n < s.SlowPeriod+1 {
		return Hold("insufficient data")
	}

	fastNow, _ := indicators.SMAAt(closes, s.FastPeriod, n)
	slowNow, _ := indicators.SMAAt(closes, s.SlowPeriod, n)
	fastPrev, _ := indicators.SMAAt(closes, s.FastPeriod, n-1)
	slowPrev, _ := indicators.SMAAt(closes, s.SlowPeriod, n-1)

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return Signal{Action: ActionBuy, Note: fmt.Sprintf("golden cross fast=%.4f slow=%.4f", fastNow, slowNow)}
	case fastPrev >= slowPrev && fastNow < slowNow:
		return Signal{Action: ActionSell, Note: fmt.Sprintf("death cross fast=%.4f slow=%.4f", fastNow, slowNow)}
	}
	return Hold("no cross")
}
