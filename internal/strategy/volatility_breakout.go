package strategy

import (
	"fmt"

	"autotrader/internal/indicators"
)

// VolatilityBreakout trades a close beyond the recent range widened by
// Multiplier ATRs: above the highest high of the last Lookback bars plus
// the band, or below the lowest low minus it. Range, ATR and average volume
// are measured on the bars before the current one so the breakout bar does
// not widen its own band. With volume confirmation on, the breakout bar's
// volume must exceed VolumeMultiplier times the average.
type VolatilityBreakout struct {
	ATRPeriod          int
	Multiplier         float64
	Lookback           int
	VolumePeriod       int
	VolumeMultiplier   float64
	VolumeConfirmation bool
}

func newVolatilityBreakout(p Params) (*VolatilityBreakout, error) {
	s := &VolatilityBreakout{
		ATRPeriod:          p.Int("atr_period", 14),
		Multiplier:         p.Float("multiplier", 2.0),
		Lookback:           p.Int("lookback", 20),
		VolumePeriod:       p.Int("volume_period", 20),
		VolumeMultiplier:   p.Float("volume_multiplier", 1.0),
		VolumeConfirmation: p.Bool("volume_confirmation", true),
	}
	if s.ATRPeriod <= 0 || s.Lookback <= 0 || s.Multiplier <= 0 || s.VolumePeriod <= 0 || s.VolumeMultiplier <= 0 {
		return nil, fmt.Errorf("volatility_breakout: periods and multipliers must be > 0")
	}
	return s, nil
}

func (s *VolatilityBreakout) Type() Type { return TypeVolatilityBreakout }

func (s *VolatilityBreakout) Requirements() Requirements {
	need := s.ATRPeriod + 2
	for _, v := range []int{s.VolumePeriod + 1, s.Lookback + 1} {
		if v > need {
			need = v
		}
	}
	return Requirements{Lookback: need}
}

func (s *VolatilityBreakout) Evaluate(in Input) Signal {
	series := in.Series
	n := series.Len()
	if n < s.Requirements().Lookback {
		return Hold("insufficient data")
	}

	prior := series.Head(n - 1)
	atr, ok := indicators.ATR(prior.Highs, prior.Lows, prior.Closes, s.ATRPeriod)
	if !ok || atr <= 0 {
		return Hold("no volatility")
	}

	high, low := prior.Highs[len(prior.Highs)-s.Lookback], prior.Lows[len(prior.Lows)-s.Lookback]
	for i := len(prior.Highs) - s.Lookback + 1; i < len(prior.Highs); i++ {
		high = max(high, prior.Highs[i])
		low = min(low, prior.Lows[i])
	}
	price := series.Last()
	upper := high + s.Multiplier*atr
	lower := low - s.Multiplier*atr

	var action Action
	switch {
	case price > upper:
		action = ActionBuy
	case price < lower:
		action = ActionSell
	default:
		return Hold(fmt.Sprintf("inside band %.4f..%.4f", lower, upper))
	}

	if s.VolumeConfirmation {
		avgVol, _ := indicators.SMA(prior.Volumes, s.VolumePeriod)
		vol := series.Volumes[n-1]
		if vol <= avgVol*s.VolumeMultiplier {
			return Hold(fmt.Sprintf("breakout without volume %.2f <= %.2f", vol, avgVol*s.VolumeMultiplier))
		}
	}
	return Signal{Action: action, Note: fmt.Sprintf("breakout price=%.4f band=%.4f..%.4f atr=%.4f", price, lower, upper, atr)}
}
