package strategy

import (
	"fmt"

	"autotrader/internal/indicators"
)

// MeanReversion fades z-score extremes of price against its rolling mean.
// A flat window (zero deviation) holds.
type MeanReversion struct {
	Lookback   int
	ZThreshold float64
}

func newMeanReversion(p Params) (*MeanReversion, error) {
	s := &MeanReversion{
		Lookback:   p.Int("lookback", 20),
		ZThreshold: p.Float("z_threshold", 2.0),
	}
	if s.Lookback < 2 || s.ZThreshold <= 0 {
		return nil, fmt.Errorf("mean_reversion: lookback must be >= 2 and z_threshold > 0")
	}
	return s, nil
}

func (s *MeanReversion) Type() Type { return TypeMeanReversion }

func (s *MeanReversion) Requirements() Requirements {
	return Requirements{Lookback: s.Lookback}
}

func (s *MeanReversion) Evaluate(in Input) Signal {
	z, ok := indicators.ZScore(in.Series.Closes, s.Lookback)
	if !ok {
		return Hold("insufficient data")
	}
	switch {
	case z < -s.ZThreshold:
		return Signal{Action: ActionBuy, Note: fmt.Sprintf("z %.2f", z)}
	case z > s.ZThreshold:
		return Signal{Action: ActionSell, Note: fmt.Sprintf("z %.2f", z)}
	}
	return Hold(fmt.Sprintf("z %.2f", z))
}
