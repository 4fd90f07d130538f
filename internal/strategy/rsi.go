package strategy

import (
	"fmt"

	"autotrader/internal/indicators"
)

// RSIReversion fades RSI extremes.
type RSIReversion struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func newRSI(p Params) (*RSIReversion, error) {
	s := &RSIReversion{
		Period:     p.Int("period", 14),
		Oversold:   p.Float("oversold", 30),
		Overbought: p.Float("overbought", 70),
	}
	if s.Period <= 0 {
		return nil, fmt.Errorf("rsi: period must be > 0")
	}
	if s.Oversold <= 0 || s.Overbought >= 100 || s.Oversold >= s.Overbought {
		return nil, fmt.Errorf("rsi: need 0 < oversold < overbought < 100")
	}
	return s, nil
}

func (s *RSIReversion) Type() Type { return TypeRSI }

func (s *RSIReversion) Requirements() Requirements {
	return Requirements{Lookback: s.Period + 1}
}

func (s *RSIReversion) Evaluate(in Input) Signal {
	rsi, ok := indicators.RSI(in.Series.Closes, s.Period)
	if !ok {
		return Hold("insufficient data")
	}
	switch {
	case rsi < s.Oversold:
		return Signal{Action: ActionBuy, Note: fmt.Sprintf("rsi %.2f oversold", rsi)}
	case rsi > s.Overbought:
		return Signal{Action: ActionSell, Note: fmt.Sprintf("rsi %.2f overbought", rsi)}
	}
	return Hold(fmt.Sprintf("rsi %.2f", rsi))
}
