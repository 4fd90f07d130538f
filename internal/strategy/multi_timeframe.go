package strategy

import (
	"fmt"
	"strings"

	"autotrader/internal/indicators"
)

// MultiTimeframe runs the same trend test (close vs SMA) on every
// configured timeframe and acts only when enough of them agree.
type MultiTimeframe struct {
	Timeframes     []string
	TrendPeriod    int
	AlignThreshold float64
}

func newMultiTimeframe(p Params) (*MultiTimeframe, error) {
	s := &MultiTimeframe{
		Timeframes:     p.Strings("timeframes", []string{"1h", "1d"}),
		TrendPeriod:    p.Int("trend_period", 20),
		AlignThreshold: p.Float("min_alignment", 0.66),
	}
	if len(s.Timeframes) < 2 {
		return nil, fmt.Errorf("multi_timeframe: at least two timeframes are required")
	}
	if s.TrendPeriod <= 0 {
		return nil, fmt.Errorf("multi_timeframe: trend_period must be > 0")
	}
	if s.AlignThreshold <= 0 || s.AlignThreshold > 1 {
		return nil, fmt.Errorf("multi_timeframe: min_alignment must be in (0, 1]")
	}
	return s, nil
}

func (s *MultiTimeframe) Type() Type { return TypeMultiTimeframe }

func (s *MultiTimeframe) Requirements() Requirements {
	return Requirements{Lookback: s.TrendPeriod, Timeframes: s.Timeframes}
}

func (s *MultiTimeframe) Evaluate(in Input) Signal {
	var bullish, bearish int
	votes := make([]string, 0, len(s.Timeframes))
	for _, tf := range s.Timeframes {
		series, ok := in.Frames[tf]
		if !ok {
			return Hold("missing timeframe " + tf)
		}
		sma, ok := indicators.SMA(series.Closes, s.TrendPeriod)
		if !ok {
			return Hold("insufficient data on " + tf)
		}
		price := series.Last()
		switch {
		case price > sma:
			bullish++
			votes = append(votes, tf+":up")
		case price < sma:
			bearish++
			votes = append(votes, tf+":down")
		default:
			votes = append(votes, tf+":flat")
		}
	}

	total := float64(len(s.Timeframes))
	note := strings.Join(votes, " ")
	up := float64(bullish)/total >= s.AlignThreshold
	down := float64(bearish)/total >= s.AlignThreshold
	switch {
	case up && down:
		// Possible when min_alignment <= 0.5; a split vote is a tie.
		return Hold("tie: " + note)
	case up:
		return Signal{Action: ActionBuy, Note: note}
	case down:
		return Signal{Action: ActionSell, Note: note}
	}
	return Hold(note)
}
