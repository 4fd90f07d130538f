package strategy

import "fmt"

// QuickTest reacts to the last bar-over-bar change. It exists to exercise
// the pipeline end to end on short timeframes.
type QuickTest struct {
	Threshold float64
}

func newQuickTest(p Params) (*QuickTest, error) {
	s := &QuickTest{Threshold: p.Float("threshold", 0.001)}
	if s.Threshold <= 0 {
		return nil, fmt.Errorf("quick_test: threshold must be > 0")
	}
	return s, nil
}

func (s *QuickTest) Type() Type { return TypeQuickTest }

func (s *QuickTest) Requirements() Requirements { return Requirements{Lookback: 2} }

func (s *QuickTest) Evaluate(in Input) Signal {
	closes := in.Series.Closes
	n := len(closes)
	if n < 2 || closes[n-2] <= 0 {
		return Hold("insufficient data")
	}
	change := closes[n-1]/closes[n-2] - 1
	switch {
	case change > s.Threshold:
		return Signal{Action: ActionBuy, Note: fmt.Sprintf("change %.5f", change)}
	case change < -s.Threshold:
		return Signal{Action: ActionSell, Note: fmt.Sprintf("change %.5f", change)}
	}
	return Hold(fmt.Sprintf("change %.5f", change))
}
