package strategy

import "fmt"

// Momentum follows the trailing N-period return.
type Momentum struct {
	Lookback  int
	Threshold float64
}

func newMomentum(p Params) (*Momentum, error) {
	s := &Momentum{
		Lookback:  p.Int("lookback", 20),
		Threshold: p.Float("threshold", 0.02),
	}
	if s.Lookback <= 0 || s.Threshold <= 0 {
		return nil, fmt.Errorf("momentum: lookback and threshold must be > 0")
	}
	return s, nil
}

func (s *Momentum) Type() Type { return TypeMomentum }

func (s *Momentum) Requirements() Requirements {
	return Requirements{Lookback: s.Lookback + 1}
}

func (s *Momentum) Evaluate(in Input) Signal {
	closes := in.Series.Closes
	n := len(closes)
	if n < s.Lookback+1 {
		return Hold("insufficient data")
	}
	base := closes[n-1-s.Lookback]
	if base <= 0 {
		return Hold("invalid base price")
	}
	ret := closes[n-1]/base - 1
	switch {
	case ret > s.Threshold:
		return Signal{Action: ActionBuy, Note: fmt.Sprintf("return %.4f above %.4f", ret, s.Threshold)}
	case ret < -s.Threshold:
		return Signal{Action: ActionSell, Note: fmt.Sprintf("return %.4f below %.4f", ret, -s.Threshold)}
	}
	return Hold(fmt.Sprintf("return %.4f", ret))
}
