package strategy

import "fmt"

// New builds the evaluator for a strategy type from its parameters.
func New(t Type, p Params) (Evaluator, error) {
	switch t {
	case TypeMACrossover:
		return build(newMACrossover(p))
	case TypeRSI:
		return build(newRSI(p))
	case TypeMomentum:
		return build(newMomentum(p))
	case TypeMeanReversion:
		return build(newMeanReversion(p))
	case TypeVolatilityBreakout:
		return build(newVolatilityBreakout(p))
	case TypeMultiTimeframe:
		return build(newMultiTimeframe(p))
	case TypeQuickTest:
		return build(newQuickTest(p))
	default:
		return nil, fmt.Errorf("unknown strategy type %q", t)
	}
}

// build keeps a typed nil out of the Evaluator interface on error.
func build[T Evaluator](e T, err error) (Evaluator, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}
