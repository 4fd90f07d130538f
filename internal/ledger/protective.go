package ledger

import "fmt"

// ExitKind names a protective exit.
type ExitKind string

const (
	ExitStopLoss   ExitKind = "stop_loss"
	ExitTakeProfit ExitKind = "take_profit"
)

// ProtectiveExit reports whether price has reached the position's stop or
// target. Longs stop out at or below the stop and take profit at or above
// the target; shorts mirror that. The stop is checked first.
func (p Position) ProtectiveExit(price float64) (ExitKind, string, bool) {
	long := p.Shares > 0

	if p.StopLoss != nil {
		stop := *p.StopLoss
		if (long && price <= stop) || (!long && price >= stop) {
			return ExitStopLoss, fmt.Sprintf("stop loss %.4f hit at %.4f", stop, price), true
		}
	}
	if p.TakeProfit != nil {
		target := *p.TakeProfit
		if (long && price >= target) || (!long && price <= target) {
			return ExitTakeProfit, fmt.Sprintf("take profit %.4f hit at %.4f", target, price), true
		}
	}
	return "", "", false
}

// RiskPerShare is the distance from price to the stop, or 0 without a stop.
func (p Position) RiskPerShare(price float64) float64 {
	if p.StopLoss == nil {
		return 0
	}
	d := price - *p.StopLoss
	if d < 0 {
		d = -d
	}
	return d
}
