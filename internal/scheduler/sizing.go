package scheduler

import (
	"github.com/shopspring/decimal"

	"autotrader/internal/indicators"
	"autotrader/internal/market"
)

// PositionSize is equity × fraction / price floored to a whole number of
// lots. Zero means the allocation is smaller than one lot.
func PositionSize(equity, fraction, price, lot float64) float64 {
	if equity <= 0 || fraction <= 0 || price <= 0 || lot <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(lot)
	raw := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(fraction)).
		Div(decimal.NewFromFloat(price))
	return raw.Div(step).Floor().Mul(step).InexactFloat64()
}

// stopPrice is entry − k×ATR, or 0 when that would not be a positive price.
func stopPrice(entry, atr, k float64) float64 {
	stop := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(k)))
	if !stop.IsPositive() {
		return 0
	}
	return stop.InexactFloat64()
}

func atrOf(s market.Series, period int) (float64, bool) {
	return indicators.ATR(s.Highs, s.Lows, s.Closes, period)
}
