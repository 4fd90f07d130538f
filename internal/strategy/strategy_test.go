package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/market"
)

func closesInput(closes ...float64) Input {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return Input{Series: market.NewSeries(bars)}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func mustNew(t *testing.T, typ Type, p Params) Evaluator {
	t.Helper()
	e, err := New(typ, p)
	require.NoError(t, err)
	return e
}

func TestEveryVariantHoldsWithoutData(t *testing.T) {
	for _, typ := range Types {
		t.Run(string(typ), func(t *testing.T) {
			e := mustNew(t, typ, nil)
			assert.Equal(t, typ, e.Type())
			assert.Equal(t, ActionHold, e.Evaluate(Input{}).Action)
			assert.Equal(t, ActionHold, e.Evaluate(closesInput(100)).Action)
		})
	}
}

func TestMACrossover(t *testing.T) {
	e := mustNew(t, TypeMACrossover, nil)

	tests := []struct {
		name   string
		closes []float64
		want   Action
	}{
		{name: "golden cross on last bar", closes: append(repeat(100, 30), 200), want: ActionBuy},
		{name: "death cross on last bar", closes: append(repeat(100, 30), 50), want: ActionSell},
		{name: "already above", closes: append(append(repeat(100, 29), 200), 210), want: ActionHold},
		{name: "flat", closes: repeat(100, 31), want: ActionHold},
		{name: "one bar short", closes: append(repeat(100, 29), 200), want: ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(closesInput(tt.closes...)).Action)
		})
	}
}

func TestRSIReversion(t *testing.T) {
	e := mustNew(t, TypeRSI, Params{"period": 3})

	assert.Equal(t, ActionBuy, e.Evaluate(closesInput(10, 9, 8, 7)).Action)
	assert.Equal(t, ActionSell, e.Evaluate(closesInput(7, 8, 9, 10)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(closesInput(10, 11, 10, 11, 10)).Action)
}

func TestMomentum(t *testing.T) {
	e := mustNew(t, TypeMomentum, nil)

	assert.Equal(t, ActionBuy, e.Evaluate(closesInput(append(repeat(100, 20), 103)...)).Action)
	assert.Equal(t, ActionSell, e.Evaluate(closesInput(append(repeat(100, 20), 97)...)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(closesInput(append(repeat(100, 20), 101)...)).Action)
}

func TestMeanReversion(t *testing.T) {
	e := mustNew(t, TypeMeanReversion, nil)

	base := make([]float64, 19)
	for i := range base {
		if i%2 == 0 {
			base[i] = 99
		} else {
			base[i] = 101
		}
	}
	assert.Equal(t, ActionBuy, e.Evaluate(closesInput(append(base, 90)...)).Action)
	assert.Equal(t, ActionSell, e.Evaluate(closesInput(append(base, 110)...)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(closesInput(append(base, 100)...)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(closesInput(repeat(100, 20)...)).Action, "zero deviation holds")
}

func TestVolatilityBreakout(t *testing.T) {
	e := mustNew(t, TypeVolatilityBreakout, nil)

	build := func(spike bool, lastClose, lastVolume float64) Input {
		bars := make([]market.Bar, 0, 21)
		for i := 0; i < 20; i++ {
			b := market.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 100}
			if spike && i == 3 {
				b.High = 110
			}
			bars = append(bars, b)
		}
		bars = append(bars, market.Bar{Open: 100, High: lastClose + 1, Low: lastClose - 1, Close: lastClose, Volume: lastVolume})
		return Input{Series: market.NewSeries(bars)}
	}

	// ATR of the prior bars is 2 and the 20-bar range is 99..101, so the
	// band is 95..105.
	assert.Equal(t, ActionBuy, e.Evaluate(build(false, 106, 200)).Action)
	assert.Equal(t, ActionSell, e.Evaluate(build(false, 94, 200)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(build(false, 106, 100)).Action, "volume must confirm")
	assert.Equal(t, ActionHold, e.Evaluate(build(false, 104.5, 200)).Action, "past previous close plus 2 ATR but inside the range band")

	// An earlier 110 high lifts the upper band to 114 without changing ATR.
	assert.Equal(t, ActionHold, e.Evaluate(build(true, 106, 200)).Action)
	assert.Equal(t, ActionBuy, e.Evaluate(build(true, 115, 200)).Action)

	noConfirm := mustNew(t, TypeVolatilityBreakout, Params{"volume_confirmation": false})
	assert.Equal(t, ActionBuy, noConfirm.Evaluate(build(false, 106, 50)).Action)

	short := mustNew(t, TypeVolatilityBreakout, Params{"lookback": 5})
	assert.Equal(t, ActionBuy, short.Evaluate(build(true, 106, 200)).Action, "spike is outside a 5-bar range")
}

func TestMultiTimeframe(t *testing.T) {
	e := mustNew(t, TypeMultiTimeframe, Params{"trend_period": 5})
	assert.Equal(t, []string{"1h", "1d"}, e.Requirements().Timeframes)

	up := closesInput(1, 2, 3, 4, 5, 6).Series
	down := closesInput(6, 5, 4, 3, 2, 1).Series

	assert.Equal(t, ActionBuy, e.Evaluate(Input{Frames: map[string]market.Series{"1h": up, "1d": up}}).Action)
	assert.Equal(t, ActionSell, e.Evaluate(Input{Frames: map[string]market.Series{"1h": down, "1d": down}}).Action)
	assert.Equal(t, ActionHold, e.Evaluate(Input{Frames: map[string]market.Series{"1h": up, "1d": down}}).Action)
	assert.Equal(t, ActionHold, e.Evaluate(Input{Frames: map[string]market.Series{"1h": up}}).Action)

	loose := mustNew(t, TypeMultiTimeframe, Params{"trend_period": 5, "timeframes": []any{"1h", "4h", "1d"}})
	frames := map[string]market.Series{"1h": up, "4h": up, "1d": down}
	assert.Equal(t, ActionBuy, loose.Evaluate(Input{Frames: frames}).Action, "two of three clears 0.66")

	half := mustNew(t, TypeMultiTimeframe, Params{"trend_period": 5, "min_alignment": 0.5})
	split := half.Evaluate(Input{Frames: map[string]market.Series{"1h": up, "1d": down}})
	assert.Equal(t, ActionHold, split.Action, "one up and one down is a tie at 0.5")
	assert.Equal(t, ActionBuy, half.Evaluate(Input{Frames: map[string]market.Series{"1h": up, "1d": up}}).Action)
}

func TestQuickTest(t *testing.T) {
	e := mustNew(t, TypeQuickTest, nil)
	assert.Equal(t, ActionBuy, e.Evaluate(closesInput(100, 100.2)).Action)
	assert.Equal(t, ActionSell, e.Evaluate(closesInput(100, 99.8)).Action)
	assert.Equal(t, ActionHold, e.Evaluate(closesInput(100, 100.05)).Action)
}

func TestNewRejectsBadParams(t *testing.T) {
	tests := []struct {
		typ Type
		p   Params
	}{
		{TypeMACrossover, Params{"fast_period": 30, "slow_period": 10}},
		{TypeRSI, Params{"oversold": 80, "overbought": 70}},
		{TypeMomentum, Params{"threshold": 0}},
		{TypeMeanReversion, Params{"lookback": 1}},
		{TypeVolatilityBreakout, Params{"multiplier": -1}},
		{TypeMultiTimeframe, Params{"timeframes": []any{"1h"}}},
		{TypeQuickTest, Params{"threshold": "-0.5"}},
		{Type("martingale"), nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			e, err := New(tt.typ, tt.p)
			assert.Error(t, err)
			assert.Nil(t, e)
		})
	}
}

func TestDefinitionValidate(t *testing.T) {
	ok := Definition{ID: "s1", Type: TypeRSI, Symbols: []string{"BTCUSDT"}, Timeframe: "1h"}
	assert.NoError(t, ok.Validate())

	dup := ok
	dup.Symbols = []string{"BTCUSDT", "BTCUSDT"}
	assert.Error(t, dup.Validate())

	noSymbols := ok
	noSymbols.Symbols = nil
	assert.Error(t, noSymbols.Validate())

	badTP := ok
	badTP.Params = Params{"take_profit_pct": -0.1}
	assert.Error(t, badTP.Validate())
}

func TestParseConfig(t *testing.T) {
	doc := []byte(`
strategies:
  - id: ma-btc
    type: MA_Crossover
    symbols: [BTCUSDT]
    timeframe: 1h
    parameters:
      fast_period: 5
      slow_period: 20
    active: true
  - id: mtf-eth
    type: multi_timeframe
    symbols: [ETHUSDT]
    timeframe: 1h
    parameters:
      timeframes: [1h, 4h, 1d]
`)
	cfgs, err := ParseConfig(doc)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	def, err := cfgs[0].Definition()
	require.NoError(t, err)
	assert.Equal(t, TypeMACrossover, def.Type)
	assert.Equal(t, "ma-btc", def.Name)
	assert.Equal(t, 5, def.Params.Int("fast_period", 0))
	assert.True(t, cfgs[0].Active)

	def, err = cfgs[1].Definition()
	require.NoError(t, err)
	assert.Equal(t, []string{"1h", "4h", "1d"}, def.Params.Strings("timeframes", nil))

	_, err = ParseConfig([]byte("strategies:\n  - id: x\n    type: nope\n    symbols: [A]\n    timeframe: 1h\n"))
	assert.Error(t, err)
}
