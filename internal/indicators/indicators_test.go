package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	v, ok := SMA(values, 5)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)

	v, ok = SMAAt(values, 2, 4)
	require.True(t, ok)
	assert.InDelta(t, 3.5, v, 1e-9)

	_, ok = SMA(values, 6)
	assert.False(t, ok)
	_, ok = SMA(values, 0)
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{name: "only gains", values: []float64{1, 2, 3, 4}, want: 100},
		{name: "only losses", values: []float64{4, 3, 2, 1}, want: 0},
		{name: "flat", values: []float64{2, 2, 2, 2}, want: 50},
		{name: "two gains one loss", values: []float64{1, 2, 1, 2}, want: 200.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RSI(tt.values, 3)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok := RSI([]float64{1, 2, 3}, 3)
	assert.False(t, ok)
}

func TestATR(t *testing.T) {
	highs := []float64{11, 12, 13, 14}
	lows := []float64{9, 10, 11, 12}
	closes := []float64{10, 11, 12, 13}

	// Every true range is 2 (high-low dominates the gap to the prior close).
	v, ok := ATR(highs, lows, closes, 3)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)

	// A gap up makes |high - prevClose| the true range.
	assert.InDelta(t, 5.0, TrueRange(15, 14, 10), 1e-9)

	_, ok = ATR(highs, lows, closes, 4)
	assert.False(t, ok)
	_, ok = ATR(highs[:3], lows, closes, 2)
	assert.False(t, ok)
}

func TestStdDevAndZScore(t *testing.T) {
	sd, ok := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.True(t, ok)
	assert.InDelta(t, 2.138, sd, 1e-3)

	_, ok = ZScore([]float64{5, 5, 5, 5}, 4)
	assert.False(t, ok, "zero deviation has no z-score")

	z, ok := ZScore([]float64{10, 10, 10, 10, 20}, 5)
	require.True(t, ok)
	assert.Greater(t, z, 1.5)
}

func TestCorrelation(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	c := []float64{5, 4, 3, 2, 1}

	v, ok := Correlation(a, b)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, ok = Correlation(a, c)
	require.True(t, ok)
	assert.InDelta(t, -1.0, v, 1e-9)

	_, ok = Correlation(a, []float64{1, 1, 1, 1, 1})
	assert.False(t, ok)
}

func TestReturns(t *testing.T) {
	r := Returns([]float64{100, 110, 99})
	require.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-9)
	assert.InDelta(t, -0.10, r[1], 1e-9)
	assert.Nil(t, Returns([]float64{1}))
}

func TestHistoryReturnCorrelation(t *testing.T) {
	h := NewHistory(50)
	up := make([]float64, 30)
	mirror := make([]float64, 30)
	for i := range up {
		up[i] = 100 + 5*math.Sin(float64(i))
		mirror[i] = 200 + 10*math.Sin(float64(i))
	}
	h.Record("BTCUSDT", "1h", up)
	h.Record("WBTCUSDT", "1h", mirror)

	v, ok := h.ReturnCorrelation("BTCUSDT", "WBTCUSDT")
	require.True(t, ok)
	assert.Greater(t, v, 0.9)

	v, ok = h.ReturnCorrelation("BTCUSDT", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = h.ReturnCorrelation("BTCUSDT", "DOGEUSDT")
	assert.False(t, ok)

	h.Record("SOLUSDT", "1h", make([]float64, 80))
	assert.Len(t, h.Closes("SOLUSDT", "1h"), 50)
	assert.Empty(t, h.Closes("SOLUSDT", "1d"))
}

func TestHistoryKeepsTimeframesApart(t *testing.T) {
	h := NewHistory(50)
	wave := make([]float64, 30)
	inverse := make([]float64, 30)
	for i := range wave {
		wave[i] = 100 + 5*math.Sin(float64(i))
		inverse[i] = 100 - 5*math.Sin(float64(i))
	}
	h.Record("BTCUSDT", "1h", wave)
	h.Record("ETHUSDT", "1h", wave)
	// A daily fetch of BTC must not replace its hourly series.
	h.Record("BTCUSDT", "1d", inverse)

	assert.Equal(t, wave, h.Closes("BTCUSDT", "1h"))
	v, ok := h.ReturnCorrelation("BTCUSDT", "ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-9)

	// Symbols seen only on different timeframes have nothing to compare.
	h.Record("SOLUSDT", "1m", wave)
	_, ok = h.ReturnCorrelation("SOLUSDT", "ETHUSDT")
	assert.False(t, ok)
}
