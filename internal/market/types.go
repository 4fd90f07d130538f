package market

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient market data failure. Callers skip the
// symbol for the current tick and try again on the next one.
var ErrUnavailable = errors.New("market data unavailable")

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Gateway supplies recent bars for a symbol/timeframe, oldest first.
type Gateway interface {
	LatestBars(ctx context.Context, symbol, timeframe string, lookback int) ([]Bar, error)
}

// Series is a column view over bars used by indicator math.
type Series struct {
	Opens   []float64
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

// NewSeries splits bars into columns.
func NewSeries(bars []Bar) Series {
	s := Series{
		Opens:   make([]float64, len(bars)),
		Highs:   make([]float64, len(bars)),
		Lows:    make([]float64, len(bars)),
		Closes:  make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.Opens[i] = b.Open
		s.Highs[i] = b.High
		s.Lows[i] = b.Low
		s.Closes[i] = b.Close
		s.Volumes[i] = b.Volume
	}
	return s
}

// Len is the number of bars in the series.
func (s Series) Len() int { return len(s.Closes) }

// Last returns the latest close, or 0 for an empty series.
func (s Series) Last() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// Head returns the series truncated to the first n bars.
func (s Series) Head(n int) Series {
	if n >= s.Len() {
		return s
	}
	if n < 0 {
		n = 0
	}
	return Series{
		Opens:   s.Opens[:n],
		Highs:   s.Highs[:n],
		Lows:    s.Lows[:n],
		Closes:  s.Closes[:n],
		Volumes: s.Volumes[:n],
	}
}
