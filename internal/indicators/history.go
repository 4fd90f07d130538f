package indicators

import "sync"

type seriesKey struct {
	symbol    string
	timeframe string
}

// History keeps a bounded window of closing prices per symbol and timeframe
// so risk checks can compute return correlations without fetching data.
type History struct {
	mu     sync.RWMutex
	prices map[seriesKey][]float64
	window int
}

// NewHistory builds a history keeping at most window closes per series.
func NewHistory(window int) *History {
	if window < 3 {
		window = 3
	}
	return &History{
		prices: make(map[seriesKey][]float64),
		window: window,
	}
}

// Record replaces the stored closes for symbol on timeframe with the tail of
// closes. Other timeframes of the same symbol are left alone.
func (h *History) Record(symbol, timeframe string, closes []float64) {
	if len(closes) == 0 {
		return
	}
	if len(closes) > h.window {
		closes = closes[len(closes)-h.window:]
	}
	cp := make([]float64, len(closes))
	copy(cp, closes)

	h.mu.Lock()
	h.prices[seriesKey{symbol, timeframe}] = cp
	h.mu.Unlock()
}

// Closes returns a copy of the stored closes for symbol on timeframe.
func (h *History) Closes(symbol, timeframe string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.prices[seriesKey{symbol, timeframe}]
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// ReturnCorrelation returns the correlation of period returns between two
// symbols, measured on a timeframe both have recorded. When they share
// several, the one with the longest common window wins, then the lowest
// name. A symbol is perfectly correlated with itself; ok is false when no
// timeframe is shared or either side lacks history.
func (h *History) ReturnCorrelation(a, b string) (float64, bool) {
	if a == b {
		return 1, true
	}
	h.mu.RLock()
	var (
		pa, pb []float64
		bestTF string
		best   = -1
	)
	for k, ca := range h.prices {
		if k.symbol != a {
			continue
		}
		cb, ok := h.prices[seriesKey{b, k.timeframe}]
		if !ok {
			continue
		}
		n := min(len(ca), len(cb))
		if n > best || (n == best && k.timeframe < bestTF) {
			pa, pb, bestTF, best = ca, cb, k.timeframe, n
		}
	}
	h.mu.RUnlock()
	if best < 0 {
		return 0, false
	}
	return Correlation(Returns(pa), Returns(pb))
}
