package indicators

import "math"

// Mean of values; ok is false for an empty slice.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// StdDev is the sample standard deviation (n-1 denominator).
func StdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean, _ := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1)), true
}

// ZScore of the last value against the trailing lookback window (inclusive).
// ok is false with too little data or a zero deviation.
func ZScore(values []float64, lookback int) (float64, bool) {
	if lookback < 2 || len(values) < lookback {
		return 0, false
	}
	window := values[len(values)-lookback:]
	mean, _ := Mean(window)
	sd, _ := StdDev(window)
	if sd == 0 {
		return 0, false
	}
	return (values[len(values)-1] - mean) / sd, true
}

// Returns converts a price series into simple period returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// Correlation is the Pearson coefficient of the overlapping tails of a and b.
func Correlation(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return 0, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]
	ma, _ := Mean(a)
	mb, _ := Mean(b)

	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}
