package indicators

// SMA calculates the simple moving average for the last period values.
// ok is false when there are fewer than period values.
func SMA(values []float64, period int) (float64, bool) {
	return SMAAt(values, period, len(values))
}

// SMAAt is SMA over values[:end], used to look one bar back for crossovers.
func SMAAt(values []float64, period, end int) (float64, bool) {
	if period <= 0 || end > len(values) || end < period {
		return 0, false
	}
	sum := 0.0
	for i := end - period; i < end; i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}
