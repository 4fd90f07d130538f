package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockGateway generates random-walk bars for local development. Each call
// advances the walk by one bar so strategies see fresh data every tick.
type MockGateway struct {
	StartPrice float64
	Volatility float64 // per-bar fractional move
	Seed       int64

	mu     sync.Mutex
	series map[string][]Bar
	rng    *rand.Rand
}

// NewMockGateway builds a deterministic mock for a seed.
func NewMockGateway(startPrice, volatility float64, seed int64) *MockGateway {
	if startPrice <= 0 {
		startPrice = 100
	}
	if volatility <= 0 {
		volatility = 0.005
	}
	return &MockGateway{
		StartPrice: startPrice,
		Volatility: volatility,
		Seed:       seed,
		series:     make(map[string][]Bar),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// LatestBars implements Gateway.
func (m *MockGateway) LatestBars(ctx context.Context, symbol, timeframe string, lookback int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lookback <= 0 {
		lookback = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := symbol + "@" + timeframe
	bars := m.series[key]
	step := timeframeDuration(timeframe)
	if len(bars) == 0 {
		price := m.StartPrice * (0.5 + symbolOffset(symbol))
		start := time.Now().Add(-time.Duration(lookback) * step).Truncate(step)
		for i := 0; i < lookback; i++ {
			bar := m.nextBar(start.Add(time.Duration(i)*step), price)
			bars = append(bars, bar)
			price = bar.Close
		}
	} else {
		last := bars[len(bars)-1]
		bars = append(bars, m.nextBar(last.Time.Add(step), last.Close))
	}
	if len(bars) > 1000 {
		bars = bars[len(bars)-1000:]
	}
	m.series[key] = bars

	n := lookback
	if n > len(bars) {
		n = len(bars)
	}
	out := make([]Bar, n)
	copy(out, bars[len(bars)-n:])
	return out, nil
}

func (m *MockGateway) nextBar(t time.Time, open float64) Bar {
	move := (m.rng.Float64()*2 - 1) * m.Volatility
	closePx := open * (1 + move)
	wick := math.Abs(move) * open * 0.5
	return Bar{
		Time:   t,
		Open:   open,
		High:   math.Max(open, closePx) + wick,
		Low:    math.Min(open, closePx) - wick,
		Close:  closePx,
		Volume: 50 + m.rng.Float64()*100,
	}
}

// symbolOffset spreads starting prices so symbols do not all begin at the same level.
func symbolOffset(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return float64(h.Sum32()%1000) / 1000
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
