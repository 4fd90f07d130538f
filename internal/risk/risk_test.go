package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
	"autotrader/internal/indicators"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/pkg/db"
)

type recorder struct {
	mu     sync.Mutex
	alerts []events.Alert
}

func (r *recorder) Publish(_ events.Event, payload any) {
	if a, ok := payload.(events.Alert); ok {
		r.mu.Lock()
		r.alerts = append(r.alerts, a)
		r.mu.Unlock()
	}
}

func (r *recorder) count(e events.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Type == e {
			n++
		}
	}
	return n
}

func newStore(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database.Queries()
}

func fixedClock(g *DailyGuard, at time.Time) { g.now = func() time.Time { return at } }

func TestDailyGuardThreshold(t *testing.T) {
	tests := []struct {
		name       string
		current    float64
		wantHalted bool
	}{
		{"loss beyond limit halts", 97500, true},
		{"loss at limit halts", 98000, true},
		{"loss within limit", 98500, false},
		{"gain", 101000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recorder{}
			g := NewDailyGuard(0.02, nil, pub, nil)
			ctx := context.Background()

			_, err := g.Check(ctx, 100000)
			require.NoError(t, err)
			st, err := g.Check(ctx, tt.current)
			require.NoError(t, err)

			assert.Equal(t, tt.wantHalted, st.Halted)
			assert.Equal(t, tt.wantHalted, g.Halted())
			if tt.wantHalted {
				assert.Equal(t, 1, pub.count(events.EventDailyHalt))
				require.Len(t, pub.alerts, 1)
				assert.Equal(t, events.LevelCritical, pub.alerts[0].Level)
			}
		})
	}
}

func TestDailyGuardHaltIsSticky(t *testing.T) {
	store := newStore(t)
	pub := &recorder{}
	g := NewDailyGuard(0.02, store, pub, nil)
	ctx := context.Background()
	day1 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	fixedClock(g, day1)

	_, err := g.Check(ctx, 100000)
	require.NoError(t, err)
	_, err = g.Check(ctx, 97000)
	require.NoError(t, err)
	require.True(t, g.Halted())

	// Recovery during the day does not clear it, nor does it alert twice.
	st, err := g.Check(ctx, 105000)
	require.NoError(t, err)
	assert.True(t, st.Halted)
	assert.Equal(t, 1, pub.count(events.EventDailyHalt))

	// A new trading day captures new starting equity but stays halted.
	fixedClock(g, day1.Add(24*time.Hour))
	require.NoError(t, g.ResetDay(ctx, 104000))
	st = g.State()
	assert.Equal(t, "2025-03-04", st.TradingDay)
	assert.Equal(t, 104000.0, st.StartingEquity)
	assert.True(t, st.Halted)

	// State survives a restart.
	restored := NewDailyGuard(0.02, store, nil, nil)
	require.NoError(t, restored.Load(ctx))
	assert.True(t, restored.Halted())
	assert.Equal(t, 104000.0, restored.State().StartingEquity)

	require.NoError(t, g.Resume(ctx))
	assert.False(t, g.Halted())
	assert.Equal(t, 1, pub.count(events.EventTradingResumed))
	require.NoError(t, restored.Load(ctx))
	assert.False(t, restored.Halted())
}

func TestDailyGuardConcurrentChecksHaltOnce(t *testing.T) {
	pub := &recorder{}
	g := NewDailyGuard(0.02, nil, pub, nil)
	ctx := context.Background()
	_, err := g.Check(ctx, 100000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Check(ctx, 90000)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, pub.count(events.EventDailyHalt))
}

func TestManualHalt(t *testing.T) {
	pub := &recorder{}
	g := NewDailyGuard(0.02, nil, pub, nil)
	ctx := context.Background()

	require.NoError(t, g.Halt(ctx, "operator"))
	require.NoError(t, g.Halt(ctx, "again"))
	assert.Equal(t, "operator", g.State().HaltReason)
	assert.Equal(t, 1, pub.count(events.EventDailyHalt))

	gk := NewGatekeeper(g, nil, nil)
	d := gk.Approve(Candidate{Symbol: "BTCUSDT", Shares: 1, Price: 100}, 1000)
	assert.False(t, d.Allowed)
	assert.Equal(t, GuardDailyLoss, d.Rejection.Guard)
}

func openPosition(t *testing.T, l *ledger.Ledger, strategy, symbol string, shares, entry, stop float64) {
	t.Helper()
	p := ledger.Position{StrategyID: strategy, Symbol: symbol, Shares: shares, EntryPrice: entry}
	if stop > 0 {
		p.StopLoss = &stop
	}
	require.NoError(t, l.Open(context.Background(), p))
}

func TestPortfolioHeatCeiling(t *testing.T) {
	l := ledger.New(nil, nil)
	marks := market.NewMarks()
	marks.Set("SOLUSDT", 100)
	// 400 shares, 50 below the stop distance: 20,000 at risk on 100,000.
	openPosition(t, l, "s1", "SOLUSDT", 400, 100, 50)

	limiter := NewPortfolioLimiter(DefaultConfig(), l, marks, indicators.NewHistory(50))
	require.InDelta(t, 0.20, limiter.Heat(100000).Heat, 1e-12)

	tests := []struct {
		name     string
		stop     float64
		wantHeat float64
		allowed  bool
	}{
		{"raises heat to 28%", 20, 0.28, false},
		{"raises heat to 24%", 60, 0.24, true},
		{"raises heat to exactly 25%", 50, 0.25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := limiter.Evaluate(Candidate{StrategyID: "s2", Symbol: "BTCUSDT", Shares: 100, Price: 100, StopLoss: tt.stop}, 100000)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.InDelta(t, 0.20, d.HeatBefore, 1e-12)
			assert.InDelta(t, tt.wantHeat, d.HeatAfter, 1e-12)
			if !tt.allowed {
				assert.Equal(t, GuardHeat, d.Rejection.Guard)
			}
		})
	}
}

func TestPositionWithoutStopCountsFullValue(t *testing.T) {
	l := ledger.New(nil, nil)
	openPosition(t, l, "s1", "ETHUSDT", 10, 100, 0)
	limiter := NewPortfolioLimiter(DefaultConfig(), l, nil, nil)
	assert.InDelta(t, 0.1, limiter.Heat(10000).Heat, 1e-12)
}

func TestCorrelatedExposure(t *testing.T) {
	hist := indicators.NewHistory(50)
	btc := []float64{100, 102, 101, 104, 103, 106, 105, 108}
	eth := make([]float64, len(btc))
	inv := make([]float64, len(btc))
	for i, v := range btc {
		eth[i] = v / 20
		inv[i] = 300 - v
	}
	hist.Record("BTCUSDT", "1h", btc)
	hist.Record("ETHUSDT", "1h", eth)
	hist.Record("INVUSDT", "1h", inv)

	cfg := DefaultConfig()
	cfg.MaxPortfolioHeat = 1

	t.Run("correlated cluster rejected", func(t *testing.T) {
		l := ledger.New(nil, nil)
		openPosition(t, l, "s1", "ETHUSDT", 1000, 10, 9) // value 10,000
		limiter := NewPortfolioLimiter(cfg, l, nil, hist)
		d := limiter.Evaluate(Candidate{Symbol: "BTCUSDT", Shares: 60, Price: 100, StopLoss: 95}, 100000)
		assert.False(t, d.Allowed)
		assert.Equal(t, GuardCorrelation, d.Rejection.Guard)
		assert.InDelta(t, 0.16, d.CorrelatedExposure, 1e-12)
	})

	t.Run("anti-correlated symbol ignored", func(t *testing.T) {
		l := ledger.New(nil, nil)
		openPosition(t, l, "s1", "INVUSDT", 100, 100, 90)
		limiter := NewPortfolioLimiter(cfg, l, nil, hist)
		d := limiter.Evaluate(Candidate{Symbol: "BTCUSDT", Shares: 60, Price: 100, StopLoss: 95}, 100000)
		assert.True(t, d.Allowed)
		assert.InDelta(t, 0.06, d.CorrelatedExposure, 1e-12)
	})

	t.Run("same symbol in another strategy counts", func(t *testing.T) {
		l := ledger.New(nil, nil)
		openPosition(t, l, "s1", "BTCUSDT", 100, 100, 90)
		limiter := NewPortfolioLimiter(cfg, l, nil, nil)
		d := limiter.Evaluate(Candidate{StrategyID: "s2", Symbol: "BTCUSDT", Shares: 60, Price: 100, StopLoss: 95}, 100000)
		assert.False(t, d.Allowed)
		assert.InDelta(t, 0.16, d.CorrelatedExposure, 1e-12)
	})
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	limiter := NewPortfolioLimiter(DefaultConfig(), nil, nil, nil)
	assert.Equal(t, GuardInput, limiter.Evaluate(Candidate{Symbol: "X", Shares: 1, Price: 1}, 0).Rejection.Guard)
	assert.Equal(t, GuardInput, limiter.Evaluate(Candidate{Symbol: "X", Shares: 0, Price: 1}, 100).Rejection.Guard)
}
