package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/pkg/db"
)

func ptr(v float64) *float64 { return &v }

func newSQLStore(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database.Queries()
}

func TestOpenEnforcesOnePositionPerKey(t *testing.T) {
	for _, withStore := range []bool{false, true} {
		name := "memory"
		if withStore {
			name = "sqlite"
		}
		t.Run(name, func(t *testing.T) {
			var store Store
			if withStore {
				store = newSQLStore(t)
			}
			l := New(store, nil)
			ctx := context.Background()

			var (
				wg        sync.WaitGroup
				successes atomic.Int32
				conflicts atomic.Int32
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := l.Open(ctx, Position{StrategyID: "s1", Symbol: "BTCUSDT", Shares: 1, EntryPrice: float64(100 + i)})
					switch {
					case err == nil:
						successes.Add(1)
					case errors.Is(err, ErrPositionExists):
						conflicts.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), successes.Load())
			assert.Equal(t, int32(49), conflicts.Load())
			assert.Equal(t, 1, l.Len())
		})
	}
}

func TestCloseReturnsRealizedPnL(t *testing.T) {
	l := New(newSQLStore(t), nil)
	ctx := context.Background()
	key := Key{StrategyID: "s1", Symbol: "ETHUSDT"}

	require.NoError(t, l.Open(ctx, Position{StrategyID: "s1", Symbol: "ETHUSDT", Shares: 4, EntryPrice: 50}))

	pnl, err := l.UnrealizedPnL(key, 55)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, pnl, 1e-9)

	closed, err := l.Close(ctx, key, 47.5)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, closed.RealizedPnL, 1e-9)
	assert.Equal(t, 47.5, closed.ExitPrice)
	assert.Equal(t, 0, l.Len())

	_, err = l.Close(ctx, key, 47.5)
	assert.ErrorIs(t, err, ErrNoPosition)
	_, err = l.UnrealizedPnL(key, 1)
	assert.ErrorIs(t, err, ErrNoPosition)

	// Slot is reusable after close.
	require.NoError(t, l.Open(ctx, Position{StrategyID: "s1", Symbol: "ETHUSDT", Shares: 1, EntryPrice: 48}))
}

func TestLoadRestoresPersistedPositions(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	first := New(store, nil)
	require.NoError(t, first.Open(ctx, Position{StrategyID: "b", Symbol: "ETHUSDT", Shares: 2, EntryPrice: 10, StopLoss: ptr(9)}))
	require.NoError(t, first.Open(ctx, Position{StrategyID: "a", Symbol: "BTCUSDT", Shares: 1, EntryPrice: 100, TakeProfit: ptr(120)}))

	second := New(store, nil)
	require.NoError(t, second.Load(ctx))

	all := second.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].StrategyID, "snapshot is ordered by key")
	require.NotNil(t, all[1].StopLoss)
	assert.Equal(t, 9.0, *all[1].StopLoss)
	assert.Len(t, second.ForStrategy("b"), 1)

	err := second.Open(ctx, Position{StrategyID: "a", Symbol: "BTCUSDT", Shares: 1, EntryPrice: 100})
	assert.ErrorIs(t, err, ErrPositionExists)
}

func TestOpenRejectsZeroShares(t *testing.T) {
	l := New(nil, nil)
	assert.Error(t, l.Open(context.Background(), Position{StrategyID: "s", Symbol: "X", EntryPrice: 1}))
}

func TestAcquireSerializesAKey(t *testing.T) {
	l := New(nil, nil)
	key := Key{StrategyID: "s1", Symbol: "BTCUSDT"}

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent.
	otherRelease, err := l.Acquire(context.Background(), Key{StrategyID: "s2", Symbol: "BTCUSDT"})
	require.NoError(t, err)
	otherRelease()

	release()
	release() // idempotent

	again, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestProtectiveExit(t *testing.T) {
	long := Position{Shares: 10, EntryPrice: 100, StopLoss: ptr(95), TakeProfit: ptr(110)}
	short := Position{Shares: -10, EntryPrice: 100, StopLoss: ptr(105), TakeProfit: ptr(90)}

	tests := []struct {
		name  string
		pos   Position
		price float64
		want  ExitKind
		fired bool
	}{
		{name: "long above stop", pos: long, price: 96},
		{name: "long at stop", pos: long, price: 95, want: ExitStopLoss, fired: true},
		{name: "long below stop", pos: long, price: 80, want: ExitStopLoss, fired: true},
		{name: "long at target", pos: long, price: 110, want: ExitTakeProfit, fired: true},
		{name: "short at stop", pos: short, price: 105, want: ExitStopLoss, fired: true},
		{name: "short at target", pos: short, price: 89, want: ExitTakeProfit, fired: true},
		{name: "short in range", pos: short, price: 100},
		{name: "no levels", pos: Position{Shares: 1, EntryPrice: 100}, price: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _, fired := tt.pos.ProtectiveExit(tt.price)
			assert.Equal(t, tt.fired, fired)
			assert.Equal(t, tt.want, kind)
		})
	}

	assert.InDelta(t, 5.0, long.RiskPerShare(100), 1e-9)
	assert.Equal(t, 0.0, Position{Shares: 1}.RiskPerShare(100))
}
