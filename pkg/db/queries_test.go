package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "positions", "take_profit")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStrategyQueries(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	s := Strategy{
		ID:         "ma-btc",
		Name:       "MA BTC",
		Type:       "ma_crossover",
		Symbols:    []string{"BTCUSDT", "ETHUSDT"},
		Timeframe:  "1h",
		Parameters: map[string]any{"fast_period": 10.0, "slow_period": 30.0},
	}
	require.NoError(t, q.UpsertStrategy(ctx, s))

	got, err := q.GetStrategy(ctx, "ma-btc")
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", got.Status)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got.Symbols)
	assert.Equal(t, 10.0, got.Parameters["fast_period"])

	require.NoError(t, q.UpdateStrategyStatus(ctx, "ma-btc", "ACTIVE"))

	// Re-upserting the definition keeps the lifecycle status.
	s.Name = "renamed"
	require.NoError(t, q.UpsertStrategy(ctx, s))
	got, err = q.GetStrategy(ctx, "ma-btc")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", got.Status)
	assert.Equal(t, "renamed", got.Name)

	list, err := q.ListStrategies(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, q.DeleteStrategy(ctx, "ma-btc"))
	_, err = q.GetStrategy(ctx, "ma-btc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, q.UpdateStrategyStatus(ctx, "ma-btc", "STOPPED"), ErrNotFound)
}

func TestPositionQueriesRejectDuplicateKey(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	stop := 95.0
	p := Position{StrategyID: "s1", Symbol: "BTCUSDT", Shares: 2, EntryPrice: 100, EntryTime: time.Now(), StopLoss: &stop}
	require.NoError(t, q.InsertPosition(ctx, p))
	assert.ErrorIs(t, q.InsertPosition(ctx, p), ErrDuplicate)

	list, err := q.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].StopLoss)
	assert.Equal(t, 95.0, *list[0].StopLoss)
	assert.Nil(t, list[0].TakeProfit)

	require.NoError(t, q.DeletePosition(ctx, "s1", "BTCUSDT"))
	assert.ErrorIs(t, q.DeletePosition(ctx, "s1", "BTCUSDT"), ErrNotFound)
}

func TestTradesAreAppendOnly(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pnl := 12.5
	trades := []Trade{
		{ID: "t1", Timestamp: base, StrategyID: "s1", Symbol: "BTCUSDT", Side: "BUY", Shares: 1, Price: 100, Reason: "signal"},
		{ID: "t2", Timestamp: base.Add(time.Hour), StrategyID: "s1", Symbol: "BTCUSDT", Side: "SELL", Shares: 1, Price: 112.5, RealizedPnL: &pnl, Reason: "signal"},
		{ID: "t3", Timestamp: base.Add(48 * time.Hour), StrategyID: "s2", Symbol: "ETHUSDT", Side: "BUY", Shares: 3, Price: 10, Reason: "signal"},
	}
	for _, tr := range trades {
		require.NoError(t, q.AppendTrade(ctx, tr))
	}
	assert.ErrorIs(t, q.AppendTrade(ctx, trades[0]), ErrDuplicate)

	_, err := database.DB.ExecContext(ctx, `UPDATE trades SET price = 1 WHERE id = 't1'`)
	assert.Error(t, err)
	_, err = database.DB.ExecContext(ctx, `DELETE FROM trades WHERE id = 't1'`)
	assert.Error(t, err)

	t.Run("by strategy", func(t *testing.T) {
		got, err := q.QueryTrades(ctx, TradeFilter{StrategyID: "s1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Nil(t, got[0].RealizedPnL)
		require.NotNil(t, got[1].RealizedPnL)
		assert.Equal(t, 12.5, *got[1].RealizedPnL)
	})

	t.Run("by symbol and range", func(t *testing.T) {
		got, err := q.QueryTrades(ctx, TradeFilter{Symbol: "ETHUSDT", From: base.Add(24 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t3", got[0].ID)

		got, err = q.QueryTrades(ctx, TradeFilter{To: base.Add(time.Hour)})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestRiskStateRoundTrip(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	_, err := q.LoadRiskState(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, q.SaveRiskState(ctx, RiskState{
		TradingDay: "2025-03-01", StartingEquity: 100000, CurrentEquity: 97500,
		Halted: true, HaltReason: "daily loss", HaltedAt: &at,
	}))

	got, err := q.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.True(t, got.Halted)
	assert.Equal(t, "daily loss", got.HaltReason)
	require.NotNil(t, got.HaltedAt)
	assert.True(t, got.HaltedAt.Equal(at))
}

func TestInsertAlerts(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, q.InsertAlerts(ctx, []Alert{
		{ID: "a1", Type: "trade_executed", Level: "INFO", Title: "BUY", CreatedAt: now},
		{ID: "a2", Type: "emergency_stop", Level: "CRITICAL", Title: "stop", CreatedAt: now.Add(time.Second)},
	}))

	got, err := q.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
}
