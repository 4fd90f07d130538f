package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/market"
	"autotrader/pkg/db"
	"autotrader/pkg/exchanges/common"
)

type memStore struct {
	mu   sync.Mutex
	rows []db.Order
}

func (s *memStore) InsertOrder(_ context.Context, o db.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, o)
	return nil
}

// stubVenue answers every order with a fixed result or blocks until the
// context is done.
type stubVenue struct {
	name   string
	result common.OrderResult
	err    error
	block  bool
}

func (v *stubVenue) Name() string { return v.name }

func (v *stubVenue) SubmitOrder(ctx context.Context, _ common.OrderRequest) (common.OrderResult, error) {
	if v.block {
		<-ctx.Done()
		return common.OrderResult{}, ctx.Err()
	}
	return v.result, v.err
}

func (v *stubVenue) CancelOrder(context.Context, string, string) error { return nil }

func (v *stubVenue) Equity(context.Context) (float64, error) { return 1000, nil }

func newExecutor(t *testing.T, v common.Venue, store Store) *Executor {
	t.Helper()
	e, err := NewExecutor(store, map[Mode]common.Venue{ModePaper: v}, ModePaper, 50*time.Millisecond, nil)
	require.NoError(t, err)
	return e
}

func TestPaperBrokerFillsAndValuesAccount(t *testing.T) {
	marks := market.NewMarks()
	marks.Set("BTCUSDT", 100)
	b := NewPaperBroker(marks, PaperConfig{StartingCash: 10000, SlippageBps: 10, FeeRate: 0.001})
	ctx := context.Background()

	res, err := b.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Qty: 10})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.InDelta(t, 100.1, res.AvgPrice, 1e-9)
	assert.InDelta(t, 10000-1001-1.001, b.Cash(), 1e-9)
	assert.InDelta(t, 10, b.Holding("BTCUSDT"), 1e-12)

	marks.Set("BTCUSDT", 110)
	eq, err := b.Equity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, b.Cash()+1100, eq, 1e-9)

	res, err = b.SubmitOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Qty: 10})
	require.NoError(t, err)
	assert.InDelta(t, 109.89, res.AvgPrice, 1e-9)
	assert.Zero(t, b.Holding("BTCUSDT"))

	assert.Error(t, b.CancelOrder(ctx, "BTCUSDT", res.ExchangeOrderID))
}

func TestPaperBrokerRejectsUnfundedOrders(t *testing.T) {
	marks := market.NewMarks()
	marks.Set("ETHUSDT", 50)
	b := NewPaperBroker(marks, PaperConfig{StartingCash: 100})
	ctx := context.Background()

	res, err := b.SubmitOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideBuy, Qty: 3})
	require.NoError(t, err)
	assert.Equal(t, common.StatusRejected, res.Status)

	res, err = b.SubmitOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideSell, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, common.StatusRejected, res.Status)

	_, err = b.SubmitOrder(ctx, common.OrderRequest{Symbol: "XRPUSDT", Side: common.SideBuy, Qty: 1})
	assert.Error(t, err)
}

func TestExecutorRecordsFilledOrder(t *testing.T) {
	store := &memStore{}
	v := &stubVenue{name: "stub", result: common.OrderResult{ExchangeOrderID: "7", Status: common.StatusFilled, ExecutedQty: 2, AvgPrice: 101}}
	e := newExecutor(t, v, store)

	res, err := e.Place(context.Background(), Request{StrategyID: "s1", Symbol: "BTCUSDT", Side: common.SideBuy, Shares: 2, RefPrice: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 101.0, res.FillPrice)
	assert.Equal(t, "stub", res.Venue)

	require.Len(t, store.rows, 1)
	assert.Equal(t, res.OrderID, store.rows[0].ID)
	assert.Equal(t, "FILLED", store.rows[0].Status)
	assert.Equal(t, "MARKET", store.rows[0].Type)
}

func TestExecutorFallsBackToReferencePrice(t *testing.T) {
	v := &stubVenue{name: "stub", result: common.OrderResult{Status: common.StatusNew}}
	e := newExecutor(t, v, nil)

	res, err := e.Place(context.Background(), Request{Symbol: "BTCUSDT", Side: common.SideSell, Shares: 1.5, RefPrice: 99})
	require.NoError(t, err)
	assert.Equal(t, 99.0, res.FillPrice)
	assert.Equal(t, 1.5, res.FilledQty)
}

func TestExecutorFailures(t *testing.T) {
	tests := []struct {
		name  string
		venue *stubVenue
		check func(t *testing.T, err error)
	}{
		{
			name:  "rejected status",
			venue: &stubVenue{result: common.OrderResult{Status: common.StatusRejected}},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRejected) },
		},
		{
			name:  "expired status",
			venue: &stubVenue{result: common.OrderResult{Status: common.StatusExpired}},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRejected) },
		},
		{
			name:  "transport error",
			venue: &stubVenue{err: errors.New("connection reset")},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, "connection reset") },
		},
		{
			name:  "timeout",
			venue: &stubVenue{block: true},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.ErrorContains(t, err, "timed out")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			e := newExecutor(t, tt.venue, store)
			_, err := e.Place(context.Background(), Request{Symbol: "BTCUSDT", Side: common.SideBuy, Shares: 1})
			require.Error(t, err)
			tt.check(t, err)
			require.Len(t, store.rows, 1)
			assert.NotEqual(t, "FILLED", store.rows[0].Status)
		})
	}
}

func TestExecutorModeSwitch(t *testing.T) {
	paper := &stubVenue{name: "paper", result: common.OrderResult{Status: common.StatusFilled}}
	live := &stubVenue{name: "live", result: common.OrderResult{Status: common.StatusFilled}}
	e, err := NewExecutor(nil, map[Mode]common.Venue{ModePaper: paper, ModeLive: live}, ModePaper, time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, e.SetMode(ModeLive))
	assert.Equal(t, ModeLive, e.Mode())
	res, err := e.Place(context.Background(), Request{Symbol: "BTCUSDT", Side: common.SideBuy, Shares: 1, RefPrice: 1})
	require.NoError(t, err)
	assert.Equal(t, "live", res.Venue)

	_, err = NewExecutor(nil, map[Mode]common.Venue{ModePaper: paper}, ModeLive, time.Second, nil)
	assert.Error(t, err)

	_, err = ParseMode("LIVE")
	assert.NoError(t, err)
	_, err = ParseMode("sim")
	assert.Error(t, err)
}
