package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/order"
)

type fakeVenue struct {
	held map[string]float64
	err  error
}

func (f *fakeVenue) Holdings(context.Context) (map[string]float64, error) { return f.held, f.err }

type fakePositions []ledger.Position

func (f fakePositions) All() []ledger.Position { return f }

type alerts struct {
	mu   sync.Mutex
	list []events.Alert
}

func (a *alerts) Publish(_ events.Event, payload any) {
	if al, ok := payload.(events.Alert); ok {
		a.mu.Lock()
		a.list = append(a.list, al)
		a.mu.Unlock()
	}
}

func TestReconcileMatches(t *testing.T) {
	venue := &fakeVenue{held: map[string]float64{"BTCUSDT": 3, "BNBUSDT": 12}}
	positions := fakePositions{
		{StrategyID: "a", Symbol: "BTCUSDT", Shares: 1},
		{StrategyID: "b", Symbol: "BTCUSDT", Shares: 2},
	}
	bus := &alerts{}
	report, err := NewService(venue, positions, bus, nil).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Diffs)
	assert.Empty(t, bus.list)
}

func TestShortfallAlertsOncePerSymbol(t *testing.T) {
	venue := &fakeVenue{held: map[string]float64{"BTCUSDT": 1, "ETHUSDT": 7}}
	positions := fakePositions{
		{StrategyID: "a", Symbol: "BTCUSDT", Shares: 2},
		{StrategyID: "a", Symbol: "ETHUSDT", Shares: 5},
	}
	bus := &alerts{}
	svc := NewService(venue, positions, bus, nil)

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Diffs, 2)
	assert.True(t, report.Diffs[0].Shortfall())
	assert.InDelta(t, -1, report.Diffs[0].Difference, 1e-9)
	assert.False(t, report.Diffs[1].Shortfall())

	require.Len(t, bus.list, 1)
	assert.Equal(t, events.EventSystemError, bus.list[0].Type)
	assert.Equal(t, events.LevelCritical, bus.list[0].Level)
	assert.Equal(t, []string{"BTCUSDT"}, bus.list[0].Details["symbols"])

	_, err = svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, bus.list, 1)

	// Once resolved, a new shortfall alerts again.
	venue.held["BTCUSDT"] = 2
	_, err = svc.Reconcile(context.Background())
	require.NoError(t, err)
	venue.held["BTCUSDT"] = 0
	_, err = svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, bus.list, 2)
}

func TestReconcileSkipsVenuesWithoutHoldings(t *testing.T) {
	svc := NewService(&fakeVenue{err: order.ErrNoHoldings}, fakePositions{{Symbol: "BTCUSDT", Shares: 1}}, nil, nil)
	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	svc = NewService(&fakeVenue{err: errors.New("timeout")}, fakePositions{}, nil, nil)
	_, err = svc.Reconcile(context.Background())
	assert.Error(t, err)
}
