package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/audit"
	"autotrader/internal/engine"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"autotrader/internal/strategy"
)

// fakeEngine keeps strategies in memory and lets tests inject errors.
type fakeEngine struct {
	strategies map[string]scheduler.Info
	lastFilter audit.Filter
	trades     []audit.Trade
	emergency  error
	modeErr    error
	mode       order.Mode
	halted     string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{strategies: map[string]scheduler.Info{}, mode: order.ModePaper}
}

func (f *fakeEngine) CreateStrategy(_ context.Context, def strategy.Definition) (scheduler.Info, error) {
	if _, ok := f.strategies[def.ID]; ok {
		return scheduler.Info{}, fmt.Errorf("create %s: %w", def.ID, scheduler.ErrExists)
	}
	if err := def.Validate(); err != nil {
		return scheduler.Info{}, fmt.Errorf("%w: %w", scheduler.ErrInvalidDefinition, err)
	}
	info := scheduler.Info{Definition: def, Status: scheduler.StatusStopped}
	f.strategies[def.ID] = info
	return info, nil
}

func (f *fakeEngine) DeleteStrategy(_ context.Context, id string) error {
	if _, ok := f.strategies[id]; !ok {
		return scheduler.ErrNotFound
	}
	if id == "holding" {
		return fmt.Errorf("delete %s: %w", id, scheduler.ErrOpenPositions)
	}
	delete(f.strategies, id)
	return nil
}

func (f *fakeEngine) setStatus(id string, st scheduler.Status) error {
	info, ok := f.strategies[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, scheduler.ErrNotFound)
	}
	if info.Status == st {
		return fmt.Errorf("%s: %w", id, scheduler.ErrInvalidTransition)
	}
	info.Status = st
	f.strategies[id] = info
	return nil
}

func (f *fakeEngine) StartStrategy(_ context.Context, id string) error {
	return f.setStatus(id, scheduler.StatusActive)
}

func (f *fakeEngine) PauseStrategy(_ context.Context, id string) error {
	return f.setStatus(id, scheduler.StatusPaused)
}

func (f *fakeEngine) StopStrategy(_ context.Context, id string) error {
	return f.setStatus(id, scheduler.StatusStopped)
}

func (f *fakeEngine) ListStrategies(context.Context) []scheduler.Info {
	out := make([]scheduler.Info, 0, len(f.strategies))
	for _, info := range f.strategies {
		out = append(out, info)
	}
	return out
}

func (f *fakeEngine) GetStrategy(_ context.Context, id string) (scheduler.Info, error) {
	info, ok := f.strategies[id]
	if !ok {
		return scheduler.Info{}, scheduler.ErrNotFound
	}
	return info, nil
}

func (f *fakeEngine) GetPositions(context.Context) []engine.Position {
	return []engine.Position{{
		Position:     ledger.Position{StrategyID: "ma", Symbol: "BTCUSDT", Shares: 2, EntryPrice: 100},
		CurrentPrice: 105, MarketValue: 210, UnrealizedPnL: 10,
	}}
}

func (f *fakeEngine) GetTradeHistory(_ context.Context, filter audit.Filter) ([]audit.Trade, error) {
	f.lastFilter = filter
	return f.trades, nil
}

func (f *fakeEngine) GetTradeStats(_ context.Context, filter audit.Filter) (audit.Stats, error) {
	f.lastFilter = filter
	return audit.ComputeStats(f.trades), nil
}

func (f *fakeEngine) GetDailyRiskState(context.Context) risk.DailyState {
	return risk.DailyState{Halted: f.halted != "", HaltReason: f.halted}
}

func (f *fakeEngine) ResumeTrading(context.Context) error {
	f.halted = ""
	return nil
}

func (f *fakeEngine) HaltTrading(_ context.Context, reason string) error {
	if reason == "" {
		reason = "manual halt"
	}
	f.halted = reason
	return nil
}

func (f *fakeEngine) GetPortfolioHeat(context.Context) (risk.HeatSnapshot, error) {
	return risk.HeatSnapshot{Equity: 10000, Heat: 0.05, Ceiling: 0.25}, nil
}

func (f *fakeEngine) EmergencyStop(context.Context) (*engine.EmergencyReport, error) {
	return &engine.EmergencyReport{StoppedStrategies: []string{"ma"}}, f.emergency
}

func (f *fakeEngine) SetTradingMode(_ context.Context, mode order.Mode) error {
	if f.modeErr != nil {
		return f.modeErr
	}
	f.mode = mode
	return nil
}

func (f *fakeEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Mode: string(f.mode), Version: "test"}
}

var _ engine.Service = (*fakeEngine)(nil)

func newTestServer(t *testing.T, eng engine.Service, bus Subscriber) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(Options{Engine: eng, Bus: bus, RateLimit: 1000, RateBurst: 1000})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStrategyLifecycle(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)
	body := gin.H{
		"id": "ma-btc", "type": "MA_CROSSOVER", "symbols": []string{"BTCUSDT"}, "timeframe": "1m",
		"params": gin.H{"fast_period": 10, "slow_period": 30},
	}

	w := do(t, s, http.MethodPost, "/api/strategies", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[scheduler.Info](t, w)
	assert.Equal(t, scheduler.StatusStopped, created.Status)
	assert.Equal(t, strategy.TypeMACrossover, created.Type)

	w = do(t, s, http.MethodPost, "/api/strategies", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/api/strategies/ma-btc/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, scheduler.StatusActive, decode[scheduler.Info](t, w).Status)

	w = do(t, s, http.MethodPost, "/api/strategies/ma-btc/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[map[string]string](t, w)["code"])

	w = do(t, s, http.MethodPost, "/api/strategies/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]scheduler.Info](t, w), 1)

	w = do(t, s, http.MethodDelete, "/api/strategies/ma-btc", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreateStrategyValidation(t *testing.T) {
	s := newTestServer(t, newFakeEngine(), nil)

	w := do(t, s, http.MethodPost, "/api/strategies", gin.H{"id": "x", "type": "rsi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[map[string]string](t, w)["code"])

	w = do(t, s, http.MethodPost, "/api/strategies", gin.H{
		"id": "x", "type": "unknown", "symbols": []string{"BTCUSDT"}, "timeframe": "1m",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_DEFINITION", decode[map[string]string](t, w)["code"])
}

func TestDeleteRefusedWithOpenPositions(t *testing.T) {
	eng := newFakeEngine()
	eng.strategies["holding"] = scheduler.Info{Status: scheduler.StatusStopped}
	s := newTestServer(t, eng, nil)

	w := do(t, s, http.MethodDelete, "/api/strategies/holding", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "OPEN_POSITIONS", decode[map[string]string](t, w)["code"])
}

func TestTradesFilterAndExport(t *testing.T) {
	eng := newFakeEngine()
	pnl := 12.5
	eng.trades = []audit.Trade{{
		ID: "t1", Time: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), StrategyID: "ma", Symbol: "BTCUSDT",
		Side: "SELL", Shares: 1, Price: 112.5, RealizedPnL: &pnl, Reason: audit.ReasonTakeProfit,
	}}
	s := newTestServer(t, eng, nil)

	w := do(t, s, http.MethodGet, "/api/trades?strategy_id=ma&symbol=BTCUSDT&from=2025-06-01&to=2025-06-03T00:00:00Z&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]audit.Trade](t, w), 1)
	assert.Equal(t, "ma", eng.lastFilter.StrategyID)
	assert.Equal(t, "BTCUSDT", eng.lastFilter.Symbol)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), eng.lastFilter.From)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), eng.lastFilter.To)
	assert.Equal(t, 10, eng.lastFilter.Limit)

	w = do(t, s, http.MethodGet, "/api/trades?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/trades/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[audit.Stats](t, w)
	assert.Equal(t, 1, stats.ClosedTrades)
	assert.InDelta(t, 100, stats.WinRate, 1e-9)

	w = do(t, s, http.MethodGet, "/api/trades/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,time,strategy_id"))
	assert.Contains(t, lines[1], "take_profit")
}

func TestEmergencyStop(t *testing.T) {
	eng := newFakeEngine()
	s := newTestServer(t, eng, nil)

	w := do(t, s, http.MethodPost, "/api/emergency-stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ma"}, decode[engine.EmergencyReport](t, w).StoppedStrategies)

	eng.emergency = &engine.LiquidationError{Remaining: []ledger.Key{{StrategyID: "ma", Symbol: "ETHUSDT"}}}
	w = do(t, s, http.MethodPost, "/api/emergency-stop", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[struct {
		Code      string   `json:"code"`
		Remaining []string `json:"remaining"`
	}](t, w)
	assert.Equal(t, "EMERGENCY_INCOMPLETE", body.Code)
	assert.Equal(t, []string{"ma:ETHUSDT"}, body.Remaining)
}

func TestRiskEndpoints(t *testing.T) {
	eng := newFakeEngine()
	s := newTestServer(t, eng, nil)

	w := do(t, s, http.MethodPost, "/api/risk/halt", gin.H{"reason": "volatility"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "volatility", decode[risk.DailyState](t, w).HaltReason)

	w = do(t, s, http.MethodPost, "/api/risk/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[risk.DailyState](t, w).Halted)

	w = do(t, s, http.MethodPost, "/api/risk/halt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "manual halt", decode[risk.DailyState](t, w).HaltReason)

	w = do(t, s, http.MethodGet, "/api/risk/heat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.05, decode[risk.HeatSnapshot](t, w).Heat, 1e-9)

	w = do(t, s, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	positions := decode[[]engine.Position](t, w)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10, positions[0].UnrealizedPnL, 1e-9)
}

func TestTradingMode(t *testing.T) {
	eng := newFakeEngine()
	s := newTestServer(t, eng, nil)

	w := do(t, s, http.MethodPut, "/api/trading-mode", gin.H{"mode": "moon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	eng.modeErr = fmt.Errorf("set trading mode: 1 %w", engine.ErrStrategiesActive)
	w = do(t, s, http.MethodPut, "/api/trading-mode", gin.H{"mode": "live"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, order.ModePaper, eng.mode)

	eng.modeErr = nil
	w = do(t, s, http.MethodPut, "/api/trading-mode", gin.H{"mode": "LIVE"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "live", decode[engine.SystemStatus](t, w).Mode)
}

func TestRateLimiterPerIP(t *testing.T) {
	l := newIPLimiter(1, 2, time.Minute)
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("10.0.0.1"))
	assert.Len(t, l.clients, 1)
}

func TestRateLimitMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Options{Engine: newFakeEngine(), RateLimit: 1, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWebsocketStreamsAlerts(t *testing.T) {
	bus := events.NewBus()
	s := newTestServer(t, newFakeEngine(), bus)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered asynchronously after the upgrade.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				events.Emit(bus, events.Alert{Type: events.EventStrategyStarted, Level: events.LevelInfo, Title: "Strategy started"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg struct {
		Type events.Event `json:"type"`
		Data events.Alert `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.EventStrategyStarted, msg.Type)
	assert.Equal(t, "Strategy started", msg.Data.Title)
}
