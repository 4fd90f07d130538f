package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/audit"
	"autotrader/internal/balance"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"autotrader/internal/strategy"
)

// Executor is the order side of the engine. *order.Executor implements it.
type Executor interface {
	Place(ctx context.Context, req order.Request) (order.Result, error)
	Mode() order.Mode
	SetMode(m order.Mode) error
	VenueName() string
}

// Channels lists configured notification channels. *notify.Dispatcher implements it.
type Channels interface {
	Channels() []string
}

// Impl implements Service by composing the runner's modules.
type Impl struct {
	sched    *scheduler.Scheduler
	ledger   *ledger.Ledger
	daily    *risk.DailyGuard
	gate     *risk.Gatekeeper
	executor Executor
	balance  *balance.Manager
	audit    *audit.Log
	marks    *market.Marks
	bus      events.Publisher
	notifier Channels
	log      *zap.Logger

	liquidationTimeout time.Duration
	emergencyMu        sync.Mutex

	// System metadata
	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Scheduler          *scheduler.Scheduler
	Ledger             *ledger.Ledger
	Daily              *risk.DailyGuard
	Gatekeeper         *risk.Gatekeeper
	Executor           Executor
	Balance            *balance.Manager
	Audit              *audit.Log
	Marks              *market.Marks
	Bus                events.Publisher
	Notifier           Channels
	LiquidationTimeout time.Duration
	Meta               SystemStatus
	Log                *zap.Logger
}

var _ Service = (*Impl)(nil)

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) (*Impl, error) {
	if cfg.Scheduler == nil || cfg.Ledger == nil || cfg.Daily == nil || cfg.Gatekeeper == nil ||
		cfg.Executor == nil || cfg.Balance == nil || cfg.Audit == nil || cfg.Marks == nil {
		return nil, errors.New("engine: scheduler, ledger, risk, executor, balance, audit and marks are required")
	}
	if cfg.LiquidationTimeout <= 0 {
		cfg.LiquidationTimeout = 15 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Impl{
		sched:              cfg.Scheduler,
		ledger:             cfg.Ledger,
		daily:              cfg.Daily,
		gate:               cfg.Gatekeeper,
		executor:           cfg.Executor,
		balance:            cfg.Balance,
		audit:              cfg.Audit,
		marks:              cfg.Marks,
		bus:                cfg.Bus,
		notifier:           cfg.Notifier,
		log:                log.Named("engine"),
		liquidationTimeout: cfg.LiquidationTimeout,
		meta:               cfg.Meta,
	}, nil
}

// --- Strategy Commands ---

func (e *Impl) CreateStrategy(ctx context.Context, def strategy.Definition) (scheduler.Info, error) {
	return e.sched.Create(ctx, def)
}

func (e *Impl) DeleteStrategy(ctx context.Context, id string) error {
	return e.sched.Delete(ctx, id)
}

func (e *Impl) StartStrategy(ctx context.Context, id string) error {
	return e.sched.Start(ctx, id)
}

func (e *Impl) PauseStrategy(ctx context.Context, id string) error {
	return e.sched.Pause(ctx, id)
}

func (e *Impl) StopStrategy(ctx context.Context, id string) error {
	return e.sched.Stop(ctx, id)
}

// --- Strategy Queries ---

func (e *Impl) ListStrategies(ctx context.Context) []scheduler.Info {
	return e.sched.List()
}

func (e *Impl) GetStrategy(ctx context.Context, id string) (scheduler.Info, error) {
	return e.sched.Get(id)
}

// --- Positions & Trades ---

// GetPositions values every open position at its latest mark, falling back
// to the entry price when no mark has been seen yet.
func (e *Impl) GetPositions(ctx context.Context) []Position {
	all := e.ledger.All()
	out := make([]Position, 0, len(all))
	for _, p := range all {
		px, ok := e.marks.Get(p.Symbol)
		if !ok {
			px = p.EntryPrice
		}
		out = append(out, Position{
			Position:      p,
			CurrentPrice:  px,
			MarketValue:   p.Value(px),
			UnrealizedPnL: p.UnrealizedPnL(px),
		})
	}
	return out
}

func (e *Impl) GetTradeHistory(ctx context.Context, f audit.Filter) ([]audit.Trade, error) {
	return e.audit.Query(ctx, f)
}

func (e *Impl) GetTradeStats(ctx context.Context, f audit.Filter) (audit.Stats, error) {
	return e.audit.Stats(ctx, f)
}

// --- Risk ---

func (e *Impl) GetDailyRiskState(ctx context.Context) risk.DailyState {
	return e.daily.State()
}

func (e *Impl) ResumeTrading(ctx context.Context) error {
	return e.daily.Resume(ctx)
}

func (e *Impl) HaltTrading(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual halt"
	}
	return e.daily.Halt(ctx, reason)
}

func (e *Impl) GetPortfolioHeat(ctx context.Context) (risk.HeatSnapshot, error) {
	equity, err := e.balance.Equity(ctx)
	if err != nil {
		return risk.HeatSnapshot{}, fmt.Errorf("portfolio heat: %w", err)
	}
	return e.gate.Heat(equity), nil
}

// --- Control ---

// SetTradingMode switches between paper and live routing. It is refused
// while any strategy is ACTIVE so no tick straddles two venues.
func (e *Impl) SetTradingMode(ctx context.Context, mode order.Mode) error {
	if n := e.sched.ActiveCount(); n > 0 {
		return fmt.Errorf("set trading mode: %d %w", n, ErrStrategiesActive)
	}
	from := e.executor.Mode()
	if from == mode {
		return nil
	}
	if err := e.executor.SetMode(mode); err != nil {
		return fmt.Errorf("set trading mode: %w", err)
	}
	e.balance.Invalidate()

	e.log.Warn("trading mode changed", zap.String("from", string(from)), zap.String("to", string(mode)))
	events.Emit(e.bus, events.Alert{
		Type:    events.EventTradingModeChanged,
		Level:   events.LevelWarning,
		Title:   "Trading mode changed",
		Message: fmt.Sprintf("%s -> %s", from, mode),
		Details: map[string]any{"from": string(from), "to": string(mode), "venue": e.executor.VenueName()},
	})
	return nil
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	st := e.meta
	st.Mode = string(e.executor.Mode())
	st.Venue = e.executor.VenueName()
	st.ServerTime = time.Now()
	st.ActiveStrategies = e.sched.ActiveCount()
	st.OpenPositions = e.ledger.Len()
	st.Halted = e.daily.Halted()
	st.Equity = e.balance.Last()
	if e.notifier != nil {
		st.Channels = e.notifier.Channels()
	}
	return &st
}
