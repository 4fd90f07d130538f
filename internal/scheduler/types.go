package scheduler

import (
	"context"
	"errors"
	"time"

	"autotrader/internal/audit"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"
	"autotrader/pkg/db"
)

var (
	ErrNotFound          = errors.New("strategy not found")
	ErrExists            = errors.New("strategy already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStrategyRunning   = errors.New("strategy is not stopped")
	ErrOpenPositions     = errors.New("strategy has open positions")
	ErrInvalidDefinition = errors.New("invalid strategy definition")
)

// Status is the lifecycle state of a strategy.
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
)

// ParseStatus maps a persisted value back to a Status; unknown values read as STOPPED.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive:
		return StatusActive
	case StatusPaused:
		return StatusPaused
	default:
		return StatusStopped
	}
}

// Config holds tick and sizing defaults. Strategy params may override the
// interval (interval_seconds), lot step (lot_step) and stop multiplier
// (stop_atr_multiplier).
type Config struct {
	Interval          time.Duration
	Lookback          int
	PositionFraction  float64
	StopATRMultiplier float64
	ATRPeriod         int
	LotStep           float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          60 * time.Second,
		Lookback:          100,
		PositionFraction:  0.01,
		StopATRMultiplier: 2,
		ATRPeriod:         14,
		LotStep:           1,
	}
}

// Store persists strategy definitions and status. *db.Queries implements it.
type Store interface {
	UpsertStrategy(ctx context.Context, s db.Strategy) error
	UpdateStrategyStatus(ctx context.Context, id, status string) error
	ListStrategies(ctx context.Context) ([]db.Strategy, error)
	DeleteStrategy(ctx context.Context, id string) error
}

// Orders places orders. *order.Executor implements it.
type Orders interface {
	Place(ctx context.Context, req order.Request) (order.Result, error)
}

// EquitySource reports account equity. *balance.Manager implements it.
type EquitySource interface {
	Equity(ctx context.Context) (float64, error)
	Invalidate()
}

// Approver is the pre-trade risk check. *risk.Gatekeeper implements it.
type Approver interface {
	Approve(c risk.Candidate, equity float64) risk.Decision
}

// DailyRisk is the halt flag plus the equity check run after exits.
// *risk.DailyGuard implements it.
type DailyRisk interface {
	Halted() bool
	Check(ctx context.Context, equity float64) (risk.DailyState, error)
}

// Recorder appends to the trade audit log. *audit.Log implements it.
type Recorder interface {
	Record(ctx context.Context, t audit.Trade) (audit.Trade, error)
}

// Metrics receives tick instrumentation. *monitor.Metrics implements it.
type Metrics interface {
	ObserveTick(strategy string, elapsed time.Duration)
	TickError(kind string)
	Signal(strategy, action string)
	SetActiveStrategies(n int)
}

// Info is the externally visible view of a strategy.
type Info struct {
	strategy.Definition
	Status    Status     `json:"status"`
	Interval  string     `json:"interval"`
	Ticks     uint64     `json:"ticks"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
