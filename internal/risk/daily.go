package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/events"
	"autotrader/pkg/db"
)

const dayLayout = "2006-01-02"

// StateStore persists the daily risk row. *db.Queries implements it.
type StateStore interface {
	SaveRiskState(ctx context.Context, s db.RiskState) error
	LoadRiskState(ctx context.Context) (*db.RiskState, error)
}

// DailyState is a snapshot of the daily-loss guard.
type DailyState struct {
	TradingDay     string     `json:"trading_day"`
	StartingEquity float64    `json:"starting_equity"`
	CurrentEquity  float64    `json:"current_equity"`
	DailyPnLPct    float64    `json:"daily_pnl_pct"`
	Halted         bool       `json:"halted"`
	HaltReason     string     `json:"halt_reason,omitempty"`
	HaltedAt       *time.Time `json:"halted_at,omitempty"`
	Threshold      float64    `json:"threshold"`
}

// DailyGuard captures starting equity once per trading day and halts all new
// trading once the day's loss reaches the threshold. The halt is sticky: only
// Resume clears it, and a new trading day leaves it in place.
type DailyGuard struct {
	threshold float64
	store     StateStore
	pub       events.Publisher
	log       *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	state db.RiskState
}

// NewDailyGuard builds a guard halting at a loss of threshold (0.02 = 2%).
func NewDailyGuard(threshold float64, store StateStore, pub events.Publisher, log *zap.Logger) *DailyGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyGuard{
		threshold: threshold,
		store:     store,
		pub:       pub,
		log:       log.Named("daily-risk"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load restores the persisted state. A missing row is not an error.
func (g *DailyGuard) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	st, err := g.store.LoadRiskState(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load daily risk state: %w", err)
	}
	g.mu.Lock()
	g.state = *st
	g.mu.Unlock()
	if st.Halted {
		g.log.Warn("trading is halted from a previous session", zap.String("reason", st.HaltReason))
	}
	return nil
}

// Halted is the read-only check done at the top of every tick.
func (g *DailyGuard) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Halted
}

// State returns a snapshot.
func (g *DailyGuard) State() DailyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

func (g *DailyGuard) snapshot() DailyState {
	s := g.state
	out := DailyState{
		TradingDay:     s.TradingDay,
		StartingEquity: s.StartingEquity,
		CurrentEquity:  s.CurrentEquity,
		Halted:         s.Halted,
		HaltReason:     s.HaltReason,
		HaltedAt:       s.HaltedAt,
		Threshold:      g.threshold,
	}
	if s.StartingEquity > 0 {
		out.DailyPnLPct = (s.CurrentEquity - s.StartingEquity) / s.StartingEquity
	}
	return out
}

// Check records equity and halts when the day's loss reaches the threshold.
// The first observation of a trading day becomes its starting equity. The
// check and the halt happen under one lock, so concurrent callers halt once.
func (g *DailyGuard) Check(ctx context.Context, equity float64) (DailyState, error) {
	g.mu.Lock()
	day := g.now().Format(dayLayout)
	if g.state.TradingDay != day || g.state.StartingEquity <= 0 {
		g.startDay(day, equity)
	}
	g.state.CurrentEquity = equity
	g.state.UpdatedAt = g.now()

	var tripped bool
	snap := g.snapshot()
	if !g.state.Halted && g.threshold > 0 && snap.DailyPnLPct <= -g.threshold {
		tripped = true
		g.halt(fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", -snap.DailyPnLPct*100, g.threshold*100))
		snap = g.snapshot()
	}
	row := g.state
	g.mu.Unlock()

	err := g.persist(ctx, row)
	if tripped {
		g.log.Error("daily loss limit reached, trading halted",
			zap.Float64("starting_equity", snap.StartingEquity),
			zap.Float64("current_equity", snap.CurrentEquity),
			zap.Float64("daily_pnl_pct", snap.DailyPnLPct))
		events.Emit(g.pub, events.Alert{
			Type:    events.EventDailyHalt,
			Level:   events.LevelCritical,
			Title:   "Daily loss limit reached",
			Message: snap.HaltReason,
			Details: map[string]any{
				"starting_equity": snap.StartingEquity,
				"current_equity":  snap.CurrentEquity,
				"daily_pnl_pct":   snap.DailyPnLPct,
			},
		})
	}
	return snap, err
}

// ResetDay starts a new trading day at equity. The halt flag is untouched.
func (g *DailyGuard) ResetDay(ctx context.Context, equity float64) error {
	g.mu.Lock()
	g.startDay(g.now().Format(dayLayout), equity)
	row := g.state
	g.mu.Unlock()
	g.log.Info("trading day started",
		zap.String("day", row.TradingDay),
		zap.Float64("starting_equity", equity),
		zap.Bool("halted", row.Halted))
	return g.persist(ctx, row)
}

// Halt stops new trading until Resume. Halting twice keeps the first reason.
func (g *DailyGuard) Halt(ctx context.Context, reason string) error {
	g.mu.Lock()
	if g.state.Halted {
		g.mu.Unlock()
		return nil
	}
	g.halt(reason)
	row := g.state
	g.mu.Unlock()

	g.log.Error("trading halted manually", zap.String("reason", reason))
	events.Emit(g.pub, events.Alert{
		Type:    events.EventDailyHalt,
		Level:   events.LevelCritical,
		Title:   "Trading halted",
		Message: reason,
	})
	return g.persist(ctx, row)
}

// Resume clears the halt flag. It is the only way the flag is cleared.
func (g *DailyGuard) Resume(ctx context.Context) error {
	g.mu.Lock()
	if !g.state.Halted {
		g.mu.Unlock()
		return nil
	}
	g.state.Halted = false
	g.state.HaltReason = ""
	g.state.HaltedAt = nil
	g.state.UpdatedAt = g.now()
	row := g.state
	g.mu.Unlock()

	g.log.Warn("trading resumed manually")
	events.Emit(g.pub, events.Alert{
		Type:    events.EventTradingResumed,
		Level:   events.LevelWarning,
		Title:   "Trading resumed",
		Message: "daily loss halt cleared manually",
	})
	return g.persist(ctx, row)
}

// startDay and halt expect g.mu to be held.
func (g *DailyGuard) startDay(day string, equity float64) {
	g.state.TradingDay = day
	g.state.StartingEquity = equity
	g.state.CurrentEquity = equity
	g.state.UpdatedAt = g.now()
}

func (g *DailyGuard) halt(reason string) {
	at := g.now()
	g.state.Halted = true
	g.state.HaltReason = reason
	g.state.HaltedAt = &at
	g.state.UpdatedAt = at
}

func (g *DailyGuard) persist(ctx context.Context, row db.RiskState) error {
	if g.store == nil {
		return nil
	}
	if err := g.store.SaveRiskState(ctx, row); err != nil {
		g.log.Error("persist daily risk state failed", zap.Error(err))
		return fmt.Errorf("save daily risk state: %w", err)
	}
	return nil
}
