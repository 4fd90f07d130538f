package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/order"
)

// tolerance absorbs float noise from fills and fees.
const tolerance = 1e-6

// HoldingsSource reports venue holdings per symbol. *order.Executor implements it.
type HoldingsSource interface {
	Holdings(ctx context.Context) (map[string]float64, error)
}

// Positions is the ledger view the check compares against.
type Positions interface {
	All() []ledger.Position
}

// Service compares ledger positions with what the venue actually holds.
// The ledger is never rewritten: a shortfall means exits for that symbol
// will fail, so it is raised as a critical alert for the operator.
type Service struct {
	venue     HoldingsSource
	positions Positions
	bus       events.Publisher
	log       *zap.Logger

	mu       sync.Mutex
	lastDiff map[string]struct{}
}

// Report contains reconciliation results
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Diffs     []PositionDiff `json:"diffs"`
	Skipped   bool           `json:"skipped"`
}

// PositionDiff represents a position difference. Difference is
// VenueQty - LedgerQty.
type PositionDiff struct {
	Symbol     string  `json:"symbol"`
	LedgerQty  float64 `json:"ledger_qty"`
	VenueQty   float64 `json:"venue_qty"`
	Difference float64 `json:"difference"`
}

// Shortfall reports whether the venue holds less than the ledger expects.
func (d PositionDiff) Shortfall() bool { return d.Difference < 0 }

func NewService(venue HoldingsSource, positions Positions, bus events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		venue:     venue,
		positions: positions,
		bus:       bus,
		log:       log.Named("reconcile"),
		lastDiff:  make(map[string]struct{}),
	}
}

// Reconcile performs one check. Only symbols the ledger holds are compared;
// balances the runner never traded are ignored.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now().UTC()}
	held, err := s.venue.Holdings(ctx)
	if err != nil {
		if errors.Is(err, order.ErrNoHoldings) {
			report.Skipped = true
			return report, nil
		}
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	expected := make(map[string]float64)
	for _, p := range s.positions.All() {
		expected[p.Symbol] += p.Shares
	}
	symbols := make([]string, 0, len(expected))
	for sym := range expected {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	current := make(map[string]struct{})
	for _, sym := range symbols {
		want, got := expected[sym], held[sym]
		if math.Abs(got-want) <= tolerance*math.Max(1, math.Abs(want)) {
			continue
		}
		d := PositionDiff{Symbol: sym, LedgerQty: want, VenueQty: got, Difference: got - want}
		report.Diffs = append(report.Diffs, d)
		if d.Shortfall() {
			current[sym] = struct{}{}
		}
	}
	s.handleReport(report, current)
	return report, nil
}

// handleReport logs every diff and alerts once per symbol while a shortfall
// persists.
func (s *Service) handleReport(report *Report, shortfalls map[string]struct{}) {
	if len(report.Diffs) == 0 {
		s.log.Debug("reconciliation ok")
	}
	var fresh []string
	for _, d := range report.Diffs {
		fields := []zap.Field{
			zap.String("symbol", d.Symbol),
			zap.Float64("ledger_qty", d.LedgerQty),
			zap.Float64("venue_qty", d.VenueQty),
		}
		if !d.Shortfall() {
			s.log.Info("venue holds more than the ledger", fields...)
			continue
		}
		s.log.Error("venue holds less than the ledger", fields...)
		if _, seen := s.lastDiff[d.Symbol]; !seen {
			fresh = append(fresh, d.Symbol)
		}
	}
	s.lastDiff = shortfalls

	if len(fresh) > 0 {
		events.Emit(s.bus, events.Alert{
			Type:    events.EventSystemError,
			Level:   events.LevelCritical,
			Title:   "Position mismatch",
			Message: "venue holdings below ledger for " + strings.Join(fresh, ", "),
			Details: map[string]any{"symbols": fresh, "kind": "reconciliation"},
		})
	}
}

// Run is a job body for the cron runner.
func (s *Service) Run(ctx context.Context) {
	if _, err := s.Reconcile(ctx); err != nil {
		s.log.Warn("reconciliation failed", zap.Error(err))
	}
}
