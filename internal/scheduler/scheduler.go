package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/events"
	"autotrader/internal/indicators"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/internal/strategy"
	"autotrader/pkg/db"
)

// Deps are the collaborators a scheduler drives. Store, Metrics, Bus and
// History are optional.
type Deps struct {
	Store   Store
	Market  market.Gateway
	Marks   *market.Marks
	History *indicators.History
	Ledger  *ledger.Ledger
	Risk    Approver
	Daily   DailyRisk
	Orders  Orders
	Equity  EquitySource
	Audit   Recorder
	Bus     events.Publisher
	Metrics Metrics
	Log     *zap.Logger
}

type instance struct {
	def      strategy.Definition
	eval     strategy.Evaluator
	status   Status
	interval time.Duration

	// done stays set until the loop has exited, even after cancel has
	// been taken by a pause or stop.
	cancel context.CancelFunc
	done   chan struct{}

	ticks    uint64
	lastTick time.Time
	lastErr  string
}

// Scheduler owns one cancellable tick loop per ACTIVE strategy. Loops run
// independently; a slow tick in one strategy never delays another.
type Scheduler struct {
	cfg Config
	Deps
	log *zap.Logger

	mu         sync.Mutex
	strategies map[string]*instance

	// base parents every loop so Shutdown can stop them all without
	// touching persisted status.
	base       context.Context
	cancelBase context.CancelFunc
}

// New builds a scheduler. Market, Marks, Ledger, Risk, Daily, Orders, Equity
// and Audit are required.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case deps.Market == nil:
		return nil, errors.New("scheduler: market gateway is required")
	case deps.Marks == nil:
		return nil, errors.New("scheduler: marks cache is required")
	case deps.Ledger == nil:
		return nil, errors.New("scheduler: ledger is required")
	case deps.Risk == nil || deps.Daily == nil:
		return nil, errors.New("scheduler: risk guards are required")
	case deps.Orders == nil:
		return nil, errors.New("scheduler: order executor is required")
	case deps.Equity == nil:
		return nil, errors.New("scheduler: equity source is required")
	case deps.Audit == nil:
		return nil, errors.New("scheduler: audit log is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.PositionFraction <= 0 {
		cfg.PositionFraction = def.PositionFraction
	}
	if cfg.StopATRMultiplier <= 0 {
		cfg.StopATRMultiplier = def.StopATRMultiplier
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.LotStep <= 0 {
		cfg.LotStep = def.LotStep
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		Deps:       deps,
		log:        log.Named("scheduler"),
		strategies: make(map[string]*instance),
		base:       base,
		cancelBase: cancel,
	}, nil
}

// Load reads persisted strategies. Rows that no longer validate are logged
// and skipped. It returns the ids whose persisted status is ACTIVE; their
// loops are not started until Resume.
func (s *Scheduler) Load(ctx context.Context) ([]string, error) {
	if s.Store == nil {
		return nil, nil
	}
	rows, err := s.Store.ListStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}

	var active []string
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		def := fromRow(r)
		inst, err := s.newInstance(def)
		if err != nil {
			s.log.Warn("skipping invalid strategy", zap.String("strategy_id", r.ID), zap.Error(err))
			continue
		}
		status := ParseStatus(r.Status)
		if status == StatusActive {
			active = append(active, def.ID)
			status = StatusStopped
		}
		inst.status = status
		s.strategies[def.ID] = inst
	}
	s.log.Info("strategies loaded", zap.Int("count", len(s.strategies)), zap.Int("active", len(active)))
	return active, nil
}

// Resume starts the given strategies, typically the ids Load returned.
func (s *Scheduler) Resume(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.Start(ctx, id); err != nil {
			s.log.Warn("resume strategy failed", zap.String("strategy_id", id), zap.Error(err))
		}
	}
}

// Create validates def and registers it as STOPPED.
func (s *Scheduler) Create(ctx context.Context, def strategy.Definition) (Info, error) {
	if def.Name == "" {
		def.Name = def.ID
	}
	inst, err := s.newInstance(def)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strategies[def.ID]; ok {
		return Info{}, fmt.Errorf("create %s: %w", def.ID, ErrExists)
	}
	if err := s.persist(ctx, def, StatusStopped); err != nil {
		return Info{}, err
	}
	s.strategies[def.ID] = inst
	s.log.Info("strategy created", zap.String("strategy_id", def.ID), zap.String("type", string(def.Type)))
	return inst.info(), nil
}

// Seed creates def, or replaces an existing definition while it is STOPPED.
// Running strategies keep their current definition.
func (s *Scheduler) Seed(ctx context.Context, def strategy.Definition) error {
	_, err := s.Create(ctx, def)
	if !errors.Is(err, ErrExists) {
		return err
	}
	inst, err := s.newInstance(def)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.strategies[def.ID]
	if cur.status != StatusStopped || cur.done != nil {
		s.log.Info("seed skipped for running strategy", zap.String("strategy_id", def.ID))
		return nil
	}
	if err := s.persist(ctx, def, StatusStopped); err != nil {
		return err
	}
	s.strategies[def.ID] = inst
	return nil
}

// Delete removes a STOPPED strategy that holds no open positions.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.strategies[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if inst.status != StatusStopped || inst.done != nil {
		return fmt.Errorf("delete %s: %w", id, ErrStrategyRunning)
	}
	if n := len(s.Ledger.ForStrategy(id)); n > 0 {
		return fmt.Errorf("delete %s: %w (%d)", id, ErrOpenPositions, n)
	}
	if s.Store != nil {
		if err := s.Store.DeleteStrategy(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	delete(s.strategies, id)
	s.log.Info("strategy deleted", zap.String("strategy_id", id))
	return nil
}

// Get returns one strategy.
func (s *Scheduler) Get(id string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.strategies[id]
	if !ok {
		return Info{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return inst.info(), nil
}

// List returns every strategy ordered by id.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.strategies))
	for _, inst := range s.strategies {
		out = append(out, inst.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount is the number of ACTIVE strategies.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Scheduler) activeLocked() int {
	n := 0
	for _, inst := range s.strategies {
		if inst.status == StatusActive {
			n++
		}
	}
	return n
}

// Start moves a STOPPED or PAUSED strategy to ACTIVE and launches its loop.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	inst, ok := s.lockDrained(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, ErrNotFound)
	}
	if inst.status == StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("start %s: already %s: %w", id, inst.status, ErrInvalidTransition)
	}
	if err := s.persistStatus(ctx, id, StatusActive); err != nil {
		s.mu.Unlock()
		return err
	}
	inst.status = StatusActive
	loopCtx, cancel := context.WithCancel(s.base)
	inst.cancel = cancel
	done := make(chan struct{})
	inst.done = done
	s.reportActive()
	s.mu.Unlock()

	go s.loop(loopCtx, inst, done)

	s.log.Info("strategy started", zap.String("strategy_id", id), zap.Duration("interval", inst.interval))
	s.emitLifecycle(inst, events.EventStrategyStarted, "Strategy started")
	return nil
}

// Pause moves an ACTIVE strategy to PAUSED. Future ticks are canceled; an
// in-flight tick finishes before Pause returns.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	return s.halt(ctx, id, StatusPaused)
}

// Stop moves an ACTIVE or PAUSED strategy to STOPPED, waiting for any
// in-flight tick. Positions stay open.
func (s *Scheduler) Stop(ctx context.Context, id string) error {
	return s.halt(ctx, id, StatusStopped)
}

func (s *Scheduler) halt(ctx context.Context, id string, to Status) error {
	verb := "stop"
	if to == StatusPaused {
		verb = "pause"
	}
	s.mu.Lock()
	inst, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", verb, id, ErrNotFound)
	}
	switch {
	case to == StatusPaused && inst.status != StatusActive,
		to == StatusStopped && inst.status == StatusStopped:
		s.mu.Unlock()
		return fmt.Errorf("%s %s: strategy is %s: %w", verb, id, inst.status, ErrInvalidTransition)
	}
	if err := s.persistStatus(ctx, id, to); err != nil {
		s.mu.Unlock()
		return err
	}
	inst.status = to
	cancel, done := inst.cancel, inst.done
	inst.cancel = nil
	s.reportActive()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A concurrent pause may already hold cancel; its loop can still be
	// inside a tick.
	if done != nil {
		<-done
	}

	event, title := events.EventStrategyStopped, "Strategy stopped"
	if to == StatusPaused {
		event, title = events.EventStrategyPaused, "Strategy paused"
	}
	s.log.Info(title, zap.String("strategy_id", id))
	s.emitLifecycle(inst, event, title)
	return nil
}

// StopAll stops every ACTIVE or PAUSED strategy and returns their ids. It
// returns only after every loop has exited.
func (s *Scheduler) StopAll(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	var ids []string
	for id, inst := range s.strategies {
		if inst.status != StatusStopped {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var (
		errs    []error
		stopped = make([]string, 0, len(ids))
	)
	for _, id := range ids {
		err := s.Stop(ctx, id)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			errs = append(errs, err)
			continue
		}
		stopped = append(stopped, id)
	}
	s.drain()
	return stopped, errors.Join(errs...)
}

// lockDrained returns with s.mu held once id has no loop still exiting.
func (s *Scheduler) lockDrained(id string) (*instance, bool) {
	s.mu.Lock()
	for {
		inst, ok := s.strategies[id]
		if !ok || inst.done == nil || inst.status == StatusActive {
			return inst, ok
		}
		done := inst.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
}

// drain waits for every loop that has been told to exit, including those
// halted by other callers.
func (s *Scheduler) drain() {
	s.mu.Lock()
	var waits []chan struct{}
	for _, inst := range s.strategies {
		if inst.done != nil && inst.status != StatusActive {
			waits = append(waits, inst.done)
		}
	}
	s.mu.Unlock()
	for _, d := range waits {
		<-d
	}
}

// Shutdown stops every loop without changing persisted status, so ACTIVE
// strategies resume on the next boot.
func (s *Scheduler) Shutdown() {
	s.cancelBase()
	s.mu.Lock()
	var waits []chan struct{}
	for _, inst := range s.strategies {
		if inst.done != nil {
			waits = append(waits, inst.done)
		}
	}
	s.mu.Unlock()
	for _, d := range waits {
		<-d
	}
	s.log.Info("scheduler stopped")
}

// Tick runs one tick for id immediately, whatever its status.
func (s *Scheduler) Tick(ctx context.Context, id string) error {
	s.mu.Lock()
	inst, ok := s.strategies[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tick %s: %w", id, ErrNotFound)
	}
	s.safeTick(ctx, inst)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, inst *instance, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if inst.done == done {
			inst.done = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	// An in-flight tick is never interrupted by pause or stop.
	tickCtx := context.WithoutCancel(ctx)
	s.safeTick(tickCtx, inst)

	ticker := time.NewTicker(inst.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.safeTick(tickCtx, inst)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, inst *instance) {
	id := inst.def.ID
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", zap.String("strategy_id", id), zap.Any("panic", r), zap.Stack("stack"))
			s.tickError("panic")
			s.recordTick(inst, start, fmt.Sprintf("panic: %v", r))
			events.Emit(s.Bus, events.Alert{
				Type:       events.EventSystemError,
				Level:      events.LevelCritical,
				Title:      "Strategy tick panicked",
				Message:    fmt.Sprint(r),
				StrategyID: id,
			})
		}
	}()

	errMsg := s.tick(ctx, inst)
	s.recordTick(inst, start, errMsg)
	if s.Metrics != nil {
		s.Metrics.ObserveTick(id, time.Since(start))
	}
}

func (s *Scheduler) recordTick(inst *instance, start time.Time, errMsg string) {
	s.mu.Lock()
	inst.ticks++
	inst.lastTick = start
	inst.lastErr = errMsg
	s.mu.Unlock()
}

func (s *Scheduler) newInstance(def strategy.Definition) (*instance, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	eval, err := strategy.New(def.Type, def.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	interval := s.cfg.Interval
	if secs := def.Params.Int("interval_seconds", 0); secs > 0 {
		interval = time.Duration(secs) * time.Second
	}
	return &instance{def: def, eval: eval, status: StatusStopped, interval: interval}, nil
}

func (s *Scheduler) persist(ctx context.Context, def strategy.Definition, status Status) error {
	if s.Store == nil {
		return nil
	}
	if err := s.Store.UpsertStrategy(ctx, toRow(def, status)); err != nil {
		return fmt.Errorf("persist strategy %s: %w", def.ID, err)
	}
	return nil
}

func (s *Scheduler) persistStatus(ctx context.Context, id string, status Status) error {
	if s.Store == nil {
		return nil
	}
	if err := s.Store.UpdateStrategyStatus(ctx, id, string(status)); err != nil {
		return fmt.Errorf("persist status %s=%s: %w", id, status, err)
	}
	return nil
}

func (s *Scheduler) reportActive() {
	if s.Metrics != nil {
		s.Metrics.SetActiveStrategies(s.activeLocked())
	}
}

func (s *Scheduler) tickError(kind string) {
	if s.Metrics != nil {
		s.Metrics.TickError(kind)
	}
}

func (s *Scheduler) emitLifecycle(inst *instance, e events.Event, title string) {
	events.Emit(s.Bus, events.Alert{
		Type:       e,
		Level:      events.LevelInfo,
		Title:      title,
		Message:    fmt.Sprintf("%s (%s) on %v", inst.def.Name, inst.def.Type, inst.def.Symbols),
		StrategyID: inst.def.ID,
	})
}

func (inst *instance) info() Info {
	in := Info{
		Definition: inst.def,
		Status:     inst.status,
		Interval:   inst.interval.String(),
		Ticks:      inst.ticks,
		LastError:  inst.lastErr,
	}
	if !inst.lastTick.IsZero() {
		t := inst.lastTick
		in.LastTick = &t
	}
	return in
}

func toRow(def strategy.Definition, status Status) db.Strategy {
	return db.Strategy{
		ID:         def.ID,
		Name:       def.Name,
		Type:       string(def.Type),
		Status:     string(status),
		Symbols:    def.Symbols,
		Timeframe:  def.Timeframe,
		Parameters: def.Params,
	}
}

func fromRow(r db.Strategy) strategy.Definition {
	return strategy.Definition{
		ID:        r.ID,
		Name:      r.Name,
		Type:      strategy.Type(r.Type),
		Symbols:   r.Symbols,
		Timeframe: r.Timeframe,
		Params:    strategy.Params(r.Parameters),
	}
}
