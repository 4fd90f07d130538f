package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/pkg/db"
)

var (
	ErrPositionExists = errors.New("position already open")
	ErrNoPosition     = errors.New("no open position")
)

// Key identifies a position slot: one strategy trading one symbol.
type Key struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
}

func (k Key) String() string { return k.StrategyID + ":" + k.Symbol }

// Position is an open holding. Shares is signed; negative means short.
type Position struct {
	StrategyID   string    `json:"strategy_id"`
	Symbol       string    `json:"symbol"`
	Shares       float64   `json:"shares"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	TakeProfit   *float64  `json:"take_profit,omitempty"`
	EntryOrderID string    `json:"entry_order_id,omitempty"`
}

// Key returns the slot this position occupies.
func (p Position) Key() Key { return Key{StrategyID: p.StrategyID, Symbol: p.Symbol} }

// UnrealizedPnL at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Shares
}

// Value is the absolute market value at price.
func (p Position) Value(price float64) float64 {
	v := p.Shares * price
	if v < 0 {
		return -v
	}
	return v
}

// Closed describes a position removed from the ledger.
type Closed struct {
	Position    Position
	ExitPrice   float64
	RealizedPnL float64
}

// Store persists open positions. *db.Queries implements it.
type Store interface {
	InsertPosition(ctx context.Context, p db.Position) error
	DeletePosition(ctx context.Context, strategyID, symbol string) error
	ListPositions(ctx context.Context) ([]db.Position, error)
}

// Ledger is the authoritative record of open positions. All mutations check
// and change a slot atomically; Acquire additionally serializes multi-step
// work (check, place order, record) on a single slot.
type Ledger struct {
	mu        sync.RWMutex
	positions map[Key]Position
	pending   map[Key]struct{}
	lanes     map[Key]chan struct{}

	store Store
	log   *zap.Logger
}

// New creates a ledger. store may be nil for a purely in-memory ledger.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		positions: make(map[Key]Position),
		pending:   make(map[Key]struct{}),
		lanes:     make(map[Key]chan struct{}),
		store:     store,
		log:       log.Named("ledger"),
	}
}

// Load seeds in-memory state from the store on startup.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	rows, err := l.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		p := fromRow(r)
		l.positions[p.Key()] = p
	}
	l.log.Info("positions loaded", zap.Int("count", len(rows)))
	return nil
}

// Acquire takes the exclusive lane for key, waiting until it is free or ctx
// is done. The returned release must be called exactly once.
func (l *Ledger) Acquire(ctx context.Context, key Key) (func(), error) {
	l.mu.Lock()
	lane, ok := l.lanes[key]
	if !ok {
		lane = make(chan struct{}, 1)
		l.lanes[key] = lane
	}
	l.mu.Unlock()

	select {
	case lane <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-lane }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
	}
}

// Open records a new position. It fails with ErrPositionExists when the
// slot is already taken, including while another Open for it is in flight.
func (l *Ledger) Open(ctx context.Context, p Position) error {
	if p.Shares == 0 {
		return fmt.Errorf("open %s: zero shares", p.Key())
	}
	if p.EntryTime.IsZero() {
		p.EntryTime = time.Now().UTC()
	}
	key := p.Key()

	l.mu.Lock()
	_, open := l.positions[key]
	_, inflight := l.pending[key]
	if open || inflight {
		l.mu.Unlock()
		return fmt.Errorf("open %s: %w", key, ErrPositionExists)
	}
	l.pending[key] = struct{}{}
	l.mu.Unlock()

	var err error
	if l.store != nil {
		err = l.store.InsertPosition(ctx, toRow(p))
	}

	l.mu.Lock()
	delete(l.pending, key)
	if err == nil {
		l.positions[key] = p
	}
	l.mu.Unlock()

	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return fmt.Errorf("open %s: %w", key, ErrPositionExists)
		}
		return fmt.Errorf("open %s: %w", key, err)
	}
	return nil
}

// Close removes the position for key and returns its realized P&L at
// exitPrice. A failure to delete the persisted row is logged; the in-memory
// removal stands because the exit already happened at the venue.
func (l *Ledger) Close(ctx context.Context, key Key, exitPrice float64) (Closed, error) {
	l.mu.Lock()
	p, ok := l.positions[key]
	if !ok {
		l.mu.Unlock()
		return Closed{}, fmt.Errorf("close %s: %w", key, ErrNoPosition)
	}
	delete(l.positions, key)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeletePosition(ctx, key.StrategyID, key.Symbol); err != nil && !errors.Is(err, db.ErrNotFound) {
			l.log.Error("persist position close failed",
				zap.String("strategy_id", key.StrategyID),
				zap.String("symbol", key.Symbol),
				zap.Error(err))
		}
	}

	return Closed{
		Position:    p,
		ExitPrice:   exitPrice,
		RealizedPnL: p.UnrealizedPnL(exitPrice),
	}, nil
}

// Get returns the open position for key.
func (l *Ledger) Get(key Key) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[key]
	return p, ok
}

// UnrealizedPnL is a pure read of the position for key at price.
func (l *Ledger) UnrealizedPnL(key Key, price float64) (float64, error) {
	p, ok := l.Get(key)
	if !ok {
		return 0, fmt.Errorf("unrealized pnl %s: %w", key, ErrNoPosition)
	}
	return p.UnrealizedPnL(price), nil
}

// All returns a snapshot of every open position ordered by key.
func (l *Ledger) All() []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// ForStrategy returns the open positions of one strategy.
func (l *Ledger) ForStrategy(strategyID string) []Position {
	var out []Position
	for _, p := range l.All() {
		if p.StrategyID == strategyID {
			out = append(out, p)
		}
	}
	return out
}

// Len is the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

func toRow(p Position) db.Position {
	return db.Position{
		StrategyID:   p.StrategyID,
		Symbol:       p.Symbol,
		Shares:       p.Shares,
		EntryPrice:   p.EntryPrice,
		EntryTime:    p.EntryTime,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		EntryOrderID: p.EntryOrderID,
	}
}

func fromRow(r db.Position) Position {
	return Position{
		StrategyID:   r.StrategyID,
		Symbol:       r.Symbol,
		Shares:       r.Shares,
		EntryPrice:   r.EntryPrice,
		EntryTime:    r.EntryTime,
		StopLoss:     r.StopLoss,
		TakeProfit:   r.TakeProfit,
		EntryOrderID: r.EntryOrderID,
	}
}
