package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autotrader/internal/events"
	"autotrader/pkg/db"
)

// Reasons recorded with each trade.
const (
	ReasonSignal     = "signal"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonEmergency  = "emergency"
)

// ErrInvalidReason is returned by Record for a reason outside the fixed set.
var ErrInvalidReason = errors.New("invalid trade reason")

// ValidReason reports whether r is one of the recorded reasons.
func ValidReason(r string) bool {
	switch r {
	case ReasonSignal, ReasonStopLoss, ReasonTakeProfit, ReasonEmergency:
		return true
	}
	return false
}

// Store is the append-only backend. *db.Queries implements it.
type Store interface {
	AppendTrade(ctx context.Context, t db.Trade) error
	QueryTrades(ctx context.Context, f db.TradeFilter) ([]db.Trade, error)
}

// Filter narrows queries. Zero fields are ignored.
type Filter = db.TradeFilter

// Trade is one immutable audit entry. RealizedPnL is nil for entries.
type Trade struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Shares      float64   `json:"shares"`
	Price       float64   `json:"price"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Reason      string    `json:"reason"`
	OrderID     string    `json:"order_id,omitempty"`
}

// Log appends trades and answers history and analytics queries. Appends
// from different strategies need no coordination here; the store
// serializes writes.
type Log struct {
	store   Store
	pub     events.Publisher
	log     *zap.Logger
	retries int
	backoff time.Duration
}

// NewLog builds an audit log that retries failed appends three times.
func NewLog(store Store, pub events.Publisher, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{store: store, pub: pub, log: log.Named("audit"), retries: 3, backoff: 100 * time.Millisecond}
}

// Record appends t, assigning its ID and time when unset. A trade that still
// cannot be written after the retries raises a critical alert, because the
// venue-side trade already happened and the record is now missing.
func (l *Log) Record(ctx context.Context, t Trade) (Trade, error) {
	if !ValidReason(t.Reason) {
		return t, fmt.Errorf("record trade: %w: %q", ErrInvalidReason, t.Reason)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}
	row := toRow(t)

	var err error
	for attempt := 1; attempt <= l.retries; attempt++ {
		err = l.store.AppendTrade(ctx, row)
		if err == nil || errors.Is(err, db.ErrDuplicate) {
			break
		}
		l.log.Warn("append trade failed",
			zap.Int("attempt", attempt),
			zap.String("trade_id", t.ID),
			zap.Error(err))
		if attempt < l.retries {
			select {
			case <-time.After(l.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				err = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
				attempt = l.retries
			}
		}
	}
	if err != nil {
		l.log.Error("trade not recorded",
			zap.String("trade_id", t.ID),
			zap.String("strategy_id", t.StrategyID),
			zap.String("symbol", t.Symbol),
			zap.Error(err))
		events.Emit(l.pub, events.Alert{
			Type:       events.EventSystemError,
			Level:      events.LevelCritical,
			Title:      "Trade audit write failed",
			Message:    err.Error(),
			StrategyID: t.StrategyID,
			Symbol:     t.Symbol,
			Details:    map[string]any{"trade_id": t.ID, "side": t.Side, "shares": t.Shares, "price": t.Price},
		})
		return t, fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	return t, nil
}

// Query returns trades matching f in chronological order.
func (l *Log) Query(ctx context.Context, f Filter) ([]Trade, error) {
	rows, err := l.store.QueryTrades(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Stats computes analytics over the trades matching f.
func (l *Log) Stats(ctx context.Context, f Filter) (Stats, error) {
	trades, err := l.Query(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(trades), nil
}

func toRow(t Trade) db.Trade {
	return db.Trade{
		ID:          t.ID,
		Timestamp:   t.Time,
		StrategyID:  t.StrategyID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Shares:      t.Shares,
		Price:       t.Price,
		RealizedPnL: t.RealizedPnL,
		Reason:      t.Reason,
		OrderID:     t.OrderID,
	}
}

func fromRow(r db.Trade) Trade {
	return Trade{
		ID:          r.ID,
		Time:        r.Timestamp,
		StrategyID:  r.StrategyID,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Shares:      r.Shares,
		Price:       r.Price,
		RealizedPnL: r.RealizedPnL,
		Reason:      r.Reason,
		OrderID:     r.OrderID,
	}
}
