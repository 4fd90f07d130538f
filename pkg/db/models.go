package db

import "time"

// Strategy is a persisted strategy definition and its lifecycle status.
type Strategy struct {
	ID         string
	Name       string
	Type       string
	Status     string
	Symbols    []string
	Timeframe  string
	Parameters map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Position is an open position row keyed by (strategy, symbol).
type Position struct {
	StrategyID   string
	Symbol       string
	Shares       float64
	EntryPrice   float64
	EntryTime    time.Time
	StopLoss     *float64
	TakeProfit   *float64
	EntryOrderID string
}

// Order records every placement attempt, confirmed or not.
type Order struct {
	ID              string
	ExchangeOrderID string
	StrategyID      string
	Symbol          string
	Side            string
	Type            string
	Qty             float64
	Price           float64
	Status          string
	Error           string
	Venue           string
	CreatedAt       time.Time
}

// Trade is an immutable audit entry. RealizedPnL is nil for opening trades.
type Trade struct {
	ID          string
	Timestamp   time.Time
	StrategyID  string
	Symbol      string
	Side        string
	Shares      float64
	Price       float64
	RealizedPnL *float64
	Reason      string
	OrderID     string
}

// TradeFilter narrows trade queries. Zero values are ignored.
type TradeFilter struct {
	StrategyID string
	Symbol     string
	From       time.Time
	To         time.Time
	Limit      int
}

// RiskState is the single persisted daily-risk row.
type RiskState struct {
	TradingDay     string
	StartingEquity float64
	CurrentEquity  float64
	Halted         bool
	HaltReason     string
	HaltedAt       *time.Time
	UpdatedAt      time.Time
}

// Alert is a journaled notification.
type Alert struct {
	ID        string
	Type      string
	Level     string
	Title     string
	Message   string
	CreatedAt time.Time
}
