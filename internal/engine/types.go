package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autotrader/internal/ledger"
)

// ErrStrategiesActive blocks a trading mode switch while strategies run.
var ErrStrategiesActive = errors.New("strategies are active")

// Position is a ledger position valued at the latest mark.
type Position struct {
	ledger.Position
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// ClosedPosition is one successful emergency liquidation.
type ClosedPosition struct {
	Key         ledger.Key `json:"key"`
	Shares      float64    `json:"shares"`
	ExitPrice   float64    `json:"exit_price"`
	RealizedPnL float64    `json:"realized_pnl"`
	TradeID     string     `json:"trade_id"`
}

// FailedPosition is a position emergency stop could not close.
type FailedPosition struct {
	Key   ledger.Key `json:"key"`
	Error string     `json:"error"`
}

// EmergencyReport summarizes one emergency stop.
type EmergencyReport struct {
	StoppedStrategies []string         `json:"stopped_strategies"`
	Closed            []ClosedPosition `json:"closed"`
	Failed            []FailedPosition `json:"failed,omitempty"`
	Duration          string           `json:"duration"`
	NoOp              bool             `json:"no_op"`
}

// LiquidationError lists the positions still open after an emergency stop.
// Strategies stopped before the failure stay stopped.
type LiquidationError struct {
	Remaining []ledger.Key
	Cause     error
}

func (e *LiquidationError) Error() string {
	return fmt.Sprintf("emergency stop left %d position(s) open: %s", len(e.Remaining), strings.Join(keyStrings(e.Remaining), ", "))
}

func (e *LiquidationError) Unwrap() error { return e.Cause }

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode             string    `json:"mode"`
	Venue            string    `json:"venue"`
	UseMockFeed      bool      `json:"use_mock_feed"`
	Version          string    `json:"version"`
	ServerTime       time.Time `json:"server_time"`
	ActiveStrategies int       `json:"active_strategies"`
	OpenPositions    int       `json:"open_positions"`
	Halted           bool      `json:"halted"`
	Equity           float64   `json:"equity"`
	Channels         []string  `json:"notification_channels"`
}
