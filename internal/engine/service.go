// Package engine is the single entry point the control surface uses to drive
// the strategy runner. The API layer talks to Service only.
package engine

import (
	"context"

	"autotrader/internal/audit"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/scheduler"
	"autotrader/internal/strategy"
)

// Service defines the operations exposed to the API layer.
type Service interface {
	// Strategy commands
	CreateStrategy(ctx context.Context, def strategy.Definition) (scheduler.Info, error)
	DeleteStrategy(ctx context.Context, id string) error
	StartStrategy(ctx context.Context, id string) error
	PauseStrategy(ctx context.Context, id string) error
	StopStrategy(ctx context.Context, id string) error

	// Strategy queries
	ListStrategies(ctx context.Context) []scheduler.Info
	GetStrategy(ctx context.Context, id string) (scheduler.Info, error)

	// Positions and trades
	GetPositions(ctx context.Context) []Position
	GetTradeHistory(ctx context.Context, f audit.Filter) ([]audit.Trade, error)
	GetTradeStats(ctx context.Context, f audit.Filter) (audit.Stats, error)

	// Risk
	GetDailyRiskState(ctx context.Context) risk.DailyState
	ResumeTrading(ctx context.Context) error
	HaltTrading(ctx context.Context, reason string) error
	GetPortfolioHeat(ctx context.Context) (risk.HeatSnapshot, error)

	// Control
	EmergencyStop(ctx context.Context) (*EmergencyReport, error)
	SetTradingMode(ctx context.Context, mode order.Mode) error

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
