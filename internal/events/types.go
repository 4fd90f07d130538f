package events

import (
	"fmt"
	"strings"
	"time"
)

// Event enumerates topics published inside the runner.
type Event string

const (
	EventPriceTick           Event = "price_tick"
	EventTradeExecuted       Event = "trade_executed"
	EventStopLossTriggered   Event = "stop_loss_triggered"
	EventTakeProfitTriggered Event = "take_profit_triggered"
	EventDailyHalt           Event = "daily_loss_limit"
	EventTradingResumed      Event = "trading_resumed"
	EventRiskRejected        Event = "risk_rejected"
	EventStrategyStarted     Event = "strategy_started"
	EventStrategyPaused      Event = "strategy_paused"
	EventStrategyStopped     Event = "strategy_stopped"
	EventEmergencyStop       Event = "emergency_stop"
	EventTradingModeChanged  Event = "trading_mode_changed"
	EventSystemError         Event = "system_error"
)

// AlertEvents is every topic the notification dispatcher forwards.
var AlertEvents = []Event{
	EventTradeExecuted,
	EventStopLossTriggered,
	EventTakeProfitTriggered,
	EventDailyHalt,
	EventTradingResumed,
	EventRiskRejected,
	EventStrategyStarted,
	EventStrategyPaused,
	EventStrategyStopped,
	EventEmergencyStop,
	EventTradingModeChanged,
	EventSystemError,
}

// Level is the severity attached to an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels for minimum-level filtering.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// Alert is the payload carried by alert topics.
type Alert struct {
	Type       Event          `json:"type"`
	Level      Level          `json:"level"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Time       time.Time      `json:"time"`
}

// PriceTick is published after each successful bar fetch.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Publisher is the narrow side of the bus that trading code depends on.
type Publisher interface {
	Publish(e Event, payload any)
}

// Emit publishes an alert on its own topic, stamping the time when unset.
func Emit(p Publisher, a Alert) {
	if p == nil {
		return
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	p.Publish(a.Type, a)
}

// ParseLevel accepts INFO, WARNING or CRITICAL in any case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelInfo, LevelWarning, LevelCritical:
		return l, nil
	default:
		return "", fmt.Errorf("unknown alert level %q", s)
	}
}
