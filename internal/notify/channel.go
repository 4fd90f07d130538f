package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"autotrader/internal/events"
)

// Channel delivers one alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a events.Alert) error
}

// Console writes alerts to the process log. It is always registered so
// alerts are visible even without any remote channel.
type Console struct {
	log *zap.Logger
}

// NewConsole builds the log channel.
func NewConsole(log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{log: log.Named("alert")}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, a events.Alert) error {
	fields := []zap.Field{
		zap.String("type", string(a.Type)),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
	}
	if a.StrategyID != "" {
		fields = append(fields, zap.String("strategy_id", a.StrategyID))
	}
	if a.Symbol != "" {
		fields = append(fields, zap.String("symbol", a.Symbol))
	}
	if len(a.Details) > 0 {
		fields = append(fields, zap.Any("details", a.Details))
	}
	switch a.Level {
	case events.LevelCritical:
		c.log.Error("alert", fields...)
	case events.LevelWarning:
		c.log.Warn("alert", fields...)
	default:
		c.log.Info("alert", fields...)
	}
	return nil
}

func levelEmoji(l events.Level) string {
	switch l {
	case events.LevelCritical:
		return "🚨"
	case events.LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// levelColor is the embed/attachment color for a level.
func levelColor(l events.Level) int {
	switch l {
	case events.LevelCritical:
		return 0xE01E5A
	case events.LevelWarning:
		return 0xECB22E
	default:
		return 0x2EB67D
	}
}

// detailLines renders the alert context as sorted "key: value" lines.
func detailLines(a events.Alert) []string {
	var lines []string
	if a.StrategyID != "" {
		lines = append(lines, "strategy: "+a.StrategyID)
	}
	if a.Symbol != "" {
		lines = append(lines, "symbol: "+a.Symbol)
	}
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, a.Details[k]))
	}
	return lines
}

// plainText is the message body for text-only channels.
func plainText(a events.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", levelEmoji(a.Level), a.Level, a.Title)
	if a.Message != "" {
		b.WriteString("\n")
		b.WriteString(a.Message)
	}
	for _, l := range detailLines(a) {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}
