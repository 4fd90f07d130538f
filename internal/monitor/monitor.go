package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autotrader/internal/events"
)

// Monitor derives metrics from bus traffic so publishers stay unaware of
// prometheus.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Log     *zap.Logger
}

// Start subscribes to alert and price topics until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		return
	}
	topics := append([]events.Event{events.EventPriceTick}, events.AlertEvents...)
	stream, unsub := m.Bus.SubscribeMany(topics, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.observe(msg)
			}
		}
	}()
}

func (m *Monitor) observe(msg any) {
	switch v := msg.(type) {
	case events.PriceTick:
		m.Metrics.lastPrice.WithLabelValues(v.Symbol).Set(v.Price)
	case events.Alert:
		m.Metrics.alerts.WithLabelValues(string(v.Type), string(v.Level)).Inc()
		switch v.Type {
		case events.EventTradeExecuted:
			m.Metrics.trades.WithLabelValues(v.Symbol, detail(v, "side")).Inc()
		case events.EventStopLossTriggered:
			m.Metrics.exits.WithLabelValues("stop_loss").Inc()
		case events.EventTakeProfitTriggered:
			m.Metrics.exits.WithLabelValues("take_profit").Inc()
		case events.EventDailyHalt:
			m.Metrics.SetHalted(true)
		case events.EventTradingResumed:
			m.Metrics.SetHalted(false)
		case events.EventRiskRejected:
			m.Metrics.Rejection(detail(v, "guard"))
		}
	}
}

func detail(a events.Alert, key string) string {
	if v, ok := a.Details[key]; ok {
		return fmt.Sprint(v)
	}
	return "unknown"
}
