package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autotrader/pkg/exchanges/common"
)

const namespace = "autotrader"

// Metrics holds the runner's prometheus collectors on a private registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	tickErrors     *prometheus.CounterVec
	signals        *prometheus.CounterVec
	orders         *prometheus.CounterVec
	orderLatency   *prometheus.HistogramVec
	rejections     *prometheus.CounterVec
	trades         *prometheus.CounterVec
	exits          *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	halted         prometheus.Gauge
	heat           prometheus.Gauge
	equity         prometheus.Gauge
	openPositions  prometheus.Gauge
	activeStrategy prometheus.Gauge
	lastPrice      *prometheus.GaugeVec
}

// NewMetrics registers every collector plus the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Strategy ticks executed",
		}, []string{"strategy"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of one strategy tick",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tick_errors_total",
			Help: "Transient failures inside ticks by kind",
		}, []string{"kind"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Signals produced by strategies",
		}, []string{"strategy", "action"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Order placements by venue and final status",
		}, []string{"venue", "status"}),
		orderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_latency_seconds",
			Help:    "Time from submission to venue acknowledgement",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"venue"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_rejections_total",
			Help: "Candidates rejected by the risk gatekeeper",
		}, []string{"guard"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total",
			Help: "Trades recorded in the audit log",
		}, []string{"symbol", "side"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "protective_exits_total",
			Help: "Stop-loss and take-profit exits",
		}, []string{"kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alerts published by type and level",
		}, []string{"type", "level"}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trading_halted",
			Help: "1 while the daily loss halt is in effect",
		}),
		heat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "portfolio_heat_ratio",
			Help: "Capital at risk as a fraction of equity",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "equity",
			Help: "Last observed account equity",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Positions currently in the ledger",
		}),
		activeStrategy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_strategies",
			Help: "Strategies in ACTIVE state",
		}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_price",
			Help: "Latest close seen per symbol",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.ticks, m.tickDuration, m.tickErrors, m.signals,
		m.orders, m.orderLatency, m.rejections, m.trades, m.exits, m.alerts,
		m.halted, m.heat, m.equity, m.openPositions, m.activeStrategy, m.lastPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveTick(strategy string, elapsed time.Duration) {
	m.ticks.WithLabelValues(strategy).Inc()
	m.tickDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) TickError(kind string) { m.tickErrors.WithLabelValues(kind).Inc() }

func (m *Metrics) Signal(strategy, action string) {
	m.signals.WithLabelValues(strategy, action).Inc()
}

// ObserveOrder implements order.Observer.
func (m *Metrics) ObserveOrder(venue string, status common.OrderStatus, elapsed time.Duration) {
	m.orders.WithLabelValues(venue, string(status)).Inc()
	m.orderLatency.WithLabelValues(venue).Observe(elapsed.Seconds())
}

func (m *Metrics) Rejection(guard string) { m.rejections.WithLabelValues(guard).Inc() }

func (m *Metrics) SetEquity(v float64) { m.equity.Set(v) }

func (m *Metrics) SetHeat(v float64) { m.heat.Set(v) }

func (m *Metrics) SetOpenPositions(n int) { m.openPositions.Set(float64(n)) }

func (m *Metrics) SetActiveStrategies(n int) { m.activeStrategy.Set(float64(n)) }

func (m *Metrics) SetHalted(h bool) {
	if h {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}
