// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/tetrisserver/network"
	"github.com/wfunc/tetrisserver/state"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	ActiveMatches    prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessageLatency   prometheus.Histogram
	TickDuration     prometheus.Histogram
	LinesCleared     prometheus.Counter
	PenaltyLines     prometheus.Counter
	Eliminations     prometheus.Counter
	Matches          *prometheus.CounterVec
	RateLimited      prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of online players",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of active rooms",
		}),
		ActiveMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_matches",
			Help:      "Number of matches being played",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}, []string{"type"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent",
		}, []string{"type"}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one room gravity pass",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
		}),
		LinesCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_cleared_total",
			Help:      "Total number of lines cleared",
		}),
		PenaltyLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "penalty_lines_total",
			Help:      "Total number of penalty lines delivered",
		}),
		Eliminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eliminations_total",
			Help:      "Total number of players eliminated",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Matches by lifecycle event",
		}, []string{"event"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Game actions dropped by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.ActiveMatches,
		m.MessagesReceived,
		m.MessagesSent,
		m.MessageLatency,
		m.TickDuration,
		m.LinesCleared,
		m.PenaltyLines,
		m.Eliminations,
		m.Matches,
		m.RateLimited,
	)

	return m
}

var (
	publishOnce sync.Once
	current     atomic.Pointer[Monitor]
)

// Monitor wraps Metrics and publishes process counters through expvar.
// It implements state.Observer and broadcast.SendCounter.
type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount atomic.Int64
}

var _ state.Observer = (*Monitor)(nil)

// NewMonitor registers metrics on reg. gatherer serves /metrics and is
// normally the same registry.
func NewMonitor(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	// expvar names are process-global; the newest monitor backs them
	current.Store(m)
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(current.Load().startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			return current.Load().requestCount.Load()
		}))
	})
	return m
}

// NewDefaultMonitor uses the global prometheus registry.
func NewDefaultMonitor(namespace string) *Monitor {
	return NewMonitor(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// MetricsHandler serves the prometheus exposition format.
func (m *Monitor) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// VarsHandler serves expvar.
func (m *Monitor) VarsHandler() http.Handler {
	return expvar.Handler()
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived(msgID uint16) {
	m.metrics.MessagesReceived.WithLabelValues(network.MsgName(msgID)).Inc()
	m.requestCount.Add(1)
}

func (m *Monitor) IncMessagesSent(msgID uint16) {
	m.metrics.MessagesSent.WithLabelValues(network.MsgName(msgID)).Inc()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncRateLimited() {
	m.metrics.RateLimited.Inc()
}

// --- state.Observer ---

func (m *Monitor) MatchStarted(roomID string, players int) {
	m.metrics.Matches.WithLabelValues("started").Inc()
	m.metrics.ActiveMatches.Inc()
}

func (m *Monitor) TickProcessed(d time.Duration) {
	m.metrics.TickDuration.Observe(d.Seconds())
}

func (m *Monitor) LinesCleared(lines int) {
	m.metrics.LinesCleared.Add(float64(lines))
}

func (m *Monitor) PenaltySent(lines int) {
	m.metrics.PenaltyLines.Add(float64(lines))
}

func (m *Monitor) PlayerEliminated() {
	m.metrics.Eliminations.Inc()
}

func (m *Monitor) MatchFinished(result state.MatchResult) {
	m.metrics.Matches.WithLabelValues("finished").Inc()
	m.metrics.ActiveMatches.Dec()
}
