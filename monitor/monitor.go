// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlineSessions prometheus.Gauge
	ActiveGames    prometheus.Gauge
	ReconcileRuns  prometheus.Counter
	RosterDiffs    prometheus.Counter
	OutcomeRaces   prometheus.Counter
	OracleLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_sessions",
			Help:      "Number of connected sessions",
		}),
		ActiveGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_games",
			Help:      "Number of active games",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Total number of roster reconcile passes",
		}),
		RosterDiffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_diffs_total",
			Help:      "Total number of roster overwrites applied",
		}),
		OutcomeRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcome_races_total",
			Help:      "Total number of lost outcome write races",
		}),
		OracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_latency_seconds",
			Help:      "Chain oracle call latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.OnlineSessions,
		m.ActiveGames,
		m.ReconcileRuns,
		m.RosterDiffs,
		m.OutcomeRaces,
		m.OracleLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))

	go http.ListenAndServe(addr, nil)
}

func (m *Monitor) IncOnlineSessions() {
	m.metrics.OnlineSessions.Inc()
}

func (m *Monitor) DecOnlineSessions() {
	m.metrics.OnlineSessions.Dec()
}

func (m *Monitor) SetActiveGames(count int) {
	m.metrics.ActiveGames.Set(float64(count))
}

func (m *Monitor) IncReconcileRuns() {
	m.metrics.ReconcileRuns.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncRosterDiffs() {
	m.metrics.RosterDiffs.Inc()
}

func (m *Monitor) IncOutcomeRaces() {
	m.metrics.OutcomeRaces.Inc()
}

func (m *Monitor) ObserveOracleLatency(duration time.Duration) {
	m.metrics.OracleLatency.Observe(duration.Seconds())
}
