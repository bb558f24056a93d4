// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Monitor metrics
	NotificationsReceived prometheus.Counter
	BuysObserved          *prometheus.CounterVec
	TransactionsDropped   *prometheus.CounterVec
	MonitorRestarts       prometheus.Counter
	MonitorMode           *prometheus.GaugeVec

	// Round metrics
	RoundsClosed       *prometheus.CounterVec
	CurrentRound       prometheus.Gauge
	LeaderboardSize    prometheus.Gauge
	RoundCloseDuration prometheus.Histogram

	// Payout metrics
	PayoutsTotal    *prometheus.CounterVec
	RewardsPaidSOL  prometheus.Counter
	TreasuryBalance prometheus.Gauge
	PayoutDuration  prometheus.Histogram

	// Config metrics
	ConfigUpdates  *prometheus.CounterVec
	ListenerErrors prometheus.Counter

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Storage metrics
	PersistErrors   *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Notification metrics
	NotifyErrors *prometheus.CounterVec
	WSClients    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer), namespace)
}

func newMetrics(f promauto.Factory, namespace string) *Metrics {
	if namespace == "" {
		namespace = "buymax"
	}

	return &Metrics{
		// Monitor metrics
		NotificationsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received",
		}),
		BuysObserved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "buys_observed_total",
			Help:      "Total number of buy events emitted by source",
		}, []string{"source"}),
		TransactionsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transactions_dropped_total",
			Help:      "Total number of notifications that produced no buy event, by reason",
		}, []string{"reason"}),
		MonitorRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "restarts_total",
			Help:      "Total number of monitor restarts",
		}),
		MonitorMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "mode",
			Help:      "1 for the active monitor mode, 0 otherwise",
		}, []string{"mode"}),

		// Round metrics
		RoundsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "closed_total",
			Help:      "Total number of closed rounds by outcome",
		}, []string{"outcome"}),
		CurrentRound: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "current_number",
			Help:      "Number of the currently open round",
		}),
		LeaderboardSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "leaderboard_size",
			Help:      "Distinct wallets in the current round",
		}),
		RoundCloseDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "close_duration_seconds",
			Help:      "Time spent closing a round including payout",
			Buckets:   []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		// Payout metrics
		PayoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "attempts_total",
			Help:      "Total number of payout attempts by status",
		}, []string{"status"}),
		RewardsPaidSOL: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "rewards_paid_sol_total",
			Help:      "Total SOL paid out to winners",
		}),
		TreasuryBalance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "treasury_balance_sol",
			Help:      "Last observed treasury balance in SOL",
		}),
		PayoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "duration_seconds",
			Help:      "Time from payout start to confirmation or failure",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		// Config metrics
		ConfigUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "updates_total",
			Help:      "Total number of config update attempts by status",
		}, []string{"status"}),
		ListenerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "listener_errors_total",
			Help:      "Total number of config listener failures",
		}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Latency of Solana RPC calls",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		// Storage metrics
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_errors_total",
			Help:      "Total number of failed writes by target",
		}, []string{"target"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Notification metrics
		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sink_errors_total",
			Help:      "Total number of failed event deliveries by sink",
		}, []string{"sink"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "ws_clients",
			Help:      "Connected WebSocket observers",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordNotification increments the notifications received counter.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
}

// RecordBuy increments the buy counter for source ("chain" or "simulated").
func RecordBuy(source string) {
	DefaultMetrics.BuysObserved.WithLabelValues(source).Inc()
}

// RecordDropped records a notification that produced no buy event.
func RecordDropped(reason string) {
	DefaultMetrics.TransactionsDropped.WithLabelValues(reason).Inc()
}

// RecordMonitorRestart increments the restart counter.
func RecordMonitorRestart() {
	DefaultMetrics.MonitorRestarts.Inc()
}

// SetMonitorMode marks mode as the active one.
func SetMonitorMode(mode string) {
	for _, m := range []string{"stopped", "subscribed", "simulated"} {
		v := 0.0
		if m == mode {
			v = 1
		}
		DefaultMetrics.MonitorMode.WithLabelValues(m).Set(v)
	}
}

// RecordRoundClosed records a closed round.
func RecordRoundClosed(outcome string, durationSeconds float64) {
	DefaultMetrics.RoundsClosed.WithLabelValues(outcome).Inc()
	DefaultMetrics.RoundCloseDuration.Observe(durationSeconds)
}

// SetCurrentRound updates the current round gauge.
func SetCurrentRound(n int64) {
	DefaultMetrics.CurrentRound.Set(float64(n))
}

// SetLeaderboardSize updates the leaderboard size gauge.
func SetLeaderboardSize(n int) {
	DefaultMetrics.LeaderboardSize.Set(float64(n))
}

// RecordPayout records a payout attempt and, on success, the SOL paid.
func RecordPayout(status string, rewardSOL float64, durationSeconds float64) {
	DefaultMetrics.PayoutsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.PayoutDuration.Observe(durationSeconds)
	if rewardSOL > 0 {
		DefaultMetrics.RewardsPaidSOL.Add(rewardSOL)
	}
}

// SetTreasuryBalance updates the treasury balance gauge.
func SetTreasuryBalance(sol float64) {
	DefaultMetrics.TreasuryBalance.Set(sol)
}

// RecordConfigUpdate records a config update attempt.
func RecordConfigUpdate(status string) {
	DefaultMetrics.ConfigUpdates.WithLabelValues(status).Inc()
}

// RecordListenerError increments the config listener error counter.
func RecordListenerError() {
	DefaultMetrics.ListenerErrors.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordPersistError records a failed write for target (config, state, history).
func RecordPersistError(target string) {
	DefaultMetrics.PersistErrors.WithLabelValues(target).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordNotifyError records a failed delivery to sink.
func RecordNotifyError(sink string) {
	DefaultMetrics.NotifyErrors.WithLabelValues(sink).Inc()
}

// SetWSClients updates the connected WebSocket observers gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}
