// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll tick results used as the "result" label of PollTicks.
const (
	TickOK      = "ok"
	TickEmpty   = "empty"
	TickBackoff = "backoff"
	TickAuth    = "auth"
	TickError   = "error"
)

var (
	once sync.Once

	// Counters
	PollTicks           *prometheus.CounterVec
	SessionsDetected    prometheus.Counter
	AnnouncementsSent   prometheus.Counter
	AnnouncementsFailed prometheus.Counter
	SinkFailures        *prometheus.CounterVec
	LedgerPruned        prometheus.Counter
	TokenRefreshes      *prometheus.CounterVec

	// Histograms (seconds)
	PollDuration prometheus.Observer

	// Gauges
	TrackedGauge        prometheus.Gauge
	LiveGauge           prometheus.Gauge
	LedgerEntriesGauge  prometheus.Gauge
	SchedulerStateGauge prometheus.Gauge // 0=idle,1=polling,2=backing off
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_poll_ticks_total", Help: "Poll ticks by result"}, []string{"result"})
		SessionsDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_sessions_detected_total", Help: "New live sessions recorded in the ledger"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_announcements_sent_total", Help: "Announcements delivered"})
		AnnouncementsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_announcements_failed_total", Help: "Announcements that failed to deliver"})
		SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_sink_failures_total", Help: "Send failures per sink"}, []string{"sink"})
		LedgerPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_ledger_pruned_total", Help: "Stale ledger entries removed"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "herald_token_refreshes_total", Help: "App token acquisitions by result"}, []string{"result"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_poll_duration_seconds", Help: "Duration of a poll tick (fetch + detect)", Buckets: prometheus.DefBuckets})
		TrackedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_tracked_broadcasters", Help: "Number of tracked broadcasters"})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_live_broadcasters", Help: "Tracked broadcasters live at the last successful tick"})
		LedgerEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_ledger_entries", Help: "Entries in the session ledger after the last prune"})
		SchedulerStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_scheduler_state", Help: "Scheduler state idle=0 polling=1 backing_off=2"})
	})
}

// ObserveTick counts a finished poll tick.
func ObserveTick(result string) {
	if PollTicks != nil {
		PollTicks.WithLabelValues(result).Inc()
	}
}

// ObservePollDuration records how long a fetch took.
func ObservePollDuration(d time.Duration) {
	if PollDuration != nil {
		PollDuration.Observe(d.Seconds())
	}
}

// SetTracked records the tracked-set size.
func SetTracked(n int) {
	if TrackedGauge != nil {
		TrackedGauge.Set(float64(n))
	}
}

// SetLive records how many tracked broadcasters were live.
func SetLive(n int) {
	if LiveGauge != nil {
		LiveGauge.Set(float64(n))
	}
}

// SetSchedulerState records the scheduler state as its numeric value.
func SetSchedulerState(v int) {
	if SchedulerStateGauge != nil {
		SchedulerStateGauge.Set(float64(v))
	}
}

// AddSessions counts newly recorded sessions.
func AddSessions(n int) {
	if SessionsDetected != nil && n > 0 {
		SessionsDetected.Add(float64(n))
	}
}

// ObserveSend counts one announcement outcome.
func ObserveSend(ok bool) {
	if ok {
		if AnnouncementsSent != nil {
			AnnouncementsSent.Inc()
		}
		return
	}
	if AnnouncementsFailed != nil {
		AnnouncementsFailed.Inc()
	}
}

// ObserveSinkFailure counts a failure of a single sink.
func ObserveSinkFailure(sink string) {
	if SinkFailures != nil {
		SinkFailures.WithLabelValues(sink).Inc()
	}
}

// ObservePrune records a prune pass.
func ObservePrune(removed, remaining int) {
	if LedgerPruned != nil && removed > 0 {
		LedgerPruned.Add(float64(removed))
	}
	if LedgerEntriesGauge != nil && remaining >= 0 {
		LedgerEntriesGauge.Set(float64(remaining))
	}
}

// ObserveTokenRefresh counts an app token acquisition attempt.
func ObserveTokenRefresh(ok bool) {
	if TokenRefreshes == nil {
		return
	}
	if ok {
		TokenRefreshes.WithLabelValues("ok").Inc()
	} else {
		TokenRefreshes.WithLabelValues("error").Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
