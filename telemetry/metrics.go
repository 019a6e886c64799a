// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesProcessed  prometheus.Counter
	MeowsRecorded      prometheus.Counter
	RepliesSent        prometheus.Counter
	RepliesSuppressed  prometheus.Counter
	JoinsAttempted     prometheus.Counter
	JoinsFailed        prometheus.Counter
	CoordinatorPolls   prometheus.Counter
	CoordinatorErrors  prometheus.Counter
	AuthorizationsDone prometheus.Counter

	// Histograms (seconds)
	RecordDuration prometheus.Observer
	PollDuration   prometheus.Observer

	// Gauges
	PendingQueueDepth prometheus.Gauge
	JoinedChannels    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_messages_processed_total", Help: "Number of inbound chat messages handled"})
		MeowsRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_occurrences_recorded_total", Help: "Number of meow occurrences persisted"})
		RepliesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_replies_sent_total", Help: "Number of acknowledgement replies sent"})
		RepliesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_replies_suppressed_total", Help: "Number of replies suppressed by the per-channel cooldown"})
		JoinsAttempted = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_channel_joins_attempted_total", Help: "Number of channel join attempts"})
		JoinsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_channel_joins_failed_total", Help: "Number of failed channel join attempts"})
		CoordinatorPolls = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_coordinator_polls_total", Help: "Number of coordinator pending-channels polls"})
		CoordinatorErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_coordinator_poll_errors_total", Help: "Number of failed coordinator polls"})
		AuthorizationsDone = promauto.NewCounter(prometheus.CounterOpts{Name: "meow_authorizations_total", Help: "Number of completed OAuth authorizations"})
		RecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meow_record_duration_seconds", Help: "RecordOccurrence transaction duration seconds", Buckets: prometheus.DefBuckets})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meow_poll_duration_seconds", Help: "Coordinator poll duration seconds", Buckets: prometheus.DefBuckets})
		PendingQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "meow_pending_queue_depth", Help: "Current number of pending channel joins"})
		JoinedChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "meow_joined_channels", Help: "Current number of joined channels"})
	})
}

// SetQueueDepth records the current pending-join count.
func SetQueueDepth(n int) {
	if PendingQueueDepth != nil {
		PendingQueueDepth.Set(float64(n))
	}
}

// SetJoinedChannels records the current joined-channel count.
func SetJoinedChannels(n int) {
	if JoinedChannels != nil {
		JoinedChannels.Set(float64(n))
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
