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
	RoundTransitions *prometheus.CounterVec
	RoundConflicts   *prometheus.CounterVec
	AutoLocks        prometheus.Counter
	VotesRecorded    *prometheus.CounterVec
	PredictionCalls  *prometheus.CounterVec

	// Histograms (seconds)
	OperationDuration *prometheus.HistogramVec

	// Gauges
	QueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RoundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "show_round_transitions_total", Help: "Committed round transitions by operation"}, []string{"op"})
		RoundConflicts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "show_round_conflicts_total", Help: "Round commits rejected because of a concurrent writer"}, []string{"op"})
		AutoLocks = promauto.NewCounter(prometheus.CounterOpts{Name: "show_auto_locks_total", Help: "Rounds locked on read after the timer ran out"})
		VotesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "show_votes_recorded_total", Help: "Ballots accepted by source"}, []string{"source"})
		PredictionCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "show_prediction_calls_total", Help: "Prediction service calls by action and result"}, []string{"action", "result"})
		OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "show_operation_duration_seconds", Help: "Show operation duration seconds", Buckets: prometheus.DefBuckets}, []string{"op"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "show_queue_depth", Help: "Items waiting in the queue"})
	})
}

// RecordTransition counts a committed transition.
func RecordTransition(op string) {
	if RoundTransitions != nil {
		RoundTransitions.WithLabelValues(op).Inc()
	}
}

// RecordConflict counts a lost compare-and-swap.
func RecordConflict(op string) {
	if RoundConflicts != nil {
		RoundConflicts.WithLabelValues(op).Inc()
	}
}

// RecordAutoLock counts a round locked by a read.
func RecordAutoLock() {
	if AutoLocks != nil {
		AutoLocks.Inc()
	}
}

// RecordVote counts an accepted ballot from source (judge, audience, chat).
func RecordVote(source string) {
	if VotesRecorded != nil {
		VotesRecorded.WithLabelValues(source).Inc()
	}
}

// RecordPredictionCall counts a prediction hook outcome.
func RecordPredictionCall(action string, err error) {
	if PredictionCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	PredictionCalls.WithLabelValues(action, result).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// ObserveSince records the time elapsed since start for op.
func ObserveSince(op string, start time.Time) time.Duration {
	d := time.Since(start)
	if OperationDuration != nil {
		OperationDuration.WithLabelValues(op).Observe(d.Seconds())
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

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	return WithCorr(ctx, slog.Default())
}

// WithCorr decorates base with the correlation id carried by ctx.
func WithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
