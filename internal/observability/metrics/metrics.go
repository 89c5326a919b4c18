package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "powerwatch_"

	resultSuccess = "success"
	resultError   = "error"

	tickResultNoSample = "no_sample"

	deliveryResultSent      = "sent"
	deliveryResultFailed    = "failed"
	deliveryResultThrottled = "throttled"

	gaugeTimeout = 2 * time.Second
)

// UnnotifiedCounter reports how many events still wait for delivery.
type UnnotifiedCounter func(ctx context.Context) (int64, error)

var (
	registerOnce sync.Once

	tickTotal   *prometheus.CounterVec
	tickLatency *prometheus.HistogramVec

	anomalyEventsTotal *prometheus.CounterVec
	phaseVoltage       *prometheus.GaugeVec

	reportsTotal *prometheus.CounterVec

	dispatchTotal      *prometheus.CounterVec
	dispatchLatency    *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
	suppressedTotal    prometheus.Counter
)

// Init registers metrics. When unnotified is non-nil a gauge backed by it is
// registered too; it is evaluated on every scrape.
func Init(unnotified UnnotifiedCounter, logger *zap.Logger) {
	registerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
		tickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ticks_total",
				Help: "Total sampling ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Sampling tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		anomalyEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomaly_events_total",
				Help: "Total detected anomaly events by type",
			},
			[]string{"type"},
		)
		phaseVoltage = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "phase_voltage_volts",
				Help: "Last sampled voltage per phase",
			},
			[]string{"phase"},
		)

		reportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reports_total",
				Help: "Total materialized reports by granularity and persist result",
			},
			[]string{"granularity", "result"},
		)

		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_cycles_total",
				Help: "Total notification dispatch cycles by result",
			},
			[]string{"result"},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dispatch_latency_seconds",
				Help:    "Notification dispatch cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total per-recipient deliveries by kind, role and result",
			},
			[]string{"kind", "role", "result"},
		)
		suppressedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "suppressed_events_total",
				Help: "Total events marked notified without delivery",
			},
		)

		prometheus.MustRegister(
			tickTotal,
			tickLatency,
			anomalyEventsTotal,
			phaseVoltage,
			reportsTotal,
			dispatchTotal,
			dispatchLatency,
			notificationsTotal,
			suppressedTotal,
		)

		if unnotified != nil {
			registerLedgerMetrics(unnotified, logger)
		}
	})
}

func registerLedgerMetrics(unnotified UnnotifiedCounter, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "unnotified_events",
			Help: "Events recorded but not yet marked notified",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
			defer cancel()
			count, err := unnotified(ctx)
			if err != nil {
				logger.Warn("unnotified gauge query failed", zap.Error(err))
				return 0
			}
			return float64(count)
		},
	))
}

// ObserveTick records a sampling tick's latency and result.
func ObserveTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if tickTotal != nil {
		tickTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAnomalyEvent increments the detected event counter.
func IncAnomalyEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if anomalyEventsTotal != nil {
		anomalyEventsTotal.WithLabelValues(eventType).Inc()
	}
}

// SetPhaseVoltage publishes the last voltage of a one-based phase.
func SetPhaseVoltage(phase int, volts float64) {
	if phaseVoltage != nil {
		phaseVoltage.WithLabelValues(strconv.Itoa(phase)).Set(volts)
	}
}

// IncReport counts a materialized report.
func IncReport(granularity, result string) {
	if result == "" {
		result = resultSuccess
	}
	if reportsTotal != nil {
		reportsTotal.WithLabelValues(granularity, result).Inc()
	}
}

// ObserveDispatch records a dispatch cycle's latency and result.
func ObserveDispatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(result).Inc()
	}
	if dispatchLatency != nil {
		dispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncNotification counts one delivery attempt to one recipient.
func IncNotification(kind, role, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(kind, role, result).Inc()
	}
}

// AddSuppressed counts events marked notified without delivery.
func AddSuppressed(count int64) {
	if count <= 0 {
		return
	}
	if suppressedTotal != nil {
		suppressedTotal.Add(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	TickResultNoSample = tickResultNoSample

	DeliverySent      = deliveryResultSent
	DeliveryFailed    = deliveryResultFailed
	DeliveryThrottled = deliveryResultThrottled
)
