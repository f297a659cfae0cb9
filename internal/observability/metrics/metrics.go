package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "cyclerhub_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestRejected *prometheus.CounterVec

	devicesOnline prometheus.Gauge
	devicesKnown  prometheus.Gauge

	statusTransitions *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	sweepEvictions    prometheus.Counter

	broadcastDeliveries *prometheus.CounterVec
	broadcastDropped    *prometheus.CounterVec

	historyTrims prometheus.Counter
)

// Init registers observability metrics once per process.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingested snapshots by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Snapshot ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshots_rejected_total",
				Help: "Total rejected snapshots by reason",
			},
			[]string{"reason"},
		)

		devicesOnline = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_online",
				Help: "Devices currently flagged online",
			},
		)
		devicesKnown = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_known",
				Help: "Devices currently tracked, online or offline",
			},
		)

		statusTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Device online/offline transitions by direction",
			},
			[]string{"to"},
		)
		sweepDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "liveness_sweep_duration_seconds",
				Help:    "Liveness sweep cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		sweepEvictions = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_evictions_total",
				Help: "Devices evicted after the inactivity window",
			},
		)

		broadcastDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_deliveries_total",
				Help: "Broadcast deliveries by event and result",
			},
			[]string{"event", "result"},
		)
		broadcastDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Broadcast events dropped before dispatch by event",
			},
			[]string{"event"},
		)

		historyTrims = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_trims_total",
				Help: "Maintenance passes that trimmed device histories",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			ingestRejected,
			devicesOnline,
			devicesKnown,
			statusTransitions,
			sweepDuration,
			sweepEvictions,
			broadcastDeliveries,
			broadcastDropped,
			historyTrims,
		)
	})
}

// ObserveIngest records one ingest attempt.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRejected increments the rejection counter for a reason class.
func IncRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestRejected != nil {
		ingestRejected.WithLabelValues(reason).Inc()
	}
}

// SetDeviceGauges publishes the current fleet counts.
func SetDeviceGauges(online, known int) {
	if devicesOnline != nil {
		devicesOnline.Set(float64(online))
	}
	if devicesKnown != nil {
		devicesKnown.Set(float64(known))
	}
}

// IncStatusTransition counts a transition, direction "online" or "offline".
func IncStatusTransition(to string) {
	if statusTransitions != nil {
		statusTransitions.WithLabelValues(to).Inc()
	}
}

// ObserveSweep records one sweep cycle duration.
func ObserveSweep(duration time.Duration) {
	if sweepDuration != nil {
		sweepDuration.Observe(duration.Seconds())
	}
}

// AddEvictions counts devices purged by the sweep.
func AddEvictions(count int) {
	if count <= 0 {
		return
	}
	if sweepEvictions != nil {
		sweepEvictions.Add(float64(count))
	}
}

// ObserveBroadcast records a delivery attempt outcome.
func ObserveBroadcast(event, result string) {
	if broadcastDeliveries != nil {
		broadcastDeliveries.WithLabelValues(event, result).Inc()
	}
}

// IncBroadcastDropped counts events dropped before dispatch.
func IncBroadcastDropped(event string) {
	if broadcastDropped != nil {
		broadcastDropped.WithLabelValues(event).Inc()
	}
}

// IncHistoryTrim counts a maintenance trim pass.
func IncHistoryTrim() {
	if historyTrims != nil {
		historyTrims.Inc()
	}
}

// Exported result constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
