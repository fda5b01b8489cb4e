package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renodectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "renodectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	receiverConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "renodectl",
			Subsystem: "receiver",
			Name:      "open_connections",
			Help:      "Currently connected firmware clients.",
		},
	)
	receiverPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renodectl",
			Subsystem: "receiver",
			Name:      "packets_total",
			Help:      "Frames handled by the receiver, by outcome.",
		},
		[]string{"outcome", "reason"},
	)
	receiverBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "renodectl",
			Subsystem: "receiver",
			Name:      "bytes_total",
			Help:      "Frame bytes read from firmware clients.",
		},
	)
	storeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "renodectl",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Failed reading inserts.",
		},
	)
	firmwareSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renodectl",
			Subsystem: "firmware",
			Name:      "sends_total",
			Help:      "Firmware emulator packet sends, by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			receiverConnections,
			receiverPackets,
			receiverBytes,
			storeErrors,
			firmwareSends,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func ConnectionOpened() {
	RegisterMetrics()
	receiverConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	receiverConnections.Dec()
}

// RecordPacket counts one frame; reason is "ok" for accepted frames.
func RecordPacket(accepted bool, reason string, size int) {
	RegisterMetrics()
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	receiverPackets.WithLabelValues(outcome, reason).Inc()
	if size > 0 {
		receiverBytes.Add(float64(size))
	}
}

func RecordStoreError() {
	RegisterMetrics()
	storeErrors.Inc()
}

func RecordFirmwareSend(ok bool) {
	RegisterMetrics()
	firmwareSends.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
