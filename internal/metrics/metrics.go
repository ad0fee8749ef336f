// Package metrics registers the Prometheus instruments exposed on
// /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Volteec/VolteecBackend/internal/models"
)

var (
	pollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volteec_poll_total",
		Help: "NUT polls by outcome.",
	}, []string{"result"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volteec_poll_duration_seconds",
		Help:    "Wall-clock duration of a single-UPS poll including retries.",
		Buckets: prometheus.DefBuckets,
	})

	sseSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volteec_sse_subscribers",
		Help: "Live SSE subscriptions.",
	})

	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volteec_relay_requests_total",
		Help: "Relay calls by endpoint and outcome.",
	}, []string{"endpoint", "result"})

	upsStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volteec_ups_status",
		Help: "Canonical UPS status: 0 online, 1 on_battery, 2 ups_offline.",
	}, []string{"ups_id"})
)

// Handler serves the Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObservePoll(d time.Duration, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	pollTotal.WithLabelValues(result).Inc()
	pollDuration.Observe(d.Seconds())
}

func ObserveRelayRequest(endpoint string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	relayRequests.WithLabelValues(endpoint, result).Inc()
}

func SetSSESubscribers(n int) {
	sseSubscribers.Set(float64(n))
}

func SetUPSStatus(upsID string, status models.UPSStatus) {
	var v float64
	switch status {
	case models.StatusOnline:
		v = 0
	case models.StatusOnBattery:
		v = 1
	case models.StatusOffline:
		v = 2
	}
	upsStatus.WithLabelValues(upsID).Set(v)
}
