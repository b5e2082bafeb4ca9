package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veracity"

// Collector owns the service's Prometheus registry. It records HTTP traffic
// and implements service.SettlementRecorder for the epoch scheduler.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	epochNumber        prometheus.Gauge
	epochPhase         *prometheus.GaugeVec
	settlementsTotal   *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	settlementRetries  prometheus.Counter
	publishFailures    prometheus.Counter
	submissionsTotal   *prometheus.CounterVec
	serviceInfo        *prometheus.GaugeVec
}

func NewCollector(version, commit string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	c.epochNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "epoch_number",
		Help:      "Epoch the scheduler is currently in",
	})
	c.epochPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_phase",
			Help:      "1 for the scheduler's current phase, 0 otherwise",
		},
		[]string{"phase"},
	)
	c.settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlements by final status",
		},
		[]string{"status"},
	)
	c.settlementDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Wall time of one content settlement including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})
	c.settlementRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_failed_attempts_total",
		Help:      "Settlement attempts that returned an error",
	})
	c.publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_event_publish_failures_total",
		Help:      "Settlement events that could not be published",
	})
	c.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts by outcome",
		},
		[]string{"outcome"},
	)
	c.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_info",
			Help:      "Service information",
		},
		[]string{"version", "commit"},
	)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.epochNumber,
		c.epochPhase,
		c.settlementsTotal,
		c.settlementDuration,
		c.settlementRetries,
		c.publishFailures,
		c.submissionsTotal,
		c.serviceInfo,
	)
	c.serviceInfo.WithLabelValues(version, commit).Set(1)

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Submission counts a submit attempt; outcome is "created", "replaced" or an
// error class such as "epoch_closed".
func (c *Collector) Submission(outcome string) {
	c.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) EpochPhase(phase domain.EpochPhase, epoch uint64) {
	c.epochNumber.Set(float64(epoch))
	for _, p := range []domain.EpochPhase{domain.EpochOpen, domain.EpochClosing, domain.EpochSettled} {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.epochPhase.WithLabelValues(string(p)).Set(v)
	}
}

func (c *Collector) SettlementFinished(status domain.SettlementStatus, elapsed time.Duration) {
	c.settlementsTotal.WithLabelValues(string(status)).Inc()
	c.settlementDuration.Observe(elapsed.Seconds())
}

func (c *Collector) SettlementRetried() {
	c.settlementRetries.Inc()
}

func (c *Collector) PublishFailed() {
	c.publishFailures.Inc()
}
