package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sms_dispatch"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	smsSentTotal          *prometheus.CounterVec
	smsFailedTotal        *prometheus.CounterVec
	smsSendDuration       *prometheus.HistogramVec
	smsCostTotal          *prometheus.CounterVec
	rateLimitDeniedTotal  *prometheus.CounterVec
	rateLimitBackendTotal *prometheus.CounterVec
	dlrProcessedTotal     *prometheus.CounterVec
	logsPurgedTotal       prometheus.Counter
	providerBalance       *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		smsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_sent_total",
				Help:      "Total number of SMS accepted by a provider.",
			},
			[]string{"provider", "category"},
		),
		smsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_failed_total",
				Help:      "Total number of SMS sends that failed, by error code.",
			},
			[]string{"provider", "code"},
		),
		smsSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sms_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		smsCostTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_cost_total",
				Help:      "Accumulated SMS cost by provider and currency.",
			},
			[]string{"provider", "currency"},
		),
		rateLimitDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_denied_total",
				Help:      "Total number of sends refused by a quota rule.",
			},
			[]string{"rule"},
		),
		rateLimitBackendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_backend_errors_total",
				Help:      "Total number of rate limiter backend failures served by the fallback.",
			},
			[]string{"rule"},
		),
		dlrProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dlr_processed_total",
				Help:      "Delivery reports processed by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		logsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_logs_purged_total",
				Help:      "Delivery log rows deleted by the retention sweeper.",
			},
		),
		providerBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_balance",
				Help:      "Last observed provider balance.",
			},
			[]string{"provider", "currency"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.smsSentTotal,
		m.smsFailedTotal,
		m.smsSendDuration,
		m.smsCostTotal,
		m.rateLimitDeniedTotal,
		m.rateLimitBackendTotal,
		m.dlrProcessedTotal,
		m.logsPurgedTotal,
		m.providerBalance,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSMSSent(provider, category string) {
	if m == nil {
		return
	}
	m.smsSentTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(category)).Inc()
}

func (m *Metrics) IncSMSFailed(provider, code string) {
	if m == nil {
		return
	}
	m.smsFailedTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(code)).Inc()
}

func (m *Metrics) ObserveSMSSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.smsSendDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) AddSMSCost(provider, currency string, cost float64) {
	if m == nil || cost <= 0 {
		return
	}
	m.smsCostTotal.WithLabelValues(normalizeLabel(provider), strings.ToUpper(normalizeLabel(currency))).Add(cost)
}

func (m *Metrics) IncRateLimitDenied(rule string) {
	if m == nil {
		return
	}
	m.rateLimitDeniedTotal.WithLabelValues(normalizeLabel(rule)).Inc()
}

func (m *Metrics) IncRateLimitBackendError(rule string) {
	if m == nil {
		return
	}
	m.rateLimitBackendTotal.WithLabelValues(normalizeLabel(rule)).Inc()
}

func (m *Metrics) IncDLRProcessed(provider, outcome string) {
	if m == nil {
		return
	}
	m.dlrProcessedTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddLogsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.logsPurgedTotal.Add(float64(n))
}

func (m *Metrics) SetProviderBalance(provider, currency string, balance float64) {
	if m == nil {
		return
	}
	m.providerBalance.WithLabelValues(normalizeLabel(provider), strings.ToUpper(normalizeLabel(currency))).Set(balance)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
