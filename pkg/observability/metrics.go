package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication and authorization
	AuthenticationFailuresTotal *prometheus.CounterVec
	AuthorizationDecisionsTotal *prometheus.CounterVec

	// Subscription limits
	LimitChecksTotal        *prometheus.CounterVec
	LimitCheckFailOpenTotal *prometheus.CounterVec

	// Invitations
	InvitationTransitionsTotal *prometheus.CounterVec
	InvitationRemindersTotal   prometheus.Counter
	WebhookDeliveriesTotal     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calltracker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthenticationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_authentication_failures_total",
				Help: "Requests rejected during authentication",
			},
			[]string{"reason"},
		),
		AuthorizationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_authorization_decisions_total",
				Help: "Authorization decisions by check kind and outcome",
			},
			[]string{"check", "outcome"},
		),

		LimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_limit_checks_total",
				Help: "Subscription limit checks by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),
		LimitCheckFailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_limit_check_fail_open_total",
				Help: "Limit checks allowed because usage could not be measured",
			},
			[]string{"resource"},
		),

		InvitationTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_invitation_transitions_total",
				Help: "Invitation state transitions by target status",
			},
			[]string{"status"},
		),
		InvitationRemindersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "calltracker_invitation_reminders_total",
				Help: "Invitation reminders sent",
			},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_webhook_deliveries_total",
				Help: "Outbound webhook deliveries by event type and outcome",
			},
			[]string{"event", "outcome"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calltracker_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthenticationFailuresTotal,
		m.AuthorizationDecisionsTotal,
		m.LimitChecksTotal,
		m.LimitCheckFailOpenTotal,
		m.InvitationTransitionsTotal,
		m.InvitationRemindersTotal,
		m.WebhookDeliveriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StorageErrorsTotal,
	)

	return m
}

// The recorders below are safe to call on a nil *Metrics.

// AuthenticationFailed counts a rejected credential
func (m *Metrics) AuthenticationFailed(reason string) {
	if m == nil {
		return
	}
	m.AuthenticationFailuresTotal.WithLabelValues(reason).Inc()
}

// AuthorizationDecision counts an allow or deny
func (m *Metrics) AuthorizationDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.AuthorizationDecisionsTotal.WithLabelValues(check, outcome).Inc()
}

// LimitCheck counts a limit check outcome
func (m *Metrics) LimitCheck(resource, outcome string) {
	if m == nil {
		return
	}
	m.LimitChecksTotal.WithLabelValues(resource, outcome).Inc()
}

// LimitFailOpen counts a limit check that passed because counting failed
func (m *Metrics) LimitFailOpen(resource string) {
	if m == nil {
		return
	}
	m.LimitCheckFailOpenTotal.WithLabelValues(resource).Inc()
	m.LimitChecksTotal.WithLabelValues(resource, "fail_open").Inc()
}

// InvitationTransition counts an invitation entering status
func (m *Metrics) InvitationTransition(status string) {
	if m == nil {
		return
	}
	m.InvitationTransitionsTotal.WithLabelValues(status).Inc()
}

// InvitationReminder counts a reminder send
func (m *Metrics) InvitationReminder() {
	if m == nil {
		return
	}
	m.InvitationRemindersTotal.Inc()
}

// WebhookDelivery counts a finished webhook delivery
func (m *Metrics) WebhookDelivery(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(event, outcome).Inc()
}

// CacheHit counts a hit in the given tier (l1, l2)
func (m *Metrics) CacheHit(cache, tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache, tier).Inc()
}

// CacheMiss counts a miss across all tiers
func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// StorageError counts a failed storage operation
func (m *Metrics) StorageError(operation string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(operation).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Routes are labelled with the
// mux path template so IDs and tokens never become label values.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry on /metrics
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
