// Package metrics exposes Prometheus collectors for the API, the change-event
// bus, notifications and the admin function.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec

	NotificationsTotal *prometheus.CounterVec
	AdminActionsTotal  *prometheus.CounterVec

	InvitationsPurgedTotal prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pentestdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pentestdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pentestdesk_realtime_events_published_total",
			Help: "Change events published per table",
		}, []string{"table"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pentestdesk_realtime_events_dropped_total",
			Help: "Change events dropped for slow subscribers",
		}, []string{"table"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pentestdesk_notifications_total",
			Help: "Notifications folded into user lists",
		}, []string{"type"}),
		AdminActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pentestdesk_admin_actions_total",
			Help: "Admin function invocations by action and status",
		}, []string{"action", "status"}),
		InvitationsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pentestdesk_invitations_purged_total",
			Help: "Expired invitations removed by the purge job",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.EventsPublishedTotal, m.EventsDroppedTotal,
		m.NotificationsTotal, m.AdminActionsTotal, m.InvitationsPurgedTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPublished(table string) { m.EventsPublishedTotal.WithLabelValues(table).Inc() }
func (m *Metrics) EventDropped(table string)   { m.EventsDroppedTotal.WithLabelValues(table).Inc() }

func (m *Metrics) NotificationFolded(kind string) { m.NotificationsTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) AdminAction(action string, status int) {
	if action == "" {
		action = "unknown"
	}
	m.AdminActionsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

func (m *Metrics) InvitationsPurged(n int64) { m.InvitationsPurgedTotal.Add(float64(n)) }

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
