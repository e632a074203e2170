// Package metrics holds the Prometheus collectors of the heartbeat server.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heartbeat"

// Metrics groups the server's collectors.
type Metrics struct {
	ToastsPushed     *prometheus.CounterVec
	SignInAttempts   *prometheus.CounterVec
	AuthErrors       *prometheus.CounterVec
	ActiveVisitors   prometheus.Gauge
	LiveStreams      *prometheus.GaugeVec
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		ToastsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_pushed_total",
			Help:      "Toasts pushed by kind",
		}, []string{"kind"}),
		SignInAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_attempts_total",
			Help:      "Sign-in attempts by method and result",
		}, []string{"method", "result"}), // result: ok|error
		AuthErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_errors_total",
			Help:      "Sign-in failures by provider code",
		}, []string{"code"}),
		ActiveVisitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_visitors",
			Help:      "Visitors held in memory",
		}),
		LiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_streams",
			Help:      "Open event streams by transport",
		}, []string{"transport"}), // transport: sse|ws
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Register registers every collector on reg, or on the default registerer
// when reg is nil. A collector that is already registered is replaced by the
// registered one, so increments reach whatever reg exports.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	err := errors.Join(
		register(reg, &m.ToastsPushed),
		register(reg, &m.SignInAttempts),
		register(reg, &m.AuthErrors),
		register(reg, &m.ActiveVisitors),
		register(reg, &m.LiveStreams),
		register(reg, &m.HTTPRequests),
		register(reg, &m.HTTPRequestTimes),
	)
	if err != nil {
		return err
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ToastPushed counts a toast of kind.
func (m *Metrics) ToastPushed(kind string) {
	if m == nil {
		return
	}
	m.ToastsPushed.WithLabelValues(kind).Inc()
}

// SignIn counts a sign-in attempt.
func (m *Metrics) SignIn(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SignInAttempts.WithLabelValues(method, result).Inc()
}

// AuthError counts a reported sign-in failure.
func (m *Metrics) AuthError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.AuthErrors.WithLabelValues(code).Inc()
}

// VisitorOpened and VisitorClosed track the visitor gauge.
func (m *Metrics) VisitorOpened() {
	if m != nil {
		m.ActiveVisitors.Inc()
	}
}

func (m *Metrics) VisitorClosed() {
	if m != nil {
		m.ActiveVisitors.Dec()
	}
}

// StreamOpened marks an open live stream and returns the func closing it.
func (m *Metrics) StreamOpened(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.LiveStreams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// Middleware records request counts and latency labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestTimes.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
