package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestRegisterAdoptsExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := New().Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
	m.ToastPushed("info")
	m.VisitorOpened()

	if got := counterValue(t, reg, "heartbeat_toasts_pushed_total", map[string]string{"kind": "info"}); got != 1 {
		t.Errorf("toasts info = %v, want 1", got)
	}
	if got := counterValue(t, reg, "heartbeat_active_visitors", nil); got != 1 {
		t.Errorf("active visitors = %v, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}

	m.ToastPushed("error")
	m.ToastPushed("error")
	m.SignIn("popup", nil)
	m.SignIn("popup", errors.New("blocked"))
	m.AuthError("")
	m.VisitorOpened()
	m.VisitorOpened()
	m.VisitorClosed()
	done := m.StreamOpened("sse")

	if got := counterValue(t, reg, "heartbeat_toasts_pushed_total", map[string]string{"kind": "error"}); got != 2 {
		t.Errorf("toasts error = %v, want 2", got)
	}
	if got := counterValue(t, reg, "heartbeat_signin_attempts_total", map[string]string{"method": "popup", "result": "error"}); got != 1 {
		t.Errorf("sign-in errors = %v, want 1", got)
	}
	if got := counterValue(t, reg, "heartbeat_auth_errors_total", map[string]string{"code": "unknown"}); got != 1 {
		t.Errorf("auth errors = %v, want 1", got)
	}
	if got := counterValue(t, reg, "heartbeat_active_visitors", nil); got != 1 {
		t.Errorf("active visitors = %v, want 1", got)
	}
	if got := counterValue(t, reg, "heartbeat_live_streams", map[string]string{"transport": "sse"}); got != 1 {
		t.Errorf("live streams = %v, want 1", got)
	}
	done()
	if got := counterValue(t, reg, "heartbeat_live_streams", map[string]string{"transport": "sse"}); got != 0 {
		t.Errorf("live streams after close = %v, want 0", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ToastPushed("info")
	m.SignIn("popup", nil)
	m.AuthError("auth/x")
	m.VisitorOpened()
	m.VisitorClosed()
	m.StreamOpened("ws")()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Delete("/api/toasts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/toasts/"+id, nil))
	}

	labels := map[string]string{"method": "DELETE", "route": "/api/toasts/{id}", "status": "204"}
	if got := counterValue(t, reg, "heartbeat_http_requests_total", labels); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "heartbeat_http_requests_total") {
		t.Error("metrics handler should expose request counter")
	}
}
