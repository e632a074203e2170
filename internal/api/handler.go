package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/config"
	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/metrics"
	"github.com/gwlsn/heartbeat/internal/session"
	"github.com/gwlsn/heartbeat/internal/toast"
)

// Handler serves the heartbeat page, its live streams and its JSON API.
type Handler struct {
	visitors *session.Manager
	backend  auth.Backend
	public   config.PublicConfig
	metrics  *metrics.Metrics

	keepalive time.Duration
}

// NewHandler creates a handler. mt may be nil.
func NewHandler(visitors *session.Manager, backend auth.Backend, public config.PublicConfig, mt *metrics.Metrics) *Handler {
	return &Handler{
		visitors:  visitors,
		backend:   backend,
		public:    public,
		metrics:   mt,
		keepalive: 30 * time.Second,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)

	r.Get("/", h.Page)
	r.Handle("/static/*", staticHandler())
	r.Get("/events", h.Events)
	r.Get("/ws", h.Socket)
	r.Post("/theme/toggle", h.ToggleTheme)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.LoginHandler(h.visitors))
		r.Post("/login", auth.LoginHandler(h.visitors))
		r.Post("/logout", auth.LogoutHandler(h.visitors, h.backend))
		r.Get("/callback", auth.CallbackHandler(h.backend))
		r.Post("/popup", auth.PopupHandler(h.visitors))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.NewMiddleware(h.visitors, auth.DefaultBypassPaths()).Wrap)
		r.Get("/state", h.State)
		r.Get("/me", h.Me)
		r.Post("/toasts", h.PushToast)
		r.Delete("/toasts", h.ClearToasts)
		r.Delete("/toasts/{id}", h.RemoveToast)
	})

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	return r
}

// State handles GET /api/state
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

// Me handles GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type pushToastRequest struct {
	Message   string     `json:"message"`
	Kind      toast.Kind `json:"kind"`
	Title     string     `json:"title,omitempty"`
	TimeoutMs int64      `json:"timeoutMs,omitempty"`
}

// PushToast handles POST /api/toasts
func (h *Handler) PushToast(w http.ResponseWriter, r *http.Request) {
	var req pushToastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Kind == "" {
		req.Kind = toast.KindInfo
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be success, error or info")
		return
	}

	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var opts []toast.PushOption
	if req.Title != "" {
		opts = append(opts, toast.WithTitle(req.Title))
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, toast.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	writeJSON(w, http.StatusCreated, v.Toasts.Push(req.Message, req.Kind, opts...))
}

// RemoveToast handles DELETE /api/toasts/{id}
func (h *Handler) RemoveToast(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	v.Toasts.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ClearToasts handles DELETE /api/toasts
func (h *Handler) ClearToasts(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	v.Toasts.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ToggleTheme handles POST /theme/toggle
func (h *Handler) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	next := v.Theme(w, r).Toggle()
	logger.Debug("Theme toggled", "visitor", v.ID, "theme", next)
	writeJSON(w, http.StatusOK, map[string]string{"theme": next.String()})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"visitors": h.visitors.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
