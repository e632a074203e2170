package api

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gwlsn/heartbeat/internal/config"
	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/session"
	"github.com/gwlsn/heartbeat/internal/theme"
)

//go:embed web
var webFS embed.FS

var pageTemplate = template.Must(template.ParseFS(webFS, "web/index.html"))

type pageData struct {
	Title  string
	Theme  theme.Theme
	Public config.PublicConfig
	State  session.Event
}

// Page handles GET /. Every load resolves a pending redirect sign-in and
// writes the resolved theme back to the cookie and the visitor store.
// Speculative loads render the fixed default theme and touch neither. The
// live stream delivers the real state once the page is shown.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var controller theme.Controller = theme.Static{}
	if !isPrefetch(r) {
		v.Init(r.Context(), r)
		theme.AdvertiseHints(w)
		controller = v.Theme(w, r)
	}
	current := controller.Current()

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{
		Title:  "Text Converter",
		Theme:  current,
		Public: h.public,
		State:  v.Snapshot(),
	}); err != nil {
		logger.Error("Failed to render page", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// isPrefetch reports whether r is a speculative load the user has not seen.
func isPrefetch(r *http.Request) bool {
	for _, h := range []string{"Sec-Purpose", "Purpose"} {
		if strings.Contains(strings.ToLower(r.Header.Get(h)), "prefetch") {
			return true
		}
	}
	return false
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
