package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Events handles GET /events (SSE endpoint)
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	// Get flusher
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so no change falls in between
	eventCh := v.Subscribe()
	defer v.Unsubscribe(eventCh)
	defer h.metrics.StreamOpened("sse")()

	// Send initial state
	initialData, _ := json.Marshal(v.Snapshot())
	fmt.Fprintf(w, "data: %s\n\n", initialData)
	flusher.Flush()

	// Periodic keepalive to prevent proxy/load balancer timeouts.
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			h.visitors.Touch(v.ID)
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
