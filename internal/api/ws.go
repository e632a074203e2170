package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// socketCommand is a message sent by the browser over /ws.
type socketCommand struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// Socket handles GET /ws. It streams the same events as /events and accepts
// toast and popup commands.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	v, err := h.visitors.Visitor(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		return
	}
	defer conn.Close()

	eventCh := v.Subscribe()
	defer v.Unsubscribe(eventCh)
	defer h.metrics.StreamOpened("ws")()

	done := make(chan struct{})
	defer close(done)

	go h.writeEvents(conn, v, eventCh, done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		h.visitors.Touch(v.ID)
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd socketCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.runCommand(v, cmd)
	}
}

func (h *Handler) writeEvents(conn *websocket.Conn, v *session.Visitor, eventCh <-chan session.Event, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(payload any) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(payload) == nil
	}

	if !write(v.Snapshot()) {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "visitor expired"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !write(event) {
				return
			}
		}
	}
}

func (h *Handler) runCommand(v *session.Visitor, cmd socketCommand) {
	switch cmd.Type {
	case "toast.remove":
		v.Toasts.Remove(cmd.ID)
	case "toast.clear":
		v.Toasts.Clear()
	case "popup.failed":
		reporter, ok := v.Identity.(auth.PopupReporter)
		if !ok || !auth.IsBrowserPopupCode(cmd.Code) {
			return
		}
		reporter.FailPopup(cmd.Code)
	default:
		logger.Debug("Unknown socket command", "visitor", v.ID, "type", cmd.Type)
	}
}

// sameOrigin accepts requests without an Origin header and those whose
// Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
