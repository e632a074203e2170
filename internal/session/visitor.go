// Package session keeps the per-browser state of the heartbeat server. Each
// visitor owns a toast manager, a sign-in facade and a local theme store,
// and fans their changes out as events to live streams.
package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/pubsub"
	"github.com/gwlsn/heartbeat/internal/theme"
	"github.com/gwlsn/heartbeat/internal/toast"
)

// EventType names the payload of an Event.
type EventType string

const (
	EventInit      EventType = "init"
	EventToasts    EventType = "toasts"
	EventAuth      EventType = "auth"
	EventDirective EventType = "directive"
	EventTheme     EventType = "theme"
)

// Event is one message on a visitor's live stream.
type Event struct {
	Type      EventType       `json:"type"`
	Toasts    []toast.Item    `json:"toasts"`
	Auth      *auth.State     `json:"auth,omitempty"`
	Directive *auth.Directive `json:"directive,omitempty"`
	Theme     theme.Theme     `json:"theme,omitempty"`
}

// Visitor is the server-side state of one browser session.
type Visitor struct {
	ID       string
	Toasts   *toast.Manager
	Auth     *auth.Session
	Identity auth.IdentityProvider
	Local    *theme.MemoryStore

	events    *pubsub.Broker[Event]
	wg        sync.WaitGroup
	closeOnce sync.Once
	onClose   func()
}

// newVisitor wires a visitor around the identity client returned by
// newIdentity. The client receives a sink that reaches the visitor's live
// streams.
func newVisitor(id string, newIdentity func(auth.DirectiveSink) auth.IdentityProvider, toastOpts []toast.Option, authOpts []auth.SessionOption) *Visitor {
	v := &Visitor{
		ID:     id,
		Local:  theme.NewMemoryStore(),
		events: pubsub.NewBroker[Event](),
	}
	v.Toasts = toast.NewManager(toastOpts...)
	v.Identity = newIdentity(v.deliver)
	v.Auth = auth.NewSession(v.Identity, v.Toasts, authOpts...)

	toasts := v.Toasts.Subscribe()
	states := v.Auth.Subscribe()
	v.wg.Add(2)
	go func() {
		defer v.wg.Done()
		for items := range toasts {
			v.events.Publish(Event{Type: EventToasts, Toasts: items})
		}
	}()
	go func() {
		defer v.wg.Done()
		for st := range states {
			st := st
			v.events.Publish(Event{Type: EventAuth, Auth: &st})
		}
	}()
	return v
}

// Init runs the sign-in facade's page-load step for request r.
func (v *Visitor) Init(ctx context.Context, r *http.Request) {
	v.Auth.Init(auth.WithRequestHost(ctx, r.Host))
}

// Theme returns a controller bound to r's cookies and the visitor's local
// store. Changes are published to live streams.
func (v *Visitor) Theme(w http.ResponseWriter, r *http.Request) *theme.Toggler {
	return theme.NewToggler(theme.PrefersDark(r), v.publishTheme, theme.NewCookieStore(w, r), v.Local)
}

// Snapshot returns the full state of the visitor. The theme is the value of
// the local store, seeded from the request that created the visitor.
func (v *Visitor) Snapshot() Event {
	st := v.Auth.State()
	return Event{
		Type:   EventInit,
		Toasts: v.Toasts.List(),
		Auth:   &st,
		Theme:  theme.Resolve("", v.Local.Load(), false),
	}
}

// Subscribe returns a channel of events published after the call.
func (v *Visitor) Subscribe() <-chan Event {
	return v.events.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (v *Visitor) Unsubscribe(ch <-chan Event) {
	v.events.Unsubscribe(ch)
}

// Listeners reports how many live streams are attached.
func (v *Visitor) Listeners() int {
	return v.events.Len()
}

// Close stops timers, detaches the identity listener and ends every live
// stream. It is safe to call more than once.
func (v *Visitor) Close() {
	v.closeOnce.Do(func() {
		v.Auth.Close()
		v.Toasts.Close()
		v.wg.Wait()
		v.events.Close()
		if v.onClose != nil {
			v.onClose()
		}
	})
}

// deliver is the directive sink handed to the identity client. It reports
// false when no live stream could carry the directive.
func (v *Visitor) deliver(d auth.Directive) bool {
	if v.events.Len() == 0 {
		return false
	}
	v.events.Publish(Event{Type: EventDirective, Directive: &d})
	return true
}

func (v *Visitor) publishTheme(t theme.Theme) {
	v.events.Publish(Event{Type: EventTheme, Theme: t})
}
