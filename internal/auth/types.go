package auth

import (
	"context"
	"net/http"
)

// User represents an authenticated user.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Persistence controls how long a signed-in user survives.
type Persistence string

const (
	// PersistenceLocal keeps the user across browser restarts.
	PersistenceLocal Persistence = "local"
	// PersistenceSession keeps the user until the browser closes.
	PersistenceSession Persistence = "session"
	// PersistenceNone keeps the user only in server memory.
	PersistenceNone Persistence = "none"
)

// IdentityProvider is one visitor's handle on an external identity service.
// Every blocking call honours ctx; failures carry a provider code readable
// with CodeOf.
type IdentityProvider interface {
	SetPersistence(ctx context.Context, p Persistence) error
	SignInWithPopup(ctx context.Context) (*User, error)
	SignInWithRedirect(ctx context.Context) error
	SignOut(ctx context.Context) error
	// OnAuthStateChanged calls fn with the current user right away and again
	// on every change until the returned func is called.
	OnAuthStateChanged(fn func(*User)) (unsubscribe func())
	// GetRedirectResult returns and forgets the outcome of the last
	// completed redirect flow. It returns nil, nil when there is none.
	GetRedirectResult(ctx context.Context) (*User, error)
}

// DirectiveKind names a browser-side action requested by a provider.
type DirectiveKind string

const (
	DirectivePopup    DirectiveKind = "popup"
	DirectiveRedirect DirectiveKind = "redirect"
)

// Directive asks the browser to open URL in a popup or navigate to it.
type Directive struct {
	Kind DirectiveKind `json:"kind"`
	URL  string        `json:"url"`
}

// DirectiveSink delivers a directive to the visitor's browser and reports
// whether anything was listening.
type DirectiveSink func(Directive) bool

// Backend is a process-wide identity service that hands out one
// IdentityProvider per visitor.
type Backend interface {
	NewClient(visitorID string, r *http.Request, sink DirectiveSink) IdentityProvider
	HandleCallback(w http.ResponseWriter, r *http.Request) error
	ClearSession(w http.ResponseWriter, r *http.Request)
}

// RedirectStarter is implemented by clients that can begin a full-page
// sign-in without a live browser channel.
type RedirectStarter interface {
	RedirectURL(ctx context.Context) (string, error)
}

// PopupReporter is implemented by clients that accept popup failures
// observed by the browser, such as a blocked window.
type PopupReporter interface {
	FailPopup(code string) bool
}

type hostKey struct{}

// WithRequestHost records the host the sign-in was started from.
func WithRequestHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, hostKey{}, host)
}

// RequestHost returns the host stored by WithRequestHost.
func RequestHost(ctx context.Context) string {
	host, _ := ctx.Value(hostKey{}).(string)
	return host
}
