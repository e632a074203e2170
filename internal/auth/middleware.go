package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// Resolver finds the sign-in facade and identity client of the visitor
// behind a request, creating the visitor when needed.
type Resolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (*Session, IdentityProvider, error)
}

// Middleware enforces sign-in for incoming requests.
type Middleware struct {
	Resolver    Resolver
	BypassPaths []string
}

// DefaultBypassPaths returns API endpoints that work while signed out.
func DefaultBypassPaths() []string {
	return []string{"/api/state", "/api/toasts*"}
}

// NewMiddleware creates an auth middleware.
func NewMiddleware(resolver Resolver, bypassPaths []string) *Middleware {
	return &Middleware{Resolver: resolver, BypassPaths: bypassPaths}
}

// Wrap wraps an HTTP handler with sign-in enforcement. The signed-in user is
// available to next through UserFromContext.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Resolver == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.shouldBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		session, _, err := m.Resolver.Resolve(w, r)
		if err == nil {
			session.Listen(WithRequestHost(r.Context(), r.Host))
			if user := session.User(); user != nil {
				ctx := context.WithValue(r.Context(), contextKey{}, user)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		if isAPIRequest(r.URL.Path) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})
}

// UserFromContext returns the authenticated user if present.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok
}

func (m *Middleware) shouldBypass(path string) bool {
	for _, bypass := range m.BypassPaths {
		if bypass == path {
			return true
		}
		if strings.HasSuffix(bypass, "*") {
			prefix := strings.TrimSuffix(bypass, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}

func isAPIRequest(path string) bool {
	if path == "/api" {
		return true
	}
	return strings.HasPrefix(path, "/api/")
}
