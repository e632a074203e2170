package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/metrics"
	"github.com/gwlsn/heartbeat/internal/theme"
	"github.com/gwlsn/heartbeat/internal/toast"
	"github.com/patrickmn/go-cache"
)

const (
	DefaultCookieName = "hb_sid"
	DefaultIdleTTL    = 30 * time.Minute
)

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName sets the visitor cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithIdleTTL sets how long an untouched visitor is kept.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

// WithToastMode selects the toast list discipline of new visitors.
func WithToastMode(mode toast.Mode) Option {
	return func(m *Manager) { m.toastMode = mode }
}

// WithToastOptions adds toast manager options for new visitors.
func WithToastOptions(opts ...toast.Option) Option {
	return func(m *Manager) { m.toastOpts = append(m.toastOpts, opts...) }
}

// WithMetrics records visitor, toast and sign-in metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager creates visitors on first contact and evicts them once idle.
type Manager struct {
	backend    auth.Backend
	cookieName string
	idleTTL    time.Duration
	toastMode  toast.Mode
	toastOpts  []toast.Option
	metrics    *metrics.Metrics

	mu       sync.Mutex
	visitors *cache.Cache
}

// NewManager returns a manager handing out identity clients from backend.
func NewManager(backend auth.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:    backend,
		cookieName: DefaultCookieName,
		idleTTL:    DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.visitors = cache.New(m.idleTTL, m.idleTTL/2)
	m.visitors.OnEvicted(func(id string, value interface{}) {
		if v, ok := value.(*Visitor); ok {
			logger.Debug("Visitor evicted", "visitor", id)
			v.Close()
		}
	})
	return m
}

// CookieName returns the visitor cookie name.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Visitor returns the visitor behind r, creating it and setting the visitor
// cookie on w when r carries none. Every call extends the visitor's idle
// lifetime.
func (m *Manager) Visitor(w http.ResponseWriter, r *http.Request) (*Visitor, error) {
	id := ""
	if c, err := r.Cookie(m.cookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if value, ok := m.visitors.Get(id); ok {
			m.visitors.SetDefault(id, value)
			return value.(*Visitor), nil
		}
		// Drop an expired entry the janitor has not collected yet.
		m.visitors.Delete(id)
	} else {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     m.cookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})
	}

	v := m.newVisitor(id, r)
	m.visitors.SetDefault(id, v)
	logger.Debug("Visitor created", "visitor", id)
	return v, nil
}

// Lookup returns a live visitor by id without creating one.
func (m *Manager) Lookup(id string) (*Visitor, bool) {
	value, ok := m.visitors.Get(id)
	if !ok {
		return nil, false
	}
	return value.(*Visitor), true
}

// Touch extends the idle lifetime of a live visitor.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.visitors.Get(id)
	if ok {
		m.visitors.SetDefault(id, value)
	}
	return ok
}

// Resolve implements auth.Resolver.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (*auth.Session, auth.IdentityProvider, error) {
	v, err := m.Visitor(w, r)
	if err != nil {
		return nil, nil, err
	}
	return v.Auth, v.Identity, nil
}

// Len reports the number of cached visitors.
func (m *Manager) Len() int {
	return m.visitors.ItemCount()
}

// Close evicts every visitor.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.visitors.Items() {
		m.visitors.Delete(id)
	}
}

func (m *Manager) newVisitor(id string, r *http.Request) *Visitor {
	toastOpts := append([]toast.Option{toast.WithMode(m.toastMode)}, m.toastOpts...)
	authOpts := []auth.SessionOption{auth.WithLogger(logger.With("component", "auth", "visitor", id))}
	if m.metrics != nil {
		toastOpts = append(toastOpts, toast.WithPushHook(func(it toast.Item) {
			m.metrics.ToastPushed(string(it.Kind))
		}))
		authOpts = append(authOpts,
			auth.WithSignInObserver(m.metrics.SignIn),
			auth.WithErrorObserver(m.metrics.AuthError),
		)
	}

	v := newVisitor(id, func(sink auth.DirectiveSink) auth.IdentityProvider {
		return m.backend.NewClient(id, r, sink)
	}, toastOpts, authOpts)

	if r != nil {
		v.Local.Save(theme.Resolve(theme.NewCookieStore(nil, r).Load(), "", theme.PrefersDark(r)))
	}

	m.metrics.VisitorOpened()
	v.onClose = m.metrics.VisitorClosed
	return v
}
