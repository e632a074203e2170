package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gwlsn/heartbeat/internal/logger"
	"github.com/gwlsn/heartbeat/internal/pubsub"
	"github.com/gwlsn/heartbeat/internal/toast"
)

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseListening
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name. Unknown names read as uninitialized.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "listening":
		*p = PhaseListening
	case "authenticated":
		*p = PhaseAuthenticated
	case "unauthenticated":
		*p = PhaseUnauthenticated
	default:
		*p = PhaseUninitialized
	}
	return nil
}

// State is a snapshot of a Session.
type State struct {
	Phase     Phase  `json:"phase"`
	User      *User  `json:"user"`
	Ready     bool   `json:"ready"`
	LastError string `json:"lastError,omitempty"`
}

// Notifier receives classified sign-in failures. *toast.Manager satisfies it.
type Notifier interface {
	Error(message string, opts ...toast.PushOption) toast.Item
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used for ignored failures.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSignInObserver registers fn to see every sign-in attempt: method is
// "popup" or "redirect", err is nil on success.
func WithSignInObserver(fn func(method string, err error)) SessionOption {
	return func(s *Session) { s.observe = fn }
}

// WithErrorObserver registers fn to see the code of every reported failure,
// including de-duplicated ones.
func WithErrorObserver(fn func(code string)) SessionOption {
	return func(s *Session) { s.observeError = fn }
}

// Session is the sign-in facade of one visitor. It tracks the user reported
// by the identity provider, flips Ready on the first report, and turns
// failures into de-duplicated error toasts.
type Session struct {
	provider IdentityProvider
	notifier Notifier
	log      *slog.Logger
	observe  func(method string, err error)

	observeError func(code string)

	listenOnce sync.Once

	mu          sync.Mutex
	initialized bool
	user        *User
	ready       bool
	lastError   string
	unsubscribe func()
	changes     *pubsub.Broker[State]
}

// NewSession creates an uninitialized facade over provider. notifier may be
// nil, in which case failures are only recorded.
func NewSession(provider IdentityProvider, notifier Notifier, opts ...SessionOption) *Session {
	s := &Session{
		provider: provider,
		notifier: notifier,
		log:      logger.With("component", "auth"),
		changes:  pubsub.NewBroker[State](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init runs on every page load. It attaches the state listener through
// Listen, then collects a pending redirect result and reports its failure.
func (s *Session) Init(ctx context.Context) {
	s.Listen(ctx)

	if _, err := s.provider.GetRedirectResult(ctx); err != nil {
		s.ReportError(err)
	}
}

// Listen switches the provider to local persistence and attaches the state
// listener. Only the first call does any work; concurrent callers block
// until the listener is attached, so User reflects the provider on return.
func (s *Session) Listen(ctx context.Context) {
	s.listenOnce.Do(func() {
		s.mu.Lock()
		s.initialized = true
		s.changes.Publish(s.stateLocked())
		s.mu.Unlock()

		if err := s.provider.SetPersistence(ctx, PersistenceLocal); err != nil {
			s.log.Debug("set persistence failed", "error", err)
		}
		unsubscribe := s.provider.OnAuthStateChanged(s.handleStateChange)
		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
	})
}

// LoginWithGoogle tries a popup sign-in and falls back to a full-page
// redirect when the popup cannot be shown. Failures are reported, never
// returned.
func (s *Session) LoginWithGoogle(ctx context.Context) {
	if err := s.provider.SetPersistence(ctx, PersistenceLocal); err != nil {
		s.log.Debug("set persistence failed", "error", err)
	}

	_, err := s.provider.SignInWithPopup(ctx)
	s.record("popup", err)
	if err == nil {
		return
	}

	code := CodeOf(err)
	if !fallsBackToRedirect(code) {
		s.ReportError(err)
		return
	}

	s.log.Debug("popup sign-in unavailable, redirecting", "code", code)
	err = s.provider.SignInWithRedirect(ctx)
	s.record("redirect", err)
	if err != nil {
		s.ReportError(err)
	}
}

// Logout signs the user out. Errors are returned to the caller.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// ReportError classifies err and surfaces it as an error toast unless the
// same message is already the last reported error. It returns the message.
func (s *Session) ReportError(err error) string {
	code := CodeOf(err)
	message := Classify(code)
	if s.observeError != nil {
		s.observeError(code)
	}

	s.mu.Lock()
	if s.lastError == message {
		s.mu.Unlock()
		return message
	}
	s.lastError = message
	s.changes.Publish(s.stateLocked())
	s.mu.Unlock()

	s.log.Info("sign-in failed", "code", code, "error", err)
	if s.notifier != nil {
		s.notifier.Error(message)
	}
	return message
}

// State returns a snapshot of the facade.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// User returns the signed-in user or nil.
func (s *Session) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Ready reports whether the provider has reported at least once.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Subscribe returns a channel of state snapshots, one per change.
func (s *Session) Subscribe() <-chan State {
	return s.changes.Subscribe()
}

// Unsubscribe releases a channel returned by Subscribe.
func (s *Session) Unsubscribe(ch <-chan State) {
	s.changes.Unsubscribe(ch)
}

// Close detaches the provider listener and closes subscriptions. A closed
// session never attaches a listener.
func (s *Session) Close() {
	s.listenOnce.Do(func() {})

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.changes.Close()
}

func (s *Session) handleStateChange(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
	if u != nil {
		s.lastError = ""
	}
	s.ready = true
	s.changes.Publish(s.stateLocked())
}

func (s *Session) stateLocked() State {
	st := State{User: s.user, Ready: s.ready, LastError: s.lastError}
	switch {
	case !s.initialized:
		st.Phase = PhaseUninitialized
	case !s.ready:
		st.Phase = PhaseListening
	case s.user != nil:
		st.Phase = PhaseAuthenticated
	default:
		st.Phase = PhaseUnauthenticated
	}
	return st
}

func (s *Session) record(method string, err error) {
	if s.observe != nil {
		s.observe(method, err)
	}
}
