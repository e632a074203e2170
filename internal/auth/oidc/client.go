package oidc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gwlsn/heartbeat/internal/auth"
)

const defaultPopupTimeout = 5 * time.Minute

// Client is one visitor's Google sign-in handle. Sign-in URLs reach the
// browser through the directive sink; the provider's callback completes the
// flow.
type Client struct {
	provider     *Provider
	visitorID    string
	sink         auth.DirectiveSink
	popupTimeout time.Duration

	mu          sync.Mutex
	user        *auth.User
	persistence auth.Persistence
	popup       *flow
	redirect    *flowResult
	listeners   map[int]func(*auth.User)
	nextID      int
}

var (
	_ auth.IdentityProvider = (*Client)(nil)
	_ auth.RedirectStarter  = (*Client)(nil)
	_ auth.PopupReporter    = (*Client)(nil)
)

func newClient(p *Provider, visitorID string, seed *auth.User, sink auth.DirectiveSink) *Client {
	if sink == nil {
		sink = func(auth.Directive) bool { return false }
	}
	return &Client{
		provider:     p,
		visitorID:    visitorID,
		sink:         sink,
		popupTimeout: defaultPopupTimeout,
		user:         seed,
		persistence:  auth.PersistenceLocal,
		listeners:    make(map[int]func(*auth.User)),
	}
}

// SetPersistence selects how the signed-in user is stored after the next
// sign-in.
func (c *Client) SetPersistence(_ context.Context, p auth.Persistence) error {
	switch p {
	case auth.PersistenceLocal, auth.PersistenceSession, auth.PersistenceNone:
	default:
		return auth.NewError(auth.CodeInvalidPersistenceType, nil)
	}
	c.mu.Lock()
	c.persistence = p
	c.mu.Unlock()
	return nil
}

// Persistence returns the current persistence mode.
func (c *Client) Persistence() auth.Persistence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistence
}

// SignInWithPopup asks the browser to open the consent page in a popup and
// waits for the callback. A newer popup cancels an older one.
func (c *Client) SignInWithPopup(ctx context.Context) (*auth.User, error) {
	f, url, err := c.provider.begin(c, auth.DirectivePopup, auth.RequestHost(ctx))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous := c.popup
	c.popup = f
	c.mu.Unlock()
	if previous != nil {
		c.provider.dropFlow(previous.state)
		previous.resolve(nil, auth.NewError(auth.CodeCancelledPopupRequest, nil))
	}

	if !c.sink(auth.Directive{Kind: auth.DirectivePopup, URL: url}) {
		c.abandon(f)
		return nil, auth.NewError(auth.CodeOperationNotSupported, errors.New("no browser channel"))
	}

	timer := time.NewTimer(c.popupTimeout)
	defer timer.Stop()

	select {
	case res := <-f.done:
		return res.user, res.err
	case <-ctx.Done():
		c.abandon(f)
		return nil, auth.NewError(auth.CodePopupClosedByUser, ctx.Err())
	case <-timer.C:
		c.abandon(f)
		return nil, auth.NewError(auth.CodePopupClosedByUser, errors.New("popup timed out"))
	}
}

// SignInWithRedirect navigates the browser to the consent page. The outcome
// is available from GetRedirectResult after the callback.
func (c *Client) SignInWithRedirect(ctx context.Context) error {
	url, err := c.RedirectURL(ctx)
	if err != nil {
		return err
	}
	if !c.sink(auth.Directive{Kind: auth.DirectiveRedirect, URL: url}) {
		return auth.NewError(auth.CodeOperationNotSupported, errors.New("no browser channel"))
	}
	return nil
}

// RedirectURL registers a redirect flow and returns its consent page URL.
func (c *Client) RedirectURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", auth.NewError(auth.CodeNetworkRequestFailed, err)
	}
	_, url, err := c.provider.begin(c, auth.DirectiveRedirect, auth.RequestHost(ctx))
	return url, err
}

// FailPopup ends the pending popup with code. It reports false when no
// popup is pending.
func (c *Client) FailPopup(code string) bool {
	c.mu.Lock()
	f := c.popup
	c.popup = nil
	c.mu.Unlock()
	if f == nil {
		return false
	}
	c.provider.dropFlow(f.state)
	f.resolve(nil, auth.NewError(code, nil))
	return true
}

// SignOut forgets the signed-in user.
func (c *Client) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return auth.NewError(auth.CodeNetworkRequestFailed, err)
	}
	c.setUser(nil)
	return nil
}

// OnAuthStateChanged registers fn and calls it with the current user.
func (c *Client) OnAuthStateChanged(fn func(*auth.User)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := c.user
	c.mu.Unlock()

	fn(current)
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// GetRedirectResult returns the outcome of the last redirect callback once.
func (c *Client) GetRedirectResult(context.Context) (*auth.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.redirect
	c.redirect = nil
	if res == nil {
		return nil, nil
	}
	return res.user, res.err
}

// complete is called by the provider once the callback of f has been
// handled.
func (c *Client) complete(f *flow, user *auth.User, err error) {
	if err == nil && user != nil {
		c.setUser(user)
	}

	if f.mode == auth.DirectivePopup {
		c.mu.Lock()
		if c.popup == f {
			c.popup = nil
		}
		c.mu.Unlock()
		f.resolve(user, err)
		return
	}

	c.mu.Lock()
	c.redirect = &flowResult{user: user, err: err}
	c.mu.Unlock()
}

func (c *Client) abandon(f *flow) {
	c.provider.dropFlow(f.state)
	c.mu.Lock()
	if c.popup == f {
		c.popup = nil
	}
	c.mu.Unlock()
}

func (c *Client) setUser(u *auth.User) {
	c.mu.Lock()
	c.user = u
	fns := make([]func(*auth.User), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// resolve delivers the outcome of f at most once.
func (f *flow) resolve(user *auth.User, err error) {
	select {
	case f.done <- flowResult{user: user, err: err}:
	default:
	}
}
