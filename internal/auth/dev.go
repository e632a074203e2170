package auth

import (
	"context"
	"net/http"
	"sync"
)

// DevBackend signs every visitor in as one fixed local user without talking
// to any identity service. It exists for local development and tests.
type DevBackend struct {
	user User
}

// NewDevBackend returns a backend whose clients sign in as a local user.
func NewDevBackend() *DevBackend {
	return &DevBackend{user: User{ID: "dev", Email: "dev@localhost", Name: "Heartbeat Developer"}}
}

// NewClient returns an offline identity client.
func (b *DevBackend) NewClient(_ string, _ *http.Request, _ DirectiveSink) IdentityProvider {
	return NewDevClient(b.user)
}

// HandleCallback is a no-op; dev sign-in never leaves the page.
func (b *DevBackend) HandleCallback(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

// ClearSession is a no-op; dev users are not persisted in cookies.
func (b *DevBackend) ClearSession(http.ResponseWriter, *http.Request) {}

// DevClient is an in-memory IdentityProvider.
type DevClient struct {
	identity User

	mu          sync.Mutex
	user        *User
	persistence Persistence
	pending     *User
	listeners   map[int]func(*User)
	nextID      int
}

// NewDevClient creates a signed-out client that signs in as identity.
func NewDevClient(identity User) *DevClient {
	return &DevClient{
		identity:    identity,
		persistence: PersistenceLocal,
		listeners:   make(map[int]func(*User)),
	}
}

// SetPersistence records p.
func (c *DevClient) SetPersistence(_ context.Context, p Persistence) error {
	switch p {
	case PersistenceLocal, PersistenceSession, PersistenceNone:
	default:
		return NewError(CodeInvalidPersistenceType, nil)
	}
	c.mu.Lock()
	c.persistence = p
	c.mu.Unlock()
	return nil
}

// SignInWithPopup signs in immediately.
func (c *DevClient) SignInWithPopup(ctx context.Context) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(CodePopupClosedByUser, err)
	}
	u := c.identity
	c.setUser(&u)
	return &u, nil
}

// SignInWithRedirect signs in and leaves the user as the redirect result.
func (c *DevClient) SignInWithRedirect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(CodeNetworkRequestFailed, err)
	}
	u := c.identity
	c.mu.Lock()
	c.pending = &u
	c.mu.Unlock()
	c.setUser(&u)
	return nil
}

// SignOut clears the user.
func (c *DevClient) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setUser(nil)
	return nil
}

// OnAuthStateChanged registers fn and calls it with the current user.
func (c *DevClient) OnAuthStateChanged(fn func(*User)) func() {
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

// GetRedirectResult returns the user of the last redirect sign-in once.
func (c *DevClient) GetRedirectResult(context.Context) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.pending
	c.pending = nil
	return u, nil
}

func (c *DevClient) setUser(u *User) {
	c.mu.Lock()
	c.user = u
	fns := make([]func(*User), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
