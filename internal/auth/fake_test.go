package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/gwlsn/heartbeat/internal/toast"
)

// fakeProvider is a scriptable IdentityProvider that records calls.
type fakeProvider struct {
	mu sync.Mutex

	persistErr      error
	popupUser       *User
	popupErr        error
	redirectErr     error
	signOutErr      error
	redirectUser    *User
	redirectResult  error
	cached          *User
	fireOnSignIn    bool
	calls           []string
	listeners       map[int]func(*User)
	nextListenerID  int
	attachedCounter int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(*User)), fireOnSignIn: true}
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) SetPersistence(_ context.Context, p Persistence) error {
	f.record("persistence:" + string(p))
	return f.persistErr
}

func (f *fakeProvider) SignInWithPopup(context.Context) (*User, error) {
	f.record("popup")
	if f.popupErr != nil {
		return nil, f.popupErr
	}
	if f.fireOnSignIn {
		f.emit(f.popupUser)
	}
	return f.popupUser, nil
}

func (f *fakeProvider) SignInWithRedirect(context.Context) error {
	f.record("redirect")
	return f.redirectErr
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.record("signout")
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.emit(nil)
	return nil
}

func (f *fakeProvider) OnAuthStateChanged(fn func(*User)) func() {
	f.record("listen")
	f.mu.Lock()
	id := f.nextListenerID
	f.nextListenerID++
	f.listeners[id] = fn
	f.attachedCounter++
	cached := f.cached
	f.mu.Unlock()

	fn(cached)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeProvider) GetRedirectResult(context.Context) (*User, error) {
	f.record("redirect-result")
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.redirectUser, f.redirectResult
	f.redirectUser, f.redirectResult = nil, nil
	return u, err
}

func (f *fakeProvider) emit(u *User) {
	f.mu.Lock()
	f.cached = u
	fns := make([]func(*User), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func (f *fakeProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// fakeNotifier records error toasts.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Error(message string, _ ...toast.PushOption) toast.Item {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return toast.Item{Message: message, Kind: toast.KindError}
}

func (n *fakeNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// fakeResolver hands out a fixed session and client.
type fakeResolver struct {
	session *Session
	client  IdentityProvider
	err     error
}

func (r *fakeResolver) Resolve(http.ResponseWriter, *http.Request) (*Session, IdentityProvider, error) {
	return r.session, r.client, r.err
}
