// Package theme resolves and persists the light/dark color theme.
package theme

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Theme is a color theme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

const (
	// CookieName is the cookie holding the theme.
	CookieName = "hb_theme"
	// StorageKey is the key of the theme in the visitor's local store.
	StorageKey = "hb_theme"

	// HintHeader is the client hint carrying the OS color preference.
	HintHeader = "Sec-CH-Prefers-Color-Scheme"

	cookieMaxAge = 365 * 24 * time.Hour
)

// Parse returns the theme named by s. ok is false for anything but "light"
// or "dark".
func Parse(s string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, true
	case Dark:
		return Dark, true
	}
	return "", false
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

func (t Theme) String() string { return string(t) }

// Resolve picks the initial theme. The saved value is the cookie when it is
// set and the local value otherwise; a saved value that is not a theme falls
// through to the OS preference without consulting the local value.
func Resolve(cookie, local string, prefersDark bool) Theme {
	saved := cookie
	if strings.TrimSpace(saved) == "" {
		saved = local
	}
	if t, ok := Parse(saved); ok {
		return t
	}
	if prefersDark {
		return Dark
	}
	return Light
}

// PrefersDark reports whether the request advertises a dark OS preference.
func PrefersDark(r *http.Request) bool {
	return strings.EqualFold(strings.Trim(r.Header.Get(HintHeader), `" `), "dark")
}

// AdvertiseHints asks the browser to send the color scheme hint.
func AdvertiseHints(w http.ResponseWriter) {
	w.Header().Add("Accept-CH", HintHeader)
	w.Header().Add("Critical-CH", HintHeader)
	w.Header().Add("Vary", HintHeader)
}

// Store persists a theme value.
type Store interface {
	Load() string
	Save(Theme)
}

// CookieStore reads the theme cookie from a request and writes it to a
// response.
type CookieStore struct {
	r *http.Request
	w http.ResponseWriter
}

// NewCookieStore returns a store bound to one request. w may be nil for a
// read-only store.
func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{r: r, w: w}
}

func (s *CookieStore) Load() string {
	if s.r == nil {
		return ""
	}
	c, err := s.r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *CookieStore) Save(t Theme) {
	if s.w == nil {
		return
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     CookieName,
		Value:    string(t),
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// MemoryStore is a key/value store standing in for the browser's local
// storage of one visitor.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Load() string {
	return s.Get(StorageKey)
}

func (s *MemoryStore) Save(t Theme) {
	s.Set(StorageKey, string(t))
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Controller exposes the current theme and flips it.
type Controller interface {
	Current() Theme
	Toggle() Theme
}

// Toggler is the interactive controller. It keeps every store in sync and
// calls apply after each change.
type Toggler struct {
	stores []Store
	apply  func(Theme)

	mu      sync.Mutex
	current Theme
}

// NewToggler resolves the initial theme from the first two stores and the
// OS preference, writes it back to every store and applies it.
func NewToggler(prefersDark bool, apply func(Theme), stores ...Store) *Toggler {
	var cookie, local string
	if len(stores) > 0 {
		cookie = stores[0].Load()
	}
	if len(stores) > 1 {
		local = stores[1].Load()
	}

	t := &Toggler{
		stores:  stores,
		apply:   apply,
		current: Resolve(cookie, local, prefersDark),
	}
	t.persist(t.current)
	return t
}

// Current returns the active theme.
func (t *Toggler) Current() Theme {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Toggle flips the theme, writes every store and applies the result.
func (t *Toggler) Toggle() Theme {
	t.mu.Lock()
	t.current = t.current.Toggle()
	next := t.current
	t.mu.Unlock()

	t.persist(next)
	return next
}

func (t *Toggler) persist(theme Theme) {
	for _, s := range t.stores {
		s.Save(theme)
	}
	if t.apply != nil {
		t.apply(theme)
	}
}

// Static is a controller with a fixed theme, used where nothing can be
// toggled.
type Static struct {
	Theme Theme
}

// Current returns the fixed theme, dark when unset.
func (s Static) Current() Theme {
	if s.Theme == "" {
		return Dark
	}
	return s.Theme
}

// Toggle does nothing and returns the fixed theme.
func (s Static) Toggle() Theme { return s.Current() }
