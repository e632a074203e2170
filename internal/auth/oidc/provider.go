package oidc

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gwlsn/heartbeat/internal/auth"
	"github.com/gwlsn/heartbeat/internal/logger"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/oauth2"
)

const (
	// GoogleIssuer is the OpenID issuer for Google accounts.
	GoogleIssuer = "https://accounts.google.com"

	defaultUserCookie    = "hb_user"
	defaultVisitorCookie = "hb_sid"
	defaultFlowTimeout   = 10 * time.Minute
	defaultSessionTTL    = 24 * time.Hour
	localPersistenceTTL  = 30 * 24 * time.Hour
)

// Config describes a Google sign-in client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Secret signs the user cookie.
	Secret string
	// AuthorizedDomains lists hosts allowed to start a sign-in. Empty means
	// any host.
	AuthorizedDomains []string
	// VisitorCookie names the cookie carrying the visitor id; callbacks must
	// come from the visitor that started the flow.
	VisitorCookie string
}

// claims are the verified identity fields of a completed sign-in.
type claims struct {
	Subject string
	Email   string
	Name    string
	Picture string
	Nonce   string
	Expiry  time.Time
}

// exchanger talks to the identity service.
type exchanger interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code string) (claims, error)
}

// googleExchanger runs the authorization code flow with go-oidc.
type googleExchanger struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

func (g *googleExchanger) AuthCodeURL(state, nonce string) string {
	return g.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (g *googleExchanger) Exchange(ctx context.Context, code string) (claims, error) {
	token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return claims{}, auth.NewError(CodeFromOAuth(retrieveErr.ErrorCode), err)
		}
		return claims{}, auth.NewError(auth.CodeNetworkRequestFailed, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return claims{}, auth.NewError(auth.CodeInvalidCredential, errors.New("missing id_token"))
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return claims{}, auth.NewError(auth.CodeInvalidCredential, err)
	}

	var raw struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&raw); err != nil {
		return claims{}, auth.NewError(auth.CodeInvalidCredential, err)
	}
	return claims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Name:    raw.Name,
		Picture: raw.Picture,
		Nonce:   idToken.Nonce,
		Expiry:  idToken.Expiry,
	}, nil
}

// Provider implements Google sign-in for every visitor of the process. It
// keeps the table of in-flight sign-in flows and signs the user cookie.
type Provider struct {
	exchanger     exchanger
	secret        []byte
	cookieName    string
	visitorCookie string
	authorized    map[string]struct{}
	flowTimeout   time.Duration
	sessionTTL    time.Duration
	now           func() time.Time

	mu    sync.Mutex
	flows map[string]*flow
}

// NewProvider discovers the issuer and builds a provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = GoogleIssuer
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	ex := &googleExchanger{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       normalizeScopes(cfg.Scopes),
			Endpoint:     provider.Endpoint(),
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}
	return newProvider(cfg, ex)
}

func newProvider(cfg Config, ex exchanger) (*Provider, error) {
	if cfg.Secret == "" {
		return nil, errors.New("google auth requires auth secret")
	}
	key, err := deriveKey(cfg.Secret, "heartbeat user cookie")
	if err != nil {
		return nil, err
	}

	authorized := make(map[string]struct{}, len(cfg.AuthorizedDomains))
	for _, domain := range cfg.AuthorizedDomains {
		domain = normalizeHost(domain)
		if domain == "" {
			continue
		}
		authorized[domain] = struct{}{}
	}

	visitorCookie := cfg.VisitorCookie
	if visitorCookie == "" {
		visitorCookie = defaultVisitorCookie
	}

	return &Provider{
		exchanger:     ex,
		secret:        key,
		cookieName:    defaultUserCookie,
		visitorCookie: visitorCookie,
		authorized:    authorized,
		flowTimeout:   defaultFlowTimeout,
		sessionTTL:    defaultSessionTTL,
		now:           time.Now,
		flows:         make(map[string]*flow),
	}, nil
}

func (c Config) validate() error {
	if c.ClientID == "" {
		return errors.New("google auth requires client_id")
	}
	if c.ClientSecret == "" {
		return errors.New("google auth requires client_secret")
	}
	if c.RedirectURL == "" {
		return errors.New("google auth requires redirect_url")
	}
	if c.Secret == "" {
		return errors.New("google auth requires auth secret")
	}
	return nil
}

// NewClient returns the identity client of one visitor, signed in already
// when r carries a valid user cookie.
func (p *Provider) NewClient(visitorID string, r *http.Request, sink auth.DirectiveSink) auth.IdentityProvider {
	var seed *auth.User
	if r != nil {
		if user, err := p.Authenticate(r); err == nil {
			seed = user
		}
	}
	return newClient(p, visitorID, seed, sink)
}

// Authenticate validates the user cookie and returns the signed-in user.
func (p *Provider) Authenticate(r *http.Request) (*auth.User, error) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil {
		return nil, err
	}

	payload, err := p.verifySignedValue(cookie.Value)
	if err != nil {
		return nil, err
	}

	var session sessionPayload
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	expiry := time.Unix(session.ExpiresAt, 0)
	if expiry.Before(p.now()) {
		return nil, errors.New("session expired")
	}
	return &auth.User{
		ID:      session.Subject,
		Email:   session.Email,
		Name:    session.Name,
		Picture: session.Picture,
	}, nil
}

// HandleCallback completes the flow named by the state parameter. Popup
// flows answer with a page that closes the window; redirect flows return to
// the application root. Sign-in failures travel to the waiting client, so
// only callbacks that match no flow produce an error here.
func (p *Provider) HandleCallback(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	f := p.takeFlow(query.Get("state"))
	if f == nil {
		return auth.ErrUnknownFlow
	}
	if cookie, err := r.Cookie(p.visitorCookie); err != nil ||
		subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(f.client.visitorID)) != 1 {
		f.client.complete(f, nil, auth.NewError(auth.CodeInvalidCredential, errors.New("sign-in started by another visitor")))
		return errors.New("invalid state")
	}

	user, err := p.finish(r.Context(), f, query.Get("code"), query.Get("error"))
	if err == nil && f.client.Persistence() != auth.PersistenceNone {
		if cookieErr := p.writeUserCookie(w, r, user, f.client.Persistence()); cookieErr != nil {
			logger.Warn("Failed to write user cookie", "error", cookieErr)
		}
	}
	f.client.complete(f, user, err)

	if f.mode == auth.DirectivePopup {
		return writeClosePage(w)
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

// ClearSession expires the user cookie.
func (p *Provider) ClearSession(w http.ResponseWriter, _ *http.Request) {
	clearCookie(w, p.cookieName)
}

func (p *Provider) finish(ctx context.Context, f *flow, code, oauthErr string) (*auth.User, error) {
	if oauthErr != "" {
		return nil, flowError(f.mode, oauthErr)
	}
	if f.expires.Before(p.now()) {
		return nil, auth.NewError(auth.CodeInternalError, errors.New("sign-in flow expired"))
	}
	if code == "" {
		return nil, auth.NewError(auth.CodeInvalidCredential, errors.New("missing code"))
	}

	c, err := p.exchanger.Exchange(ctx, code)
	if err != nil {
		if auth.CodeOf(err) == "" {
			err = auth.NewError(auth.CodeNetworkRequestFailed, err)
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Nonce), []byte(f.nonce)) != 1 {
		return nil, auth.NewError(auth.CodeInvalidCredential, errors.New("invalid nonce"))
	}

	return &auth.User{ID: c.Subject, Email: c.Email, Name: c.Name, Picture: c.Picture}, nil
}

// flowError maps an OAuth error parameter to a provider code. A denied
// consent screen reads as a closed popup in popup flows.
func flowError(mode auth.DirectiveKind, oauthErr string) error {
	if oauthErr == "access_denied" {
		if mode == auth.DirectivePopup {
			return auth.NewError(auth.CodePopupClosedByUser, errors.New(oauthErr))
		}
		return auth.NewError(auth.CodeUserCancelled, errors.New(oauthErr))
	}
	return auth.NewError(CodeFromOAuth(oauthErr), errors.New(oauthErr))
}

// CodeFromOAuth turns an OAuth error name into a provider code.
func CodeFromOAuth(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.CodeInternalError
	}
	return "auth/" + strings.ReplaceAll(name, "_", "-")
}

type flow struct {
	state   string
	nonce   string
	mode    auth.DirectiveKind
	client  *Client
	expires time.Time
	done    chan flowResult
}

type flowResult struct {
	user *auth.User
	err  error
}

// begin registers a flow for c and returns it with the URL the browser must
// open.
func (p *Provider) begin(c *Client, mode auth.DirectiveKind, host string) (*flow, string, error) {
	if !p.hostAuthorized(host) {
		return nil, "", auth.NewError(auth.CodeUnauthorizedDomain, fmt.Errorf("host %q is not authorized", host))
	}
	state, err := generateNonce()
	if err != nil {
		return nil, "", auth.NewError(auth.CodeInternalError, err)
	}
	nonce, err := generateNonce()
	if err != nil {
		return nil, "", auth.NewError(auth.CodeInternalError, err)
	}

	f := &flow{
		state:   state,
		nonce:   nonce,
		mode:    mode,
		client:  c,
		expires: p.now().Add(p.flowTimeout),
		done:    make(chan flowResult, 1),
	}

	p.mu.Lock()
	p.pruneLocked()
	p.flows[state] = f
	p.mu.Unlock()

	return f, p.exchanger.AuthCodeURL(state, nonce), nil
}

func (p *Provider) takeFlow(state string) *flow {
	if state == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.flows[state]
	if !ok {
		return nil
	}
	delete(p.flows, state)
	return f
}

func (p *Provider) dropFlow(state string) {
	p.mu.Lock()
	delete(p.flows, state)
	p.mu.Unlock()
}

func (p *Provider) pendingFlows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.flows)
}

func (p *Provider) pruneLocked() {
	now := p.now()
	for state, f := range p.flows {
		if f.expires.Before(now) {
			delete(p.flows, state)
		}
	}
}

func (p *Provider) hostAuthorized(host string) bool {
	if len(p.authorized) == 0 || host == "" {
		return true
	}
	_, ok := p.authorized[normalizeHost(host)]
	return ok
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

type sessionPayload struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

func (p *Provider) writeUserCookie(w http.ResponseWriter, r *http.Request, user *auth.User, persistence auth.Persistence) error {
	ttl := p.sessionTTL
	if persistence == auth.PersistenceLocal {
		ttl = localPersistenceTTL
	}
	expiry := p.now().Add(ttl)

	data, err := json.Marshal(sessionPayload{
		Subject:   user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Picture:   user.Picture,
		ExpiresAt: expiry.Unix(),
	})
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     p.cookieName,
		Value:    p.signValue(data),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	// Session persistence leaves the cookie without an expiry so the browser
	// drops it on close.
	if persistence == auth.PersistenceLocal {
		cookie.Expires = expiry
	}
	http.SetCookie(w, cookie)
	return nil
}

func (p *Provider) signValue(payload []byte) string {
	signature := hmac.New(sha256.New, p.secret)
	signature.Write(payload)
	sum := signature.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sum)
}

func (p *Provider) verifySignedValue(value string) ([]byte, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return nil, errors.New("invalid session format")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.New("invalid session payload")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid session signature")
	}
	expected := hmac.New(sha256.New, p.secret)
	expected.Write(payload)
	expectedSum := expected.Sum(nil)
	if subtle.ConstantTimeCompare(signature, expectedSum) != 1 {
		return nil, errors.New("invalid session signature")
	}
	return payload, nil
}

// deriveKey stretches the configured secret into a purpose-bound HMAC key.
func deriveKey(secret, purpose string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

func normalizeScopes(scopes []string) []string {
	hasOpenID := false
	normalized := make([]string, 0, len(scopes)+1)
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if scope == oidc.ScopeOpenID {
			hasOpenID = true
		}
		normalized = append(normalized, scope)
	}
	if len(normalized) == 0 {
		return []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if !hasOpenID {
		normalized = append([]string{oidc.ScopeOpenID}, normalized...)
	}
	return normalized
}

func generateNonce() (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(random), nil
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

var closePage = template.Must(template.New("close").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Signing in…</title></head>
<body><script>window.close();</script><p>You can close this window.</p></body></html>
`))

func writeClosePage(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	return closePage.Execute(w, nil)
}
