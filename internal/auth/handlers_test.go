package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type popupClient struct {
	*fakeProvider
	failed  []string
	pending bool
}

func (c *popupClient) FailPopup(code string) bool {
	c.failed = append(c.failed, code)
	return c.pending
}

type redirectClient struct {
	*fakeProvider
	url string
	err error
}

func (c *redirectClient) RedirectURL(context.Context) (string, error) {
	return c.url, c.err
}

func TestLoginHandlerPost(t *testing.T) {
	p := newFakeProvider()
	p.popupUser = &User{ID: "u1", Name: "Ada"}
	session := NewSession(p, nil)
	h := LoginHandler(&fakeResolver{session: session, client: p})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.User == nil || st.User.ID != "u1" || !st.Ready {
		t.Fatalf("state = %+v", st)
	}
}

func TestLoginHandlerGetRedirects(t *testing.T) {
	client := &redirectClient{fakeProvider: newFakeProvider(), url: "https://accounts.example/auth?state=x"}
	session := NewSession(client, nil)
	h := LoginHandler(&fakeResolver{session: session, client: client})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != client.url {
		t.Fatalf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestLoginHandlerGetReportsStartFailure(t *testing.T) {
	client := &redirectClient{fakeProvider: newFakeProvider(), err: NewError(CodeUnauthorizedDomain, nil)}
	n := &fakeNotifier{}
	session := NewSession(client, n)
	h := LoginHandler(&fakeResolver{session: session, client: client})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if rec.Header().Get("Location") != "/" {
		t.Fatalf("location = %q, want /", rec.Header().Get("Location"))
	}
	if got := n.Messages(); len(got) != 1 || got[0] != MessageUnauthorizedDomain {
		t.Fatalf("toasts = %v", got)
	}
}

func TestLogoutHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := newFakeProvider()
		session := NewSession(p, nil)
		rec := httptest.NewRecorder()
		LogoutHandler(&fakeResolver{session: session, client: p}, NewDevBackend()).
			ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("provider failure is returned", func(t *testing.T) {
		p := newFakeProvider()
		p.signOutErr = errors.New("revocation endpoint down")
		n := &fakeNotifier{}
		session := NewSession(p, n)
		rec := httptest.NewRecorder()
		LogoutHandler(&fakeResolver{session: session, client: p}, nil).
			ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "revocation endpoint down") {
			t.Errorf("body = %q", rec.Body.String())
		}
		if len(n.Messages()) != 0 {
			t.Errorf("sign-out failure must not toast")
		}
	})
}

func TestPopupHandler(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		pending    bool
		wantStatus int
	}{
		{"blocked", CodePopupBlocked, true, http.StatusNoContent},
		{"closed", CodePopupClosedByUser, true, http.StatusNoContent},
		{"nothing pending", CodePopupBlocked, false, http.StatusConflict},
		{"unsupported code", CodeUnauthorizedDomain, true, http.StatusBadRequest},
		{"empty code", "", true, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &popupClient{fakeProvider: newFakeProvider(), pending: tt.pending}
			h := PopupHandler(&fakeResolver{session: NewSession(client, nil), client: client})

			form := url.Values{"code": {tt.code}}
			req := httptest.NewRequest(http.MethodPost, "/auth/popup", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestPopupHandlerWithoutReporter(t *testing.T) {
	p := newFakeProvider()
	h := PopupHandler(&fakeResolver{session: NewSession(p, nil), client: p})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/popup?code=auth/popup-blocked", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCallbackHandlerNilBackend(t *testing.T) {
	rec := httptest.NewRecorder()
	CallbackHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
