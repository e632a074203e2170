package auth

import (
	"encoding/json"
	"net/http"
)

// CallbackHandler handles identity provider callbacks.
func CallbackHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if backend == nil {
			http.NotFound(w, r)
			return
		}
		if err := backend.HandleCallback(w, r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}

// LoginHandler starts a sign-in. POST runs the popup-then-redirect flow and
// answers with the resulting state once it settles. GET is the plain link
// fallback and always navigates the whole page.
func LoginHandler(resolver Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, client, err := resolver.Resolve(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ctx := WithRequestHost(r.Context(), r.Host)
		session.Init(ctx)

		if r.Method == http.MethodPost {
			session.LoginWithGoogle(ctx)
			writeJSON(w, http.StatusOK, session.State())
			return
		}

		starter, ok := client.(RedirectStarter)
		if !ok {
			session.LoginWithGoogle(ctx)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		target, err := starter.RedirectURL(ctx)
		if err != nil {
			session.ReportError(err)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// LogoutHandler signs the visitor out. A provider failure is returned to the
// caller as a 500 and the session cookie is left in place.
func LogoutHandler(resolver Resolver, backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _, err := resolver.Resolve(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := session.Logout(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if backend != nil {
			backend.ClearSession(w, r)
		}
		writeJSON(w, http.StatusOK, session.State())
	}
}

// PopupHandler receives popup failures seen by the browser, for example a
// window blocked by the browser or closed by the user.
func PopupHandler(resolver Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, client, err := resolver.Resolve(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		reporter, ok := client.(PopupReporter)
		if !ok {
			http.NotFound(w, r)
			return
		}
		code := r.FormValue("code")
		if !IsBrowserPopupCode(code) {
			http.Error(w, "unsupported popup code", http.StatusBadRequest)
			return
		}
		if !reporter.FailPopup(code) {
			http.Error(w, "no pending popup", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// IsBrowserPopupCode reports whether code is a popup failure the browser
// itself can observe.
func IsBrowserPopupCode(code string) bool {
	switch code {
	case CodePopupBlocked, CodePopupClosedByUser, CodeOperationNotSupported:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
