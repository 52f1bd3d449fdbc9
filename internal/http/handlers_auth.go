package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	apperrors "github.com/target/studyhub/internal/errors"
	"github.com/target/studyhub/internal/service"
)

// AuthServiceInterface is the subset of service.AuthService the gateway uses.
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (*service.CompleteLoginResult, error)
	PasswordLogin(ctx context.Context, email, password string) (*service.CompleteLoginResult, error)
	GetSession(ctx context.Context, sessionID string) (*domainauth.StoredSession, error)
	Snapshot(ctx context.Context, sessionID string) domainauth.Snapshot
	Me(ctx context.Context, sessionID string) (*service.MeResult, error)
	ResolveRole(ctx context.Context, sess *domainauth.Session) domainauth.RoleResult
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlers serves the /auth endpoints.
type AuthHandlers struct {
	Svc     AuthServiceInterface
	Logger  *slog.Logger
	Cookies cookieJar
	// SessionRetention extends the cookie past token expiry so refreshable
	// sessions survive until the server store drops them.
	SessionRetention time.Duration
}

// Login initiates the provider login flow.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = "/"
	}
	if safe := safeRedirectPath(redirectURI); safe != redirectURI {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_redirect_uri",
			Err:     errors.New("redirect_uri must be a same-origin relative path"),
		})
		return
	}

	res, err := h.Svc.BeginLogin(r.Context(), redirectURI)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin login failed", "error", err)
		WriteAppError(w, err)
		return
	}

	h.Cookies.set(w, r, stateCookieName, res.State, oauthCookieMaxAge)
	h.Cookies.set(w, r, nonceCookieName, res.Nonce, oauthCookieMaxAge)
	h.Cookies.set(w, r, redirectCookieName, url.QueryEscape(redirectURI), oauthCookieMaxAge)

	http.Redirect(w, r, res.AuthURL, http.StatusFound)
}

// Callback completes the provider login flow.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.clearOAuthCookies(w, r)
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "provider_error",
			Err:     errors.New(providerErr),
		})
		return
	}

	state := q.Get("state")
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("state mismatch"),
		})
		return
	}
	nonceCookie, err := r.Cookie(nonceCookieName)
	if err != nil || nonceCookie.Value == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_nonce",
			Err:     errors.New("nonce cookie missing"),
		})
		return
	}

	res, err := h.Svc.CompleteLogin(r.Context(), service.CompleteLoginInput{
		Code:  q.Get("code"),
		State: state,
		Nonce: nonceCookie.Value,
	})
	if err != nil {
		h.logger().WarnContext(r.Context(), "complete login failed", "error", err)
		h.clearOAuthCookies(w, r)
		WriteAppError(w, err)
		return
	}

	redirect := h.postLoginRedirect(r)
	h.clearOAuthCookies(w, r)
	h.setSessionCookie(w, r, res.Session)
	http.Redirect(w, r, redirect, http.StatusFound)
}

type passwordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordLogin signs in with email and password. It accepts JSON or a form
// post and answers with the new session snapshot.
func (h *AuthHandlers) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !DecodeJSON(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
			return
		}
		req.Email = r.PostForm.Get("email")
		req.Password = r.PostForm.Get("password")
	}

	res, err := h.Svc.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		if !apperrors.IsUnauthorized(err) && !apperrors.IsValidation(err) {
			h.logger().ErrorContext(r.Context(), "password login failed", "error", err)
		}
		WriteAppError(w, err)
		return
	}

	h.setSessionCookie(w, r, res.Session)
	sess := res.Session.Session
	WriteJSON(w, http.StatusOK, domainauth.Snapshot{Session: &sess})
}

// Logout ends the session. JSON clients get 204, browsers are redirected.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if id := sessionIDFromRequest(r); id != "" {
		if err := h.Svc.Logout(r.Context(), id); err != nil {
			h.logger().ErrorContext(r.Context(), "logout failed", "error", err)
		}
	}
	h.Cookies.clear(w, r, sessionCookieName)

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Session returns the initial auth snapshot. A signed-out snapshot also
// clears a stale session cookie.
func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)
	snap := h.Svc.Snapshot(r.Context(), id)
	if snap.Session == nil && id != "" {
		h.Cookies.clear(w, r, sessionCookieName)
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Me returns the signed-in identity with its resolved role.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	me, err := h.Svc.Me(r.Context(), sessionIDFromRequest(r))
	if err != nil {
		if apperrors.IsUnauthorized(err) {
			h.Cookies.clear(w, r, sessionCookieName)
		} else {
			h.logger().ErrorContext(r.Context(), "resolve me failed", "error", err)
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, me)
}

func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, r *http.Request, stored domainauth.StoredSession) {
	retention := time.Duration(0)
	if stored.Session.RefreshToken != "" {
		retention = h.SessionRetention
	}
	h.Cookies.set(w, r, sessionCookieName, stored.ID, sessionMaxAge(stored.Session.ExpiresAt, retention))
}

func (h *AuthHandlers) clearOAuthCookies(w http.ResponseWriter, r *http.Request) {
	h.Cookies.clear(w, r, stateCookieName)
	h.Cookies.clear(w, r, nonceCookieName)
	h.Cookies.clear(w, r, redirectCookieName)
}

func (h *AuthHandlers) postLoginRedirect(r *http.Request) string {
	c, err := r.Cookie(redirectCookieName)
	if err != nil || c.Value == "" {
		return "/"
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "/"
	}
	return safeRedirectPath(v)
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
