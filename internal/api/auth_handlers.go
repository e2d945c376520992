package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"docuchat/internal/auth"
	"docuchat/internal/auth/oidc"
)

const (
	stateCookieName   = "oidc_state"
	stateCookiePath   = "/api/v1/auth/"
	stateCookieMaxAge = 600 // 10 minutes
)

// userView is the JSON shape of a user in auth responses. Roles are public;
// the permission set is derived server-side and never serialized.
type userView struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
}

func viewOfUser(u *auth.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Roles:       auth.RolesToStrings(u.Roles),
	}
}

type loginResult struct {
	Success   bool     `json:"success"`
	User      userView `json:"user"`
	ExpiresIn int64    `json:"expires_in"`
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	return s.cookie.Secure || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// handleLogin starts the authorization-code flow.
// GET /api/v1/auth/login
//
// The random state is stored in a short-lived HttpOnly cookie and echoed
// through the provider; the callback accepts the code only when both match.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	randomBytes := make([]byte, 24)
	if _, err := rand.Read(randomBytes); err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to generate state", err.Error())
		return
	}
	state := base64.RawURLEncoding.EncodeToString(randomBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		HttpOnly: true,
		Secure:   s.isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateCookieMaxAge,
	})

	authURL := s.provider.AuthCodeURL(state)
	if r.URL.Query().Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL, "state": state})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback finishes the authorization-code flow.
// POST /api/v1/auth/callback {"code": "...", "state": "..."}
//
// The session cookie is only set after every step has succeeded, so a
// failed login never leaves a partial session behind.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if input.Code == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "missing code", "")
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || input.State == "" || stateCookie.Value != input.State {
		s.recordLogin(false)
		s.writeErr(ctx, w, http.StatusForbidden, "invalid state", "state mismatch")
		return
	}

	// The state is single-use; clear it before touching the provider.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		HttpOnly: true,
		Secure:   s.isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	tokenResp, err := s.provider.Exchange(ctx, input.Code)
	if err != nil {
		s.recordLogin(false)
		// The provider's error code stays in the log; clients get a
		// generic failure.
		var exchangeErr *oidc.TokenExchangeError
		if errors.As(err, &exchangeErr) {
			s.logger.WarnContext(ctx, "token exchange rejected", appendRequestID(ctx, []any{
				"provider_code", exchangeErr.Code,
			})...)
		} else {
			s.logger.ErrorContext(ctx, "token exchange failed", appendRequestID(ctx, []any{
				"error", err.Error(),
			})...)
		}
		s.writeErr(ctx, w, http.StatusBadGateway, "token exchange failed", "")
		return
	}

	claims, err := s.provider.VerifyIDToken(ctx, tokenResp.IDToken)
	if err != nil {
		s.recordLogin(false)
		s.logger.WarnContext(ctx, "identity token rejected", appendRequestID(ctx, []any{
			"error", err.Error(),
		})...)
		s.writeErr(ctx, w, http.StatusBadGateway, "identity token rejected", "")
		return
	}

	user, err := s.mapper.SyncUser(ctx, claims)
	if err != nil {
		s.recordLogin(false)
		switch {
		case errors.Is(err, auth.ErrUserDisabled):
			s.writeErr(ctx, w, http.StatusForbidden, "account disabled", "")
		default:
			s.writeErr(ctx, w, http.StatusInternalServerError, "failed to sync user", "")
		}
		return
	}

	token, _, err := s.tokens.Issue(user)
	if err != nil {
		s.recordLogin(false)
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to issue session", "")
		return
	}

	s.setSessionCookie(w, r, token)
	s.recordLogin(true)

	s.logger.InfoContext(ctx, "user logged in", appendRequestID(ctx, []any{
		"user_id", user.ID,
		"roles", auth.RolesToStrings(user.Roles),
	})...)

	writeJSON(w, http.StatusOK, loginResult{
		Success:   true,
		User:      viewOfUser(user),
		ExpiresIn: int64(s.tokens.Lifetime().Seconds()),
	})
}

// handleLogout clears the session cookie.
// POST /api/v1/auth/logout
//
// Session tokens are self-contained, so logout is purely client-side: the
// cookie is removed and the token ages out on its own.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMe returns the authenticated user's profile with fresh roles from
// the store.
// GET /api/v1/auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := auth.SessionFromContext(ctx)
	if !ok {
		s.writeErr(ctx, w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to load user", "")
		return
	}
	if user == nil {
		s.writeErr(ctx, w, http.StatusUnauthorized, "user not found", "")
		return
	}

	writeJSON(w, http.StatusOK, viewOfUser(user))
}

// handleRefresh re-issues the session token from the user's current stored
// record, picking up role changes made since login.
// POST /api/v1/auth/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := auth.SessionFromContext(ctx)
	if !ok {
		s.writeErr(ctx, w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to load user", "")
		return
	}
	if user == nil {
		s.writeErr(ctx, w, http.StatusUnauthorized, "user not found", "")
		return
	}
	if !user.IsActive {
		s.writeErr(ctx, w, http.StatusUnauthorized, "account disabled", "")
		return
	}

	token, _, err := s.tokens.Issue(user)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to issue session", "")
		return
	}

	s.setSessionCookie(w, r, token)

	writeJSON(w, http.StatusOK, loginResult{
		Success:   true,
		User:      viewOfUser(user),
		ExpiresIn: int64(s.tokens.Lifetime().Seconds()),
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	isSecure := s.isSecureRequest(r)
	sameSite := http.SameSiteLaxMode
	if isSecure {
		sameSite = http.SameSiteStrictMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: sameSite,
		MaxAge:   int(s.tokens.Lifetime().Seconds()),
	})
}

func (s *Server) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}
