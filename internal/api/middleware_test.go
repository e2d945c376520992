package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docuchat/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSanitizeRequestID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid uuid-ish", "abc-123_DEF.456", "abc-123_DEF.456"},
		{"empty", "", ""},
		{"whitespace trimmed", "  abc  ", "abc"},
		{"too long", strings.Repeat("a", 65), ""},
		{"max length ok", strings.Repeat("a", 64), strings.Repeat("a", 64)},
		{"injection rejected", "abc\nSet-Cookie: x", ""},
		{"spaces rejected", "abc def", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeRequestID(tt.in); got != tt.want {
				t.Errorf("sanitizeRequestID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Error("expected a generated request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("response header should echo the request ID")
	}

	// Propagated when supplied and clean.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-id-42" {
		t.Errorf("request ID = %q, want client-id-42", seen)
	}

	// Replaced when hostile.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad value\n")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad value\n" || seen == "" {
		t.Errorf("hostile request ID should be replaced, got %q", seen)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, Burst: 2}
	handler := RateLimitMiddleware(cfg, nil, nil)(okHandler())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:55555"
		return r
	}

	// Burst of 2 allowed.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req())
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Error("expected X-RateLimit-Limit header")
		}
	}

	// Third is rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}

	// A different client is unaffected.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:55555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client got %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{}, nil, nil)(okHandler())
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d, want 200", rec.Code)
		}
	}
}

func newSessionMW(t *testing.T, e *testEnv, required bool) Middleware {
	t.Helper()
	return SessionAuthMiddleware(e.tokens, e.users, "docuchat_session", required, nil, nil)
}

func TestSessionAuthMiddleware_MissingCookie(t *testing.T) {
	e := newTestEnv(t)

	// Required: 401.
	handler := newSessionMW(t, e, true)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error != "unauthorized" || resp.Detail != "missing session" {
		t.Errorf("unexpected body: %+v", resp)
	}

	// Optional: passes through without a session.
	var hadSession bool
	optional := newSessionMW(t, e, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadSession = auth.SessionFromContext(r.Context())
	}))
	rec = httptest.NewRecorder()
	optional.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("optional mode got %d, want 200", rec.Code)
	}
	if hadSession {
		t.Error("no cookie should mean no session in context")
	}
}

func TestSessionAuthMiddleware_ValidSession(t *testing.T) {
	e := newTestEnv(t)
	user := e.seedUser(t, "u1", auth.RoleEditor)

	var session *auth.Session
	handler := newSessionMW(t, e, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := auth.SessionFromContext(r.Context())
		if !ok {
			t.Error("expected session in context")
			return
		}
		session = s
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(e.sessionCookie(t, user))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if session == nil {
		t.Fatal("handler did not run with a session")
	}
	if session.UserID != "u1" {
		t.Errorf("session user = %q, want u1", session.UserID)
	}
	if !session.HasRole(auth.RoleEditor) {
		t.Errorf("session roles = %v, want editor", session.Roles)
	}
}

// expiredSessionToken signs a token with the test secret whose expiry is
// already in the past.
func expiredSessionToken(t *testing.T, userID string) string {
	t.Helper()
	past := time.Now().Add(-2 * time.Hour)
	claims := auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "docuchat",
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"test-client"},
			IssuedAt:  jwt.NewNumericDate(past),
			NotBefore: jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
		Roles: []string{"viewer"},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-test-secret-test-sec"))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}
	return signed
}

func TestSessionAuthMiddleware_ExpiredVsInvalid(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", auth.RoleViewer)

	handler := newSessionMW(t, e, true)(okHandler())

	// Expired token: 401 with expiry-specific wording so clients know to
	// sign in again.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "docuchat_session", Value: expiredSessionToken(t, "u1")})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: got %d, want 401", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error != "session expired" {
		t.Errorf("expired token error = %q, want 'session expired'", resp.Error)
	}

	// Malformed token: generic invalid wording.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "docuchat_session", Value: "garbage.token.here"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token: got %d, want 401", rec.Code)
	}
	resp = apiError{}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Detail != "invalid session" {
		t.Errorf("invalid token detail = %q, want 'invalid session'", resp.Detail)
	}
}

func TestSessionAuthMiddleware_OptionalModeBadCookie(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", auth.RoleViewer)

	for _, tt := range []struct {
		name  string
		value string
	}{
		{"garbage token", "garbage.token.here"},
		{"expired token", expiredSessionToken(t, "u1")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var hadSession bool
			handler := newSessionMW(t, e, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, hadSession = auth.SessionFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: "docuchat_session", Value: tt.value})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			// A bad cookie on an optional route proceeds unauthenticated.
			if rec.Code != http.StatusOK {
				t.Fatalf("got %d, want 200", rec.Code)
			}
			if hadSession {
				t.Error("bad cookie must not attach a session")
			}
		})
	}
}

func TestSessionAuthMiddleware_DisabledUser(t *testing.T) {
	e := newTestEnv(t)
	user := e.seedUser(t, "u1", auth.RoleViewer)
	cookie := e.sessionCookie(t, user)

	// Deactivate after the token was issued; the signed token is still
	// valid but the store check must reject the request.
	if err := e.users.SetActive(context.Background(), "u1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	handler := newSessionMW(t, e, true)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error != "account disabled" {
		t.Errorf("error = %q, want 'account disabled'", resp.Error)
	}
}

func withSession(r *http.Request, userID string, roles ...auth.Role) *http.Request {
	session := &auth.Session{UserID: userID, Roles: roles}
	return r.WithContext(auth.ContextWithSession(r.Context(), session))
}

func TestRequireRoleMiddleware(t *testing.T) {
	handler := RequireRoleMiddleware([]auth.Role{auth.RoleAdmin, auth.RoleEditor}, nil, nil)(okHandler())

	// Allowed role passes.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/", nil), "u1", auth.RoleEditor))
	if rec.Code != http.StatusOK {
		t.Fatalf("editor got %d, want 200", rec.Code)
	}

	// Disallowed role gets a 403 naming required and actual roles.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/", nil), "u2", auth.RoleViewer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer got %d, want 403", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Detail, "admin") || !strings.Contains(resp.Detail, "viewer") {
		t.Errorf("403 detail should name required and actual roles, got %q", resp.Detail)
	}

	// No session at all: 401.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous got %d, want 401", rec.Code)
	}
}

func TestRequirePermissionMiddleware(t *testing.T) {
	handler := RequirePermissionMiddleware(auth.ResourceDocuments, auth.ActionDelete, nil, nil)(okHandler())

	// Editor can delete documents.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodDelete, "/", nil), "u1", auth.RoleEditor))
	if rec.Code != http.StatusOK {
		t.Fatalf("editor got %d, want 200", rec.Code)
	}

	// Viewer cannot; the 403 names the missing permission.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodDelete, "/", nil), "u2", auth.RoleViewer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer got %d, want 403", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Detail, "documents:delete") {
		t.Errorf("403 detail should name the permission, got %q", resp.Detail)
	}
}

func TestRequireAllPermissionsMiddleware(t *testing.T) {
	perms := []auth.Permission{
		{Resource: auth.ResourceUsers, Action: auth.ActionRead},
		{Resource: auth.ResourceUsers, Action: auth.ActionUpdate},
	}
	handler := RequireAllPermissionsMiddleware(perms, nil, nil)(okHandler())

	// Admin holds both.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPatch, "/", nil), "u1", auth.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin got %d, want 200", rec.Code)
	}

	// Editor holds neither; both must be listed.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPatch, "/", nil), "u2", auth.RoleEditor))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("editor got %d, want 403", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Detail, "users:read") || !strings.Contains(resp.Detail, "users:update") {
		t.Errorf("403 detail should list all missing permissions, got %q", resp.Detail)
	}
}

func TestApplyMiddlewares_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := ApplyMiddlewares(okHandler(), mw("outer"), mw("middle"), mw("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "middle", "inner"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("middleware order = %v, want %v", order, want)
	}
}
