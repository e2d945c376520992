package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docuchat/internal/auth"
)

func TestListUsers_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)

	// Editor lacks users:list.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("editor got %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.AddCookie(env.sessionCookie(t, admin))
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Users []*auth.User `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 2 {
		t.Errorf("got %d users, want 2", len(resp.Users))
	}
}

func TestUpdateUser_Deactivate(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)
	env.seedUser(t, "viewer-1", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/viewer-1", strings.NewReader(`{"is_active": false}`))
	req.AddCookie(env.sessionCookie(t, admin))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	user, err := env.users.GetByID(context.Background(), "viewer-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if user.IsActive {
		t.Error("user should be deactivated")
	}
}

func TestUpdateUser_SelfDeactivationBlocked(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/admin-1", strings.NewReader(`{"is_active": false}`))
	req.AddCookie(env.sessionCookie(t, admin))
	rec := env.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400: %s", rec.Code, rec.Body.String())
	}
	user, _ := env.users.GetByID(context.Background(), "admin-1")
	if !user.IsActive {
		t.Error("self-deactivation must not take effect")
	}
}

func TestUpdateUser_NotFound(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/nope", strings.NewReader(`{"is_active": false}`))
	req.AddCookie(env.sessionCookie(t, admin))
	rec := env.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestUpdateUser_MissingField(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/admin-1", strings.NewReader(`{}`))
	req.AddCookie(env.sessionCookie(t, admin))
	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestUpdateUser_ForbiddenForNonAdmin(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedUser(t, "viewer-2", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/viewer-2", strings.NewReader(`{"is_active": false}`))
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Detail, "users:") {
		t.Errorf("detail = %q, should list the missing user permissions", resp.Detail)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz got %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz got %d", rec.Code)
	}
}
