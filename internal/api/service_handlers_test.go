package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docuchat/internal/auth"
	"docuchat/internal/storage"
)

func TestCreateService(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)

	body := strings.NewReader(`{"name": "billing", "description": "billing service docs"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", body)
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var svc storage.Service
	if err := json.NewDecoder(rec.Body).Decode(&svc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if svc.ID == "" {
		t.Error("expected generated service ID")
	}
	if svc.Name != "billing" {
		t.Errorf("name = %q", svc.Name)
	}
	if svc.CreatedBy != "editor-1" {
		t.Errorf("created_by = %q, want editor-1", svc.CreatedBy)
	}
}

func TestCreateService_ViewerForbidden(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(`{"name": "x"}`))
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403: %s", rec.Code, rec.Body.String())
	}
	var resp apiError
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp.Detail, "services:create") {
		t.Errorf("detail = %q, should name the missing permission", resp.Detail)
	}
}

func TestCreateService_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(`{"name": "x"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestCreateService_MissingName(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(`{"name": "  "}`))
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestCreateService_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "Billing")

	// Name conflicts are case-insensitive.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader(`{"name": "billing"}`))
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestListServices(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedService(t, "svc-1", "billing")
	env.seedService(t, "svc-2", "payments")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Services []*storage.Service `json:"services"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Services) != 2 {
		t.Errorf("got %d services, want 2", len(resp.Services))
	}
}

func TestGetService_NotFound(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/nope", nil)
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestUpdateService_Partial(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "billing")

	// Only the description changes; the name stays.
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/services/svc-1", strings.NewReader(`{"description": "updated"}`))
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var svc storage.Service
	_ = json.NewDecoder(rec.Body).Decode(&svc)
	if svc.Name != "billing" {
		t.Errorf("name changed unexpectedly: %q", svc.Name)
	}
	if svc.Description != "updated" {
		t.Errorf("description = %q", svc.Description)
	}
}

func TestDeleteService_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin-1", auth.RoleAdmin)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "billing")
	env.seedDocument(t, "doc-1", "svc-1", "readme.txt", "hello")

	// Editor lacks services:delete.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/services/svc-1", nil)
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("editor delete: got %d, want 403", rec.Code)
	}

	// Admin deletes the service and its documents cascade.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/services/svc-1", nil)
	req.AddCookie(env.sessionCookie(t, admin))
	rec = env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin delete: got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.GetService(context.Background(), "svc-1"); err != storage.ErrNotFound {
		t.Errorf("service should be gone, got %v", err)
	}
	if _, err := env.store.GetDocument(context.Background(), "doc-1"); err != storage.ErrNotFound {
		t.Errorf("documents should cascade, got %v", err)
	}
}
