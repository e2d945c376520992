package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"docuchat/internal/auth"
	"docuchat/internal/storage"
)

func multipartUpload(t *testing.T, url, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	if contentType != "" {
		hdr["Content-Type"] = []string{contentType}
	}
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadDocument_PlainText(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "billing")

	req := multipartUpload(t, "/api/v1/services/svc-1/documents", "notes.txt", "text/plain", []byte("invoices are issued monthly"))
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var doc storage.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Name != "notes.txt" || doc.ServiceID != "svc-1" {
		t.Errorf("unexpected metadata: %+v", doc)
	}
	if doc.Size != int64(len("invoices are issued monthly")) {
		t.Errorf("size = %d", doc.Size)
	}
	if doc.UploadedBy != "editor-1" {
		t.Errorf("uploaded_by = %q", doc.UploadedBy)
	}

	// The extracted text is stored for chat but never serialized.
	stored, err := env.store.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if stored.Text != "invoices are issued monthly" {
		t.Errorf("extracted text = %q", stored.Text)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("invoices are issued")) {
		t.Error("extracted text must not appear in the JSON response")
	}
}

func TestUploadDocument_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "billing")

	req := multipartUpload(t, "/api/v1/services/svc-1/documents", "binary.exe", "application/octet-stream", []byte{0x4d, 0x5a, 0x00, 0x01})
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d, want 415: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadDocument_ViewerForbidden(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedService(t, "svc-1", "billing")

	req := multipartUpload(t, "/api/v1/services/svc-1/documents", "notes.txt", "text/plain", []byte("text"))
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
}

func TestUploadDocument_UnknownService(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)

	req := multipartUpload(t, "/api/v1/services/nope/documents", "notes.txt", "text/plain", []byte("text"))
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestListDocuments(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedService(t, "svc-1", "billing")
	env.seedDocument(t, "doc-1", "svc-1", "a.txt", "aaa")
	env.seedDocument(t, "doc-2", "svc-1", "b.txt", "bbb")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/svc-1/documents", nil)
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Documents []*storage.Document `json:"documents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Errorf("got %d documents, want 2", len(resp.Documents))
	}
}

func TestGetDocument(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedService(t, "svc-1", "billing")
	env.seedDocument(t, "doc-1", "svc-1", "a.txt", "aaa")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	var doc storage.Document
	_ = json.NewDecoder(rec.Body).Decode(&doc)
	if doc.ID != "doc-1" || doc.Name != "a.txt" {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestDownloadDocument_NoBlobStorage(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.seedUser(t, "viewer-1", auth.RoleViewer)
	env.seedService(t, "svc-1", "billing")
	env.seedDocument(t, "doc-1", "svc-1", "a.txt", "aaa")

	// Without object storage configured the original body is unavailable.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/download", nil)
	req.AddCookie(env.sessionCookie(t, viewer))
	rec := env.do(req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("got %d, want 501", rec.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	editor := env.seedUser(t, "editor-1", auth.RoleEditor)
	env.seedService(t, "svc-1", "billing")
	env.seedDocument(t, "doc-1", "svc-1", "a.txt", "aaa")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil)
	req.AddCookie(env.sessionCookie(t, editor))
	rec := env.do(req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.GetDocument(context.Background(), "doc-1"); err != storage.ErrNotFound {
		t.Errorf("document should be gone, got %v", err)
	}
}
