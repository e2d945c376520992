package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/auth"
	"docuchat/internal/blob"
	"docuchat/internal/extract"
	"docuchat/internal/storage"
)

// maxUploadBytes bounds document upload size.
const maxUploadBytes = 64 << 20 // 64 MiB

// handleListDocuments returns the documents of a service.
// GET /api/v1/services/{id}/documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serviceID := r.PathValue("id")

	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	docs, err := s.store.ListDocuments(ctx, serviceID)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}

	writeJSON(w, http.StatusOK, struct {
		Documents []*storage.Document `json:"documents"`
	}{Documents: docs})
}

// handleUploadDocument accepts a multipart upload, stores the file body in
// blob storage, extracts its text, and records the metadata.
// POST /api/v1/services/{id}/documents (multipart field "file")
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serviceID := r.PathValue("id")

	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "missing file", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	text, err := s.extractor.Text(bytes.NewReader(data), header.Filename, contentType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			s.writeErr(ctx, w, http.StatusUnsupportedMediaType, "unsupported document format", err.Error())
			return
		}
		s.writeErr(ctx, w, http.StatusBadRequest, "failed to extract text", err.Error())
		return
	}

	docID := uuid.New().String()
	objectKey := fmt.Sprintf("%s/%s/%s", serviceID, docID, header.Filename)

	if s.blobs != nil {
		if err := s.blobs.Put(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			s.writeErr(ctx, w, http.StatusInternalServerError, "failed to store document", err.Error())
			return
		}
	}

	var uploadedBy string
	if session, ok := auth.SessionFromContext(ctx); ok {
		uploadedBy = session.UserID
	}

	doc := &storage.Document{
		ID:          docID,
		ServiceID:   serviceID,
		Name:        header.Filename,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        int64(len(data)),
		Text:        text,
		UploadedBy:  uploadedBy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		// Roll back the blob so a failed insert leaves no orphan.
		if s.blobs != nil {
			_ = s.blobs.Remove(ctx, objectKey)
		}
		s.writeStoreErr(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleGetDocument returns document metadata.
// GET /api/v1/documents/{id}
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := s.store.GetDocument(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDownloadDocument streams the original file body from blob storage.
// GET /api/v1/documents/{id}/download
func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := s.store.GetDocument(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	if s.blobs == nil {
		s.writeErr(ctx, w, http.StatusNotImplemented, "blob storage not configured", "")
		return
	}

	body, err := s.blobs.Get(ctx, doc.ObjectKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.writeErr(ctx, w, http.StatusNotFound, "document body not found", "")
			return
		}
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to fetch document", err.Error())
		return
	}
	defer body.Close()

	if doc.ContentType != "" {
		w.Header().Set("Content-Type", doc.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	if _, err := io.Copy(w, body); err != nil {
		s.logger.WarnContext(ctx, "document download interrupted", appendRequestID(ctx, []any{
			"document_id", doc.ID,
			"error", err.Error(),
		})...)
	}
}

// handleDeleteDocument removes a document and its stored file.
// DELETE /api/v1/documents/{id}
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := s.store.GetDocument(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	if s.blobs != nil {
		if err := s.blobs.Remove(ctx, doc.ObjectKey); err != nil {
			s.logger.WarnContext(ctx, "failed to remove document blob", appendRequestID(ctx, []any{
				"document_id", doc.ID,
				"object_key", doc.ObjectKey,
				"error", err.Error(),
			})...)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
