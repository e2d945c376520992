package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/auth"
	"docuchat/internal/storage"
)

// handleListServices returns all services.
// GET /api/v1/services
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services, err := s.store.ListServices(ctx)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}
	if services == nil {
		services = []*storage.Service{}
	}

	writeJSON(w, http.StatusOK, struct {
		Services []*storage.Service `json:"services"`
	}{Services: services})
}

// handleCreateService creates a service.
// POST /api/v1/services {"name": "...", "description": "..."}
func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(input.Name) == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "name is required", "")
		return
	}

	var createdBy string
	if session, ok := auth.SessionFromContext(ctx); ok {
		createdBy = session.UserID
	}

	now := time.Now().UTC()
	svc := &storage.Service{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateService(ctx, svc); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, svc)
}

// handleGetService returns a single service.
// GET /api/v1/services/{id}
func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	svc, err := s.store.GetService(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// handleUpdateService partially updates a service.
// PATCH /api/v1/services/{id}
func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	svc, err := s.store.GetService(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	var input map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if v, ok := input["name"]; ok {
		var name string
		if err := json.Unmarshal(v, &name); err == nil && strings.TrimSpace(name) != "" {
			svc.Name = strings.TrimSpace(name)
		}
	}
	if v, ok := input["description"]; ok {
		var description string
		if err := json.Unmarshal(v, &description); err == nil {
			svc.Description = description
		}
	}

	if err := s.store.UpdateService(ctx, svc); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, svc)
}

// handleDeleteService removes a service, its document metadata, and the
// stored files.
// DELETE /api/v1/services/{id}
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	docs, err := s.store.ListDocuments(ctx, id)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	if err := s.store.DeleteService(ctx, id); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	// Blob cleanup is best-effort; orphaned objects are harmless and the
	// metadata is already gone.
	if s.blobs != nil {
		for _, doc := range docs {
			if err := s.blobs.Remove(ctx, doc.ObjectKey); err != nil {
				s.logger.WarnContext(ctx, "failed to remove document blob", appendRequestID(ctx, []any{
					"document_id", doc.ID,
					"object_key", doc.ObjectKey,
					"error", err.Error(),
				})...)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
