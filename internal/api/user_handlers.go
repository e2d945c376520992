package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"docuchat/internal/auth"
)

// handleListUsers returns all user accounts.
// GET /api/v1/users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := s.users.List(ctx)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to list users", "")
		return
	}
	if users == nil {
		users = []*auth.User{}
	}

	writeJSON(w, http.StatusOK, struct {
		Users []*auth.User `json:"users"`
	}{Users: users})
}

// handleUpdateUser enables or disables a user account. Roles are owned by
// the identity provider and re-derived at login, so they are not editable
// here.
// PATCH /api/v1/users/{id} {"is_active": false}
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var input struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if input.IsActive == nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "is_active is required", "")
		return
	}

	// Self-deactivation would lock the last admin out.
	if session, ok := auth.SessionFromContext(ctx); ok && session.UserID == id && !*input.IsActive {
		s.writeErr(ctx, w, http.StatusBadRequest, "cannot deactivate your own account", "")
		return
	}

	if err := s.users.SetActive(ctx, id, *input.IsActive); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.writeErr(ctx, w, http.StatusNotFound, "user not found", "")
			return
		}
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to update user", "")
		return
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil || user == nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to load user", "")
		return
	}

	writeJSON(w, http.StatusOK, viewOfUser(user))
}
