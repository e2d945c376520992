package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"docuchat/internal/chat"
)

// handleChat answers a question against a service's documents.
// POST /api/v1/chat {"service_id": "...", "question": "..."}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.answerer == nil {
		s.writeErr(ctx, w, http.StatusNotImplemented, "chat backend not configured", "")
		return
	}

	var input struct {
		ServiceID string `json:"service_id"`
		Question  string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if input.ServiceID == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "service_id is required", "")
		return
	}
	if strings.TrimSpace(input.Question) == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "question is required", "")
		return
	}

	if _, err := s.store.GetService(ctx, input.ServiceID); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	docs, err := s.store.ListDocuments(ctx, input.ServiceID)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	docCtx := make([]chat.DocumentContext, 0, len(docs))
	for _, doc := range docs {
		docCtx = append(docCtx, chat.DocumentContext{Name: doc.Name, Text: doc.Text})
	}

	answer, err := s.answerer.Ask(ctx, input.Question, docCtx)
	if err != nil {
		if errors.Is(err, chat.ErrNoDocuments) {
			s.writeErr(ctx, w, http.StatusUnprocessableEntity, "service has no documents", "upload documents before asking questions")
			return
		}
		s.writeErr(ctx, w, http.StatusBadGateway, "chat completion failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, answer)
}
