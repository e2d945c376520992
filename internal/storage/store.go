// Package storage persists services and document metadata.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned by Store implementations. Handlers map these to
// HTTP status codes with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// Service is a logical grouping of documents that users chat against.
type Service struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is the metadata record for an uploaded file. The file body lives
// in blob storage under ObjectKey; Text holds the extracted plain text used
// as chat context.
type Document struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"service_id"`
	Name        string    `json:"name"`
	ObjectKey   string    `json:"object_key"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Text        string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists services and document metadata.
type Store interface {
	CreateService(ctx context.Context, svc *Service) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context) ([]*Service, error)
	UpdateService(ctx context.Context, svc *Service) error
	DeleteService(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	// ListDocuments returns the documents belonging to a service, ordered
	// by creation time.
	ListDocuments(ctx context.Context, serviceID string) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

func validateService(svc *Service) error {
	if svc == nil || svc.ID == "" {
		return errors.New("service id is required")
	}
	if strings.TrimSpace(svc.Name) == "" {
		return errors.New("service name is required")
	}
	return nil
}

func validateDocument(doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("document id is required")
	}
	if doc.ServiceID == "" {
		return errors.New("document service id is required")
	}
	if strings.TrimSpace(doc.Name) == "" {
		return errors.New("document name is required")
	}
	return nil
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	services  map[string]*Service
	documents map[string]*Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services:  make(map[string]*Service),
		documents: make(map[string]*Document),
	}
}

func (s *MemoryStore) CreateService(_ context.Context, svc *Service) error {
	if err := validateService(svc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[svc.ID]; exists {
		return ErrConflict
	}
	for _, existing := range s.services {
		if strings.EqualFold(existing.Name, svc.Name) {
			return ErrConflict
		}
	}

	cpy := *svc
	s.services[svc.ID] = &cpy
	return nil
}

func (s *MemoryStore) GetService(_ context.Context, id string) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *svc
	return &cpy, nil
}

func (s *MemoryStore) ListServices(_ context.Context) ([]*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		cpy := *svc
		out = append(out, &cpy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateService(_ context.Context, svc *Service) error {
	if err := validateService(svc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.services[svc.ID]
	if !ok {
		return ErrNotFound
	}

	cpy := *svc
	cpy.CreatedAt = existing.CreatedAt
	cpy.UpdatedAt = time.Now().UTC()
	s.services[svc.ID] = &cpy
	return nil
}

func (s *MemoryStore) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[id]; !ok {
		return ErrNotFound
	}
	delete(s.services, id)
	for docID, doc := range s.documents {
		if doc.ServiceID == id {
			delete(s.documents, docID)
		}
	}
	return nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return ErrConflict
	}
	if _, ok := s.services[doc.ServiceID]; !ok {
		return ErrNotFound
	}

	cpy := *doc
	s.documents[doc.ID] = &cpy
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *doc
	return &cpy, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, serviceID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Document, 0)
	for _, doc := range s.documents {
		if doc.ServiceID == serviceID {
			cpy := *doc
			out = append(out, &cpy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
