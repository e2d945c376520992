package auth

import (
	"context"
	"sync"
	"time"
)

// UserStore defines the interface for user persistence.
//
// Upsert must be atomic per user ID: two concurrent logins by the same
// person must not produce a lost update. Implementations back this with a
// single INSERT ... ON CONFLICT statement (or a mutex for the in-memory
// store).
type UserStore interface {
	// Upsert creates the user if absent, otherwise refreshes the
	// identity fields, roles, and last-login timestamp. CreatedAt and
	// IsActive of an existing record are preserved: deactivation is an
	// administrative action and must survive a login.
	Upsert(ctx context.Context, user *User) (*User, error)

	// GetByID retrieves a user by ID.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, id string) (*User, error)

	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]*User, error)

	// SetActive enables or disables a user account.
	SetActive(ctx context.Context, id string, active bool) error

	// Close releases resources held by the store.
	Close() error
}

// MemoryUserStore is an in-memory implementation of UserStore.
// Thread-safe; suitable for development and tests.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by ID
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) Upsert(_ context.Context, user *User) (*User, error) {
	if user == nil || user.ID == "" {
		return nil, ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.users[user.ID]
	if !ok {
		stored := copyUser(user)
		stored.IsActive = true
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.users[user.ID] = stored
		return copyUser(stored), nil
	}

	updated := copyUser(user)
	updated.CreatedAt = existing.CreatedAt
	updated.IsActive = existing.IsActive
	updated.UpdatedAt = now
	s.users[user.ID] = updated
	return copyUser(updated), nil
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}

	s.mu.RLock()
	user, exists := s.users[id]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return copyUser(user), nil
}

func (s *MemoryUserStore) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, copyUser(u))
	}
	return result, nil
}

func (s *MemoryUserStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists {
		return ErrUserNotFound
	}
	user.IsActive = active
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryUserStore) Close() error { return nil }

// Count returns the number of users in the store.
// Primarily for tests and monitoring.
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
