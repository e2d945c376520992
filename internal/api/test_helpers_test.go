package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docuchat/internal/auth"
	"docuchat/internal/storage"
)

// testEnv bundles a server with in-memory stores for handler tests.
type testEnv struct {
	srv    *Server
	mux    *http.ServeMux
	users  *auth.MemoryUserStore
	store  *storage.MemoryStore
	tokens *auth.TokenService
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()

	users := auth.NewMemoryUserStore()
	store := storage.NewMemoryStore()

	tokens, err := auth.NewTokenService([]byte("test-secret-test-secret-test-sec"), "docuchat", "test-client", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	mux := http.NewServeMux()
	options := Options{
		Users:  users,
		Store:  store,
		Tokens: tokens,
		Mapper: auth.NewMapper(nil, auth.RoleViewer, users),
		Cookie: CookieConfig{Name: "docuchat_session"},
	}
	for _, opt := range opts {
		opt(&options)
	}
	srv := NewServer(mux, options)
	srv.RegisterRoutes()

	return &testEnv{srv: srv, mux: mux, users: users, store: store, tokens: tokens}
}

// seedUser stores a user and returns it as persisted.
func (e *testEnv) seedUser(t *testing.T, id string, roles ...auth.Role) *auth.User {
	t.Helper()
	user, err := e.users.Upsert(context.Background(), &auth.User{
		ID:    id,
		Email: id + "@example.com",
		Roles: roles,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return user
}

// sessionCookie issues a session token for the user and wraps it in the
// cookie the middleware expects.
func (e *testEnv) sessionCookie(t *testing.T, user *auth.User) *http.Cookie {
	t.Helper()
	token, _, err := e.tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue session token: %v", err)
	}
	return &http.Cookie{Name: "docuchat_session", Value: token}
}

// do runs a request through the server mux and returns the recorder.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// seedService creates a service directly in the store.
func (e *testEnv) seedService(t *testing.T, id, name string) *storage.Service {
	t.Helper()
	now := time.Now().UTC()
	svc := &storage.Service{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateService(context.Background(), svc); err != nil {
		t.Fatalf("seed service %s: %v", id, err)
	}
	return svc
}

// seedDocument creates a document record directly in the store.
func (e *testEnv) seedDocument(t *testing.T, id, serviceID, name, text string) *storage.Document {
	t.Helper()
	doc := &storage.Document{
		ID:        id,
		ServiceID: serviceID,
		Name:      name,
		ObjectKey: serviceID + "/" + id + "/" + name,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed document %s: %v", id, err)
	}
	return doc
}
