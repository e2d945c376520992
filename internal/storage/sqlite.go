package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS services (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
	description TEXT NOT NULL DEFAULT '',
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	service_id   TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	object_key   TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	text         TEXT NOT NULL DEFAULT '',
	uploaded_by  TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_service ON documents(service_id);
`

// NewSQLiteStore opens (or creates) the SQLite database at the given DSN.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying connection so other stores can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateService(ctx context.Context, svc *Service) error {
	if err := validateService(svc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, description, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, svc.ID, svc.Name, svc.Description, svc.CreatedBy, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetService(ctx context.Context, id string) (*Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM services WHERE id = ?
	`, id)

	var svc Service
	var createdAt, updatedAt string
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan service: %w", err)
	}
	svc.CreatedAt, svc.UpdatedAt = parseTimestamp(createdAt), parseTimestamp(updatedAt)
	return &svc, nil
}

func (s *SQLiteStore) ListServices(ctx context.Context) ([]*Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM services ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		var svc Service
		var createdAt, updatedAt string
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		svc.CreatedAt, svc.UpdatedAt = parseTimestamp(createdAt), parseTimestamp(updatedAt)
		services = append(services, &svc)
	}
	return services, rows.Err()
}

func (s *SQLiteStore) UpdateService(ctx context.Context, svc *Service) error {
	if err := validateService(svc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, svc.Name, svc.Description, time.Now().UTC().Format(time.RFC3339Nano), svc.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("update service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return errors.Join(ErrValidation, err)
	}

	if _, err := s.GetService(ctx, doc.ServiceID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, service_id, name, object_key, content_type, size, text, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.ServiceID, doc.Name, doc.ObjectKey, doc.ContentType, doc.Size, doc.Text,
		doc.UploadedBy, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service_id, name, object_key, content_type, size, text, uploaded_by, created_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, serviceID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, name, object_key, content_type, size, text, uploaded_by, created_at
		FROM documents WHERE service_id = ? ORDER BY created_at ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row sqliteScanner) (*Document, error) {
	var doc Document
	var createdAt string
	err := row.Scan(&doc.ID, &doc.ServiceID, &doc.Name, &doc.ObjectKey, &doc.ContentType,
		&doc.Size, &doc.Text, &doc.UploadedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.CreatedAt = parseTimestamp(createdAt)
	return &doc, nil
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
