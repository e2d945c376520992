package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver
)

// SQLiteUserStore is a SQLite-backed implementation of UserStore.
type SQLiteUserStore struct {
	db *sql.DB
}

const sqliteUserSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	roles         TEXT NOT NULL DEFAULT '[]',
	provider_oid  TEXT NOT NULL DEFAULT '',
	provider_upn  TEXT NOT NULL DEFAULT '',
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	last_login_at TEXT
);
`

// NewSQLiteUserStore creates a new SQLite-backed user store.
func NewSQLiteUserStore(dsn string) (*SQLiteUserStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteUserSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &SQLiteUserStore{db: db}, nil
}

// NewSQLiteUserStoreFromDB creates a store using an existing DB connection.
// The users table must already exist.
func NewSQLiteUserStoreFromDB(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

// Close closes the database connection.
func (s *SQLiteUserStore) Close() error { return s.db.Close() }

func (s *SQLiteUserStore) Upsert(ctx context.Context, user *User) (*User, error) {
	if user == nil || user.ID == "" {
		return nil, ErrInvalidUser
	}

	rolesJSON, err := json.Marshal(RolesToStrings(user.Roles))
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var lastLogin sql.NullString
	if user.LastLoginAt != nil {
		lastLogin = sql.NullString{String: user.LastLoginAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	// Single statement keeps the upsert atomic per id.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			display_name = excluded.display_name,
			roles = excluded.roles,
			provider_oid = excluded.provider_oid,
			provider_upn = excluded.provider_upn,
			updated_at = excluded.updated_at,
			last_login_at = excluded.last_login_at
	`,
		user.ID, user.Email, user.Name, user.DisplayName, string(rolesJSON),
		user.ProviderOID, user.ProviderUPN, now, now, lastLogin,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return s.GetByID(ctx, user.ID)
}

func (s *SQLiteUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	return scanSQLiteUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at
		FROM users WHERE id = ?
	`, id))
}

func (s *SQLiteUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at
		FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanSQLiteUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteUserStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?
	`, boolToInt(active), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update user active flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row *sql.Row) (*User, error) {
	u, err := scanSQLiteUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func scanSQLiteUserRow(row rowScanner) (*User, error) {
	var (
		u                    User
		rolesJSON            string
		isActive             int
		createdAt, updatedAt string
		lastLogin            sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.DisplayName, &rolesJSON,
		&u.ProviderOID, &u.ProviderUPN, &isActive, &createdAt, &updatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	var roleStrings []string
	if err := json.Unmarshal([]byte(rolesJSON), &roleStrings); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	u.Roles = RolesFromStrings(roleStrings)
	u.IsActive = isActive != 0
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		u.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		u.UpdatedAt = t
	}
	if lastLogin.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastLogin.String); err == nil {
			u.LastLoginAt = &t
		}
	}
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
