package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserStore is a PostgreSQL-backed implementation of UserStore.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

const postgresUserSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	roles         TEXT[] NOT NULL DEFAULT '{}',
	provider_oid  TEXT NOT NULL DEFAULT '',
	provider_upn  TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login_at TIMESTAMPTZ
);
`

// NewPostgresUserStore connects to PostgreSQL and ensures the users table
// exists.
func NewPostgresUserStore(ctx context.Context, databaseURL string) (*PostgresUserStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresUserSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &PostgresUserStore{pool: pool}, nil
}

// NewPostgresUserStoreFromPool creates a store from an existing pool.
// The users table must already exist.
func NewPostgresUserStoreFromPool(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Close releases the connection pool.
func (s *PostgresUserStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresUserStore) Upsert(ctx context.Context, user *User) (*User, error) {
	if user == nil || user.ID == "" {
		return nil, ErrInvalidUser
	}

	var lastLogin *time.Time
	if user.LastLoginAt != nil {
		t := user.LastLoginAt.UTC()
		lastLogin = &t
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now(), $8)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			display_name = EXCLUDED.display_name,
			roles = EXCLUDED.roles,
			provider_oid = EXCLUDED.provider_oid,
			provider_upn = EXCLUDED.provider_upn,
			updated_at = now(),
			last_login_at = EXCLUDED.last_login_at
		RETURNING id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at
	`,
		user.ID, user.Email, user.Name, user.DisplayName, RolesToStrings(user.Roles),
		user.ProviderOID, user.ProviderUPN, lastLogin,
	)

	u, err := scanPostgresUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at
		FROM users WHERE id = $1
	`, id)

	u, err := scanPostgresUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, display_name, roles, provider_oid, provider_upn, is_active, created_at, updated_at, last_login_at
		FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanPostgresUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresUserStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2
	`, active, id)
	if err != nil {
		return fmt.Errorf("update user active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanPostgresUser(row pgx.Row) (*User, error) {
	var (
		u           User
		roleStrings []string
		lastLogin   *time.Time
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.DisplayName, &roleStrings,
		&u.ProviderOID, &u.ProviderUPN, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.Roles = RolesFromStrings(roleStrings)
	u.LastLoginAt = lastLogin
	return &u, nil
}
