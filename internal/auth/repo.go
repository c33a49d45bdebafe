package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/shared"
)

const (
	customerColumns = `id::text, email, password_hash, name, role, status, email_verified, NULL::jsonb, last_login_at`
	adminColumns    = `id::text, email, password_hash, name, role, status, TRUE, permissions, last_login_at`
)

// PGCredentialStore implements CredentialStore over one PostgreSQL table.
type PGCredentialStore struct {
	pool    *pgxpool.Pool
	table   string
	columns string
}

// NewCustomerStore returns the credential store of the customers table.
func NewCustomerStore(pool *pgxpool.Pool) *PGCredentialStore {
	return &PGCredentialStore{pool: pool, table: "customers", columns: customerColumns}
}

// NewAdminStore returns the credential store of the admins table.
func NewAdminStore(pool *pgxpool.Pool) *PGCredentialStore {
	return &PGCredentialStore{pool: pool, table: "admins", columns: adminColumns}
}

// FindByEmail fetches an account by normalized email.
func (s *PGCredentialStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(email) = $1`, s.columns, s.table)
	return s.scan(s.pool.QueryRow(ctx, query, email))
}

// FindByID fetches an account by id.
func (s *PGCredentialStore) FindByID(ctx context.Context, id string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id::text = $1`, s.columns, s.table)
	return s.scan(s.pool.QueryRow(ctx, query, id))
}

// UpdateLastLogin stamps the last successful signin.
func (s *PGCredentialStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_login_at = $2 WHERE id::text = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, pgtype.Timestamptz{Time: at.UTC(), Valid: true})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *PGCredentialStore) scan(row pgx.Row) (*Account, error) {
	var (
		acct        Account
		status      string
		permissions []byte
		lastLogin   pgtype.Timestamptz
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Name, &acct.Role,
		&status, &acct.EmailVerified, &permissions, &lastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	acct.Status = Status(status)
	if lastLogin.Valid {
		t := lastLogin.Time
		acct.LastLoginAt = &t
	}
	if len(permissions) > 0 {
		var matrix rbac.Matrix
		if err := json.Unmarshal(permissions, &matrix); err != nil {
			return nil, fmt.Errorf("auth: decode permissions of %s: %w", acct.ID, err)
		}
		acct.Permissions = &matrix
	}
	return &acct, nil
}

var _ CredentialStore = (*PGCredentialStore)(nil)
