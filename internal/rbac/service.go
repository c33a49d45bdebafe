package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested administrator does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrImmutable is returned when attempting to edit the super-administrator.
var ErrImmutable = errors.New("rbac: super-administrator permissions are fixed")

// Assignment is the matrix stored for one administrator.
type Assignment struct {
	AdminID string `json:"adminId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Matrix  Matrix `json:"permissions"`
}

// MatrixStore reads and replaces administrator matrices.
type MatrixStore interface {
	ListAssignments(ctx context.Context) ([]Assignment, error)
	GetAssignment(ctx context.Context, adminID string) (Assignment, error)
	SetMatrix(ctx context.Context, adminID string, m Matrix) error
}

// Service persists permission matrices in the admins table.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// ListAssignments returns every administrator ordered by email.
func (s *Service) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, email, role, permissions FROM admins ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssignment fetches the matrix of one administrator.
func (s *Service) GetAssignment(ctx context.Context, adminID string) (Assignment, error) {
	row := s.pool.QueryRow(ctx, `SELECT id::text, email, role, permissions FROM admins WHERE id::text = $1`, adminID)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

// SetMatrix replaces the matrix of adminID.
func (s *Service) SetMatrix(ctx context.Context, adminID string, m Matrix) error {
	adminID = strings.TrimSpace(adminID)
	if adminID == SuperAdminID {
		return ErrImmutable
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE admins SET permissions = $2, updated_at = NOW() WHERE id::text = $1`, adminID, payload)
	if err != nil {
		return fmt.Errorf("rbac: set matrix: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a   Assignment
		raw []byte
	)
	if err := row.Scan(&a.AdminID, &a.Email, &a.Role, &raw); err != nil {
		return Assignment{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a.Matrix); err != nil {
			return Assignment{}, fmt.Errorf("rbac: decode matrix of %s: %w", a.AdminID, err)
		}
	}
	return a, nil
}

var _ MatrixStore = (*Service)(nil)
