package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/studyhub/internal/data/pgxutil"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	apperrors "github.com/target/studyhub/internal/errors"
	"github.com/target/studyhub/internal/ports"
)

// UserRoleRepository reads and maintains the backend-owned role of each user.
type UserRoleRepository struct {
	DB  *sql.DB
	now func() time.Time
}

var _ ports.RoleLookup = (*UserRoleRepository)(nil)

// NewUserRoleRepository creates a repository using the real clock.
func NewUserRoleRepository(db *sql.DB) *UserRoleRepository {
	return &UserRoleRepository{DB: db, now: time.Now}
}

// NewUserRoleRepositoryWithClock creates a repository that stamps rows with now.
func NewUserRoleRepositoryWithClock(db *sql.DB, now func() time.Time) *UserRoleRepository {
	if now == nil {
		now = time.Now
	}
	return &UserRoleRepository{DB: db, now: now}
}

// LookupRole returns the stored role for identityID. A missing row or an id
// that is not a UUID returns ports.ErrNotFound. Stored values outside the role
// enumeration return domainauth.ErrUnknownRole.
func (r *UserRoleRepository) LookupRole(ctx context.Context, identityID string) (domainauth.Role, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", ErrUserIDRequired
	}

	var raw string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, identityID).Scan(&raw)
	})
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", fmt.Errorf("user %s: %w", identityID, ports.ErrNotFound)
		}
		return "", fmt.Errorf("lookup role: %w", mapped)
	}

	role, err := domainauth.ParseRoleStrict(raw)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", identityID, err)
	}
	return role, nil
}

// EnsureUser inserts the user on first sign-in and refreshes the email on
// later ones. It returns the stored role, which is student for new rows.
func (r *UserRoleRepository) EnsureUser(ctx context.Context, identityID, email string) (domainauth.Role, error) {
	identityID = strings.TrimSpace(identityID)
	email = strings.TrimSpace(email)
	if identityID == "" {
		return "", ErrUserIDRequired
	}
	if email == "" {
		return "", ErrEmailRequired
	}

	now := r.now().UTC()
	var raw string
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO users (id, email, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
			RETURNING role`,
			identityID, email, string(domainauth.RoleStudent), now,
		).Scan(&raw)
	})
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", apperrors.MapDBError(err))
	}
	return domainauth.ParseRole(raw), nil
}

// SetRole updates the stored role of an existing user.
func (r *UserRoleRepository) SetRole(ctx context.Context, identityID string, role domainauth.Role) error {
	if strings.TrimSpace(identityID) == "" {
		return ErrUserIDRequired
	}
	parsed, err := domainauth.ParseRoleStrict(string(role))
	if err != nil {
		return apperrors.Validationf("invalid role %q", role)
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		identityID, string(parsed), r.now().UTC())
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return fmt.Errorf("user %s: %w", identityID, ports.ErrNotFound)
		}
		return fmt.Errorf("set role: %w", mapped)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set role rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", identityID, ports.ErrNotFound)
	}
	return nil
}


const (
	// DefaultUsersPerPage is the page size ListUsers uses when none is given.
	DefaultUsersPerPage = 50
	// MaxUsersPerPage caps the page size ListUsers accepts.
	MaxUsersPerPage = 100
)

// User is one row of the users table.
type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Role      domainauth.Role `json:"role"`
	CreatedAt time.Time       `json:"created_at"`
}

// UserPage is one page of ListUsers output.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// ListUsers returns users oldest first. Page starts at 1. Stored values
// outside the role enumeration are reported as student.
func (r *UserRoleRepository) ListUsers(ctx context.Context, page, perPage int) (UserPage, error) {
	if page < 1 {
		return UserPage{}, apperrors.Validationf("page must be at least 1, got %d", page)
	}
	if perPage == 0 {
		perPage = DefaultUsersPerPage
	}
	if perPage < 1 || perPage > MaxUsersPerPage {
		return UserPage{}, apperrors.Validationf("per page must be between 1 and %d, got %d", MaxUsersPerPage, perPage)
	}

	out := UserPage{Users: make([]User, 0, perPage)}
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if err := conn.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&out.Total); err != nil {
			return err
		}
		rows, err := conn.Query(ctx, `
			SELECT id::text, email, role, created_at
			FROM users
			ORDER BY created_at, id
			LIMIT $1 OFFSET $2`,
			perPage, (page-1)*perPage,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				u   User
				raw string
			)
			if scanErr := rows.Scan(&u.ID, &u.Email, &raw, &u.CreatedAt); scanErr != nil {
				return scanErr
			}
			u.Role = domainauth.ParseRole(raw)
			out.Users = append(out.Users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return UserPage{}, fmt.Errorf("list users: %w", apperrors.MapDBError(err))
	}
	return out, nil
}
