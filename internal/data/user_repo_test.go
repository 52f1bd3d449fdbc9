package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
	"github.com/target/studyhub/internal/testutil"
)

func TestUserRoleRepository_LookupRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewUserRoleRepositoryWithClock(db, testutil.FixedTimeFunc(testutil.TestTime()))

	student := uuid.NewString()
	admin := uuid.NewString()
	_, err := repo.EnsureUser(ctx, student, "student@example.com")
	require.NoError(t, err)
	_, err = repo.EnsureUser(ctx, admin, "admin@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.SetRole(ctx, admin, domainauth.RoleAdmin))

	got, err := repo.LookupRole(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleStudent, got)

	got, err = repo.LookupRole(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, got)
}

func TestUserRoleRepository_LookupRole_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRoleRepository(db)
	ctx := context.Background()

	_, err := repo.LookupRole(ctx, uuid.NewString())
	require.ErrorIs(t, err, ports.ErrNotFound)

	_, err = repo.LookupRole(ctx, "not-a-uuid")
	require.ErrorIs(t, err, ports.ErrNotFound)

	_, err = repo.LookupRole(ctx, "  ")
	require.ErrorIs(t, err, ErrUserIDRequired)
}

func TestUserRoleRepository_LookupRole_UnknownStoredRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRoleRepository(db)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `INSERT INTO users (id, email, role) VALUES ($1, $2, 'superuser')`, id, "x@example.com")
	require.NoError(t, err)

	_, err = repo.LookupRole(ctx, id)
	require.ErrorIs(t, err, domainauth.ErrUnknownRole)
}

func TestUserRoleRepository_EnsureUserKeepsRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := testutil.TestTime()
	repo := NewUserRoleRepositoryWithClock(db, func() time.Time { return now })
	ctx := context.Background()

	id := uuid.NewString()
	role, err := repo.EnsureUser(ctx, id, "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleStudent, role)
	require.NoError(t, repo.SetRole(ctx, id, domainauth.RoleAdmin))

	now = now.Add(time.Hour)
	role, err = repo.EnsureUser(ctx, id, "second@example.com")
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, role, "re-login must not reset the stored role")

	var email string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, id).Scan(&email))
	assert.Equal(t, "second@example.com", email)
}

func TestUserRoleRepository_SetRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRoleRepository(db)
	ctx := context.Background()

	err := repo.SetRole(ctx, uuid.NewString(), domainauth.RoleAdmin)
	require.ErrorIs(t, err, ports.ErrNotFound)

	id := uuid.NewString()
	_, err = repo.EnsureUser(ctx, id, "r@example.com")
	require.NoError(t, err)
	err = repo.SetRole(ctx, id, domainauth.Role("owner"))
	require.Error(t, err)
}

func TestUserRoleRepository_ArgumentValidation(t *testing.T) {
	repo := NewUserRoleRepository(nil)
	ctx := context.Background()

	_, err := repo.EnsureUser(ctx, "", "a@example.com")
	require.ErrorIs(t, err, ErrUserIDRequired)
	_, err = repo.EnsureUser(ctx, uuid.NewString(), " ")
	require.ErrorIs(t, err, ErrEmailRequired)
	require.ErrorIs(t, repo.SetRole(ctx, "", domainauth.RoleAdmin), ErrUserIDRequired)
}

func TestUserRoleRepository_ListUsers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := testutil.TestTime()
	repo := NewUserRoleRepositoryWithClock(db, func() time.Time { return now })
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		_, err := repo.EnsureUser(ctx, ids[i], fmt.Sprintf("user%d@example.com", i))
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}
	require.NoError(t, repo.SetRole(ctx, ids[1], domainauth.RoleAdmin))
	_, err := db.ExecContext(ctx, `UPDATE users SET role = 'superuser' WHERE id = $1`, ids[2])
	require.NoError(t, err)

	first, err := repo.ListUsers(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Total)
	require.Len(t, first.Users, 2)
	assert.Equal(t, ids[0], first.Users[0].ID)
	assert.Equal(t, "user0@example.com", first.Users[0].Email)
	assert.Equal(t, domainauth.RoleStudent, first.Users[0].Role)
	assert.Equal(t, domainauth.RoleAdmin, first.Users[1].Role)

	second, err := repo.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, second.Users, 1)
	assert.Equal(t, ids[2], second.Users[0].ID)
	assert.Equal(t, domainauth.RoleStudent, second.Users[0].Role, "unknown stored role lists as student")

	empty, err := repo.ListUsers(ctx, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Users)
	assert.Equal(t, 3, empty.Total)
}

func TestUserRoleRepository_ListUsers_Validation(t *testing.T) {
	repo := NewUserRoleRepository(nil)
	ctx := context.Background()

	_, err := repo.ListUsers(ctx, 0, 10)
	require.Error(t, err)
	_, err = repo.ListUsers(ctx, 1, MaxUsersPerPage+1)
	require.Error(t, err)
	_, err = repo.ListUsers(ctx, 1, -1)
	require.Error(t, err)
}
