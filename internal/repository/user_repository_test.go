package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}).
		AddRow("u1", "dispatcher@univ.edu", "hash", "Dina Dispatcher", "DISPATCHER", true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE lower(email) = lower($1) LIMIT 1")).
		WithArgs("Dispatcher@univ.edu").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Dispatcher@univ.edu")
	require.NoError(t, err)
	require.Equal(t, models.RoleDispatcher, user.Role)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("u1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateLastLogin(context.Background(), "u1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}
