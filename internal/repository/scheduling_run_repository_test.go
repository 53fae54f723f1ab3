package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

var runRowColumns = []string{"id", "status", "phase", "progress_current", "progress_total", "scheduled", "unscheduled", "removed", "penalty", "truncated", "seed", "params", "error_code", "error_message", "created_by", "created_at", "started_at", "finished_at", "updated_at"}

func TestSchedulingRunRepositoryCreateAndGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulingRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduling_runs")).
		WithArgs(sqlmock.AnyArg(), "QUEUED", "IDLE", int64(99), sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	run := &models.SchedulingRun{
		Phase:     "IDLE",
		Seed:      99,
		Params:    models.RunParams{TargetType: "none", From: "2024-09-02", To: "2024-09-06"},
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), run))
	require.NotEmpty(t, run.ID)

	now := time.Now()
	rows := sqlmock.NewRows(runRowColumns).
		AddRow(run.ID, "RUNNING", "SCHEDULING", 40, 100, 0, 0, 0, 0.0, false, 99, `{"targetType":"none","from":"2024-09-02","to":"2024-09-06","options":{"iterations":10,"strictness":5}}`, nil, nil, "user-1", now, now, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduling_runs WHERE id = $1")).
		WithArgs(run.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, fetched.Status)
	assert.Equal(t, 10, fetched.Params.Options.Iterations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingRunRepositoryGetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulingRunRepository(db)
	mock.ExpectQuery("FROM scheduling_runs").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSchedulingRunRepositoryUpdateSkipsTerminalRuns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulingRunRepository(db)

	status := models.RunStatusCompleted
	scheduled := 12
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_runs SET status = $1, scheduled = $2, updated_at = $3 WHERE id = $4 AND status NOT IN ('COMPLETED', 'CANCELLED', 'FAILED')")).
		WithArgs(status, scheduled, sqlmock.AnyArg(), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.Update(context.Background(), "run-1", UpdateRunParams{Status: &status, Scheduled: &scheduled})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.Update(context.Background(), "run-1", UpdateRunParams{})
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingRunRepositoryListByStatusAndFailInterrupted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSchedulingRunRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduling_runs WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.RunStatusQueued, 20).
		WillReturnRows(sqlmock.NewRows(runRowColumns).
			AddRow("run-1", "QUEUED", "IDLE", 0, 0, 0, 0, 0, 0.0, false, 1, `{}`, nil, nil, "u", now, nil, nil, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_runs SET status = 'FAILED'")).
		WithArgs("RUN_INTERRUPTED", "worker restarted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	runs, err := repo.ListByStatus(context.Background(), models.RunStatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	n, err := repo.FailInterrupted(context.Background(), "RUN_INTERRUPTED", "worker restarted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFailureRepositoryReplaceAndList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunFailureRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scheduling_run_failures WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduling_run_failures")).
		WithArgs(sqlmock.AnyArg(), "run-1", "req-1", "TeacherConflict", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceForRun(context.Background(), "run-1", []models.RunFailure{
		{RequirementID: "req-1", Reason: "TeacherConflict", Missing: 2},
	}))

	mock.ExpectQuery(regexp.QuoteMeta("FROM scheduling_run_failures WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "requirement_id", "reason", "missing", "created_at"}).
			AddRow("f1", "run-1", "req-1", "TeacherConflict", 2, time.Now()))
	failures, err := repo.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFailureRepositoryRollsBackOnInsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunFailureRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM scheduling_run_failures").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO scheduling_run_failures").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.ReplaceForRun(context.Background(), "run-1", []models.RunFailure{{RequirementID: "req-1"}})
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
