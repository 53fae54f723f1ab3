package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

const runColumns = `id, status, phase, progress_current, progress_total, scheduled, unscheduled, removed, penalty, truncated, seed, params,
error_code, error_message, created_by, created_at, started_at, finished_at, updated_at`

// SchedulingRunRepository persists scheduling run metadata.
type SchedulingRunRepository struct {
	db *sqlx.DB
}

// NewSchedulingRunRepository constructs the repository.
func NewSchedulingRunRepository(db *sqlx.DB) *SchedulingRunRepository {
	return &SchedulingRunRepository{db: db}
}

// Create inserts a new run row with generated defaults.
func (r *SchedulingRunRepository) Create(ctx context.Context, run *models.SchedulingRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	const query = `INSERT INTO scheduling_runs (id, status, phase, seed, params, created_by, created_at, updated_at)
VALUES (:id, :status, :phase, :seed, :params, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create scheduling run: %w", err)
	}
	return nil
}

// GetByID returns a run by its identifier. A missing row yields sql.ErrNoRows.
func (r *SchedulingRunRepository) GetByID(ctx context.Context, id string) (*models.SchedulingRun, error) {
	query := `SELECT ` + runColumns + ` FROM scheduling_runs WHERE id = $1`
	var run models.SchedulingRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get scheduling run: %w", err)
	}
	return &run, nil
}

// UpdateRunParams defines the mutable fields of a run.
type UpdateRunParams struct {
	Status          *models.RunStatus
	Phase           *string
	ProgressCurrent *int
	ProgressTotal   *int
	Scheduled       *int
	Unscheduled     *int
	Removed         *int
	Penalty         *float64
	Truncated       *bool
	ErrorCode       *string
	ErrorMessage    *string
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// Update persists the provided changes. Terminal runs are left untouched and
// the method reports whether a row changed.
func (r *SchedulingRunRepository) Update(ctx context.Context, id string, params UpdateRunParams) (bool, error) {
	set := make([]string, 0, 14)
	args := make([]interface{}, 0, 15)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Phase != nil {
		add("phase", *params.Phase)
	}
	if params.ProgressCurrent != nil {
		add("progress_current", *params.ProgressCurrent)
	}
	if params.ProgressTotal != nil {
		add("progress_total", *params.ProgressTotal)
	}
	if params.Scheduled != nil {
		add("scheduled", *params.Scheduled)
	}
	if params.Unscheduled != nil {
		add("unscheduled", *params.Unscheduled)
	}
	if params.Removed != nil {
		add("removed", *params.Removed)
	}
	if params.Penalty != nil {
		add("penalty", *params.Penalty)
	}
	if params.Truncated != nil {
		add("truncated", *params.Truncated)
	}
	if params.ErrorCode != nil {
		add("error_code", *params.ErrorCode)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.StartedAt != nil {
		add("started_at", *params.StartedAt)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}

	if len(set) == 0 {
		return false, nil
	}
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf("UPDATE scheduling_runs SET %s WHERE id = $%d AND status NOT IN ('COMPLETED', 'CANCELLED', 'FAILED')",
		strings.Join(set, ", "), len(args)+1)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update scheduling run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update scheduling run: %w", err)
	}
	return n > 0, nil
}

// ListByStatus fetches runs in the given status, oldest first.
func (r *SchedulingRunRepository) ListByStatus(ctx context.Context, status models.RunStatus, limit int) ([]models.SchedulingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM scheduling_runs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var runs []models.SchedulingRun
	if err := r.db.SelectContext(ctx, &runs, query, status, limit); err != nil {
		return nil, fmt.Errorf("list scheduling runs: %w", err)
	}
	return runs, nil
}

// FailInterrupted marks every RUNNING run as FAILED. Used at start-up, when no
// worker can still own them.
func (r *SchedulingRunRepository) FailInterrupted(ctx context.Context, code, message string) (int, error) {
	const query = `UPDATE scheduling_runs SET status = 'FAILED', error_code = $1, error_message = $2, finished_at = $3, updated_at = $3
WHERE status = 'RUNNING'`
	res, err := r.db.ExecContext(ctx, query, code, message, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return int(n), nil
}
