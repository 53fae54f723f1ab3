package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// RunFailureRepository stores requirements a run could not place.
type RunFailureRepository struct {
	db *sqlx.DB
}

// NewRunFailureRepository constructs the repository.
func NewRunFailureRepository(db *sqlx.DB) *RunFailureRepository {
	return &RunFailureRepository{db: db}
}

// ReplaceForRun swaps the stored failures of a run for the given list.
func (r *RunFailureRepository) ReplaceForRun(ctx context.Context, runID string, failures []models.RunFailure) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run failures: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM scheduling_run_failures WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear run failures: %w", err)
	}
	const insert = `INSERT INTO scheduling_run_failures (id, run_id, requirement_id, reason, missing, created_at)
VALUES (:id, :run_id, :requirement_id, :reason, :missing, :created_at)`
	now := time.Now().UTC()
	for i := range failures {
		f := &failures[i]
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.RunID = runID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if _, err = tx.NamedExecContext(ctx, insert, f); err != nil {
			return fmt.Errorf("insert run failure: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run failures: %w", err)
	}
	return nil
}

// ListByRun returns the failures of a run ordered by requirement.
func (r *RunFailureRepository) ListByRun(ctx context.Context, runID string) ([]models.RunFailure, error) {
	const query = `SELECT id, run_id, requirement_id, reason, missing, created_at FROM scheduling_run_failures
WHERE run_id = $1 ORDER BY requirement_id ASC`
	var failures []models.RunFailure
	if err := r.db.SelectContext(ctx, &failures, query, runID); err != nil {
		return nil, fmt.Errorf("list run failures: %w", err)
	}
	return failures, nil
}
