package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// RequirementRepository reads session requirements.
type RequirementRepository struct {
	db *sqlx.DB
}

// NewRequirementRepository constructs the repository.
func NewRequirementRepository(db *sqlx.DB) *RequirementRepository {
	return &RequirementRepository{db: db}
}

// ListActive returns active requirements with their subject names, in id order.
func (r *RequirementRepository) ListActive(ctx context.Context) ([]models.SessionRequirement, error) {
	const query = `SELECT sr.id, sr.subject_id, s.name AS subject_name, sr.participant_type, sr.participant_id, sr.session_kind,
sr.weekly_count, sr.classroom_type_id, sr.teacher_ids, sr.follows_id, sr.week_parity,
COALESCE(sr.pinned_classroom_id, s.pinned_classroom_id) AS pinned_classroom_id
FROM session_requirements sr JOIN subjects s ON s.id = sr.subject_id
WHERE sr.active = TRUE ORDER BY sr.id`
	var reqs []models.SessionRequirement
	if err := r.db.SelectContext(ctx, &reqs, query); err != nil {
		return nil, fmt.Errorf("list session requirements: %w", err)
	}
	return reqs, nil
}
