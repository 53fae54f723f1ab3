package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// TimetableRepository reads the reference data a scheduling run works over:
// time slots, classrooms, teachers, groups, subgroups, streams and blackouts.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// ListTimeSlots returns the daily teaching periods in order.
func (r *TimetableRepository) ListTimeSlots(ctx context.Context) ([]models.TimeSlot, error) {
	const query = `SELECT id, number, starts_at, ends_at FROM time_slots ORDER BY number ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}

// ListClassrooms returns every bookable classroom.
func (r *TimetableRepository) ListClassrooms(ctx context.Context) ([]models.Classroom, error) {
	const query = `SELECT id, name, capacity, classroom_type_id, building FROM classrooms WHERE active = TRUE ORDER BY id`
	var rooms []models.Classroom
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list classrooms: %w", err)
	}
	return rooms, nil
}

// ListTeachers returns active teachers with their availability grids.
func (r *TimetableRepository) ListTeachers(ctx context.Context) ([]models.Teacher, error) {
	const query = `SELECT id, full_name, email, availability, pinned_classroom_id FROM teachers WHERE active = TRUE ORDER BY id`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query); err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	return teachers, nil
}

// ListGroups returns study groups with their sizes and availability grids.
func (r *TimetableRepository) ListGroups(ctx context.Context) ([]models.StudyGroup, error) {
	const query = `SELECT id, name, student_count, availability, pinned_classroom_id FROM study_groups ORDER BY id`
	var groups []models.StudyGroup
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListSubgroups returns subgroups with their parent group ids.
func (r *TimetableRepository) ListSubgroups(ctx context.Context) ([]models.Subgroup, error) {
	const query = `SELECT id, group_id, name, student_count FROM subgroups ORDER BY group_id, id`
	var subgroups []models.Subgroup
	if err := r.db.SelectContext(ctx, &subgroups, query); err != nil {
		return nil, fmt.Errorf("list subgroups: %w", err)
	}
	return subgroups, nil
}

// ListStreams returns streams with their member group ids.
func (r *TimetableRepository) ListStreams(ctx context.Context) ([]models.Stream, error) {
	const query = `SELECT s.id, s.name, COALESCE(array_agg(sg.group_id ORDER BY sg.group_id) FILTER (WHERE sg.group_id IS NOT NULL), '{}') AS group_ids
FROM streams s LEFT JOIN stream_groups sg ON sg.stream_id = s.id
GROUP BY s.id, s.name ORDER BY s.id`
	var streams []models.Stream
	if err := r.db.SelectContext(ctx, &streams, query); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return streams, nil
}

// ListBlackouts returns blackout ranges overlapping [from, to].
func (r *TimetableRepository) ListBlackouts(ctx context.Context, from, to time.Time) ([]models.Blackout, error) {
	const query = `SELECT id, owner_type, owner_id, starts_on, ends_on, reason FROM blackouts
WHERE starts_on <= $2 AND ends_on >= $1 ORDER BY owner_type, owner_id, starts_on`
	var blackouts []models.Blackout
	if err := r.db.SelectContext(ctx, &blackouts, query, from, to); err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}
	return blackouts, nil
}
