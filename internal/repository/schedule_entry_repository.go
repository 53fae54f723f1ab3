package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// ErrEntryConflict reports that a changeset would break a uniqueness index or
// touched rows that changed underneath it.
var ErrEntryConflict = errors.New("schedule entry conflict")

const uniqueViolation = "23505"

// changesetLockKey is the advisory lock every changeset takes so commits from
// concurrent runs apply one at a time.
const changesetLockKey int64 = 0x5C4ED

// cellClashQuery finds a (date, slot) cell where a room, teacher or study
// group is booked twice and at least one of the bookings is new. Streams and
// subgroups are expanded to the groups they occupy.
const cellClashQuery = `WITH cells AS (
SELECT se.id, se.session_date, se.time_slot_id, 'classroom ' || se.classroom_id AS resource
FROM schedule_entries se WHERE se.session_date = ANY($1::date[])
UNION ALL
SELECT se.id, se.session_date, se.time_slot_id, 'teacher ' || se.teacher_id
FROM schedule_entries se WHERE se.session_date = ANY($1::date[])
UNION ALL
SELECT se.id, se.session_date, se.time_slot_id, 'group ' || COALESCE(sg.group_id, sub.group_id, se.participant_id)
FROM schedule_entries se
LEFT JOIN stream_groups sg ON se.participant_type = 'stream' AND sg.stream_id = se.participant_id
LEFT JOIN subgroups sub ON se.participant_type = 'subgroup' AND sub.id = se.participant_id
WHERE se.session_date = ANY($1::date[])
)
SELECT session_date, time_slot_id, resource FROM cells
GROUP BY session_date, time_slot_id, resource
HAVING COUNT(*) > 1 AND bool_or(id = ANY($2))
LIMIT 1`

type cellClash struct {
	SessionDate time.Time `db:"session_date"`
	TimeSlotID  string    `db:"time_slot_id"`
	Resource    string    `db:"resource"`
}

const entryColumns = `se.id, se.session_date, se.time_slot_id, se.classroom_id, se.teacher_id, se.requirement_id, se.subject_id,
se.participant_type, se.participant_id, se.session_kind, se.run_id, se.created_at`

// ScheduleEntryRepository persists committed session occurrences.
type ScheduleEntryRepository struct {
	db *sqlx.DB
}

// NewScheduleEntryRepository constructs the repository.
func NewScheduleEntryRepository(db *sqlx.DB) *ScheduleEntryRepository {
	return &ScheduleEntryRepository{db: db}
}

// ListInRange returns every entry dated within [from, to].
func (r *ScheduleEntryRepository) ListInRange(ctx context.Context, from, to time.Time) ([]models.ScheduleEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries se
WHERE se.session_date BETWEEN $1 AND $2 ORDER BY se.session_date, se.time_slot_id, se.classroom_id`
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, from, to); err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	return entries, nil
}

// List returns entries with display names, filtered by date range and target.
// A zero PageSize returns every match.
func (r *ScheduleEntryRepository) List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntryView, int, error) {
	conditions := []string{"se.session_date BETWEEN $1 AND $2"}
	args := []interface{}{filter.From, filter.To}

	if filter.TargetID != "" {
		pos := len(args) + 1
		switch filter.TargetType {
		case "group":
			conditions = append(conditions, fmt.Sprintf(
				"((se.participant_type = 'group' AND se.participant_id = $%d) OR (se.participant_type = 'stream' AND se.participant_id IN (SELECT stream_id FROM stream_groups WHERE group_id = $%d)) OR (se.participant_type = 'subgroup' AND se.participant_id IN (SELECT id FROM subgroups WHERE group_id = $%d)))", pos, pos, pos))
		case "teacher":
			conditions = append(conditions, fmt.Sprintf("se.teacher_id = $%d", pos))
		case "classroom":
			conditions = append(conditions, fmt.Sprintf("se.classroom_id = $%d", pos))
		default:
			return nil, 0, fmt.Errorf("unknown target type %q", filter.TargetType)
		}
		args = append(args, filter.TargetID)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM schedule_entries se"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule entries: %w", err)
	}

	query := `SELECT ` + entryColumns + `, ts.number AS slot_number, ts.starts_at, ts.ends_at,
COALESCE(s.name, se.subject_id) AS subject_name, COALESCE(t.full_name, se.teacher_id) AS teacher_name,
COALESCE(c.name, se.classroom_id) AS classroom_name, COALESCE(g.name, st.name, sub.name, se.participant_id) AS participant_name
FROM schedule_entries se
JOIN time_slots ts ON ts.id = se.time_slot_id
LEFT JOIN subjects s ON s.id = se.subject_id
LEFT JOIN teachers t ON t.id = se.teacher_id
LEFT JOIN classrooms c ON c.id = se.classroom_id
LEFT JOIN study_groups g ON se.participant_type = 'group' AND g.id = se.participant_id
LEFT JOIN streams st ON se.participant_type = 'stream' AND st.id = se.participant_id
LEFT JOIN subgroups sub ON se.participant_type = 'subgroup' AND sub.id = se.participant_id` + where +
		` ORDER BY se.session_date ASC, ts.number ASC, se.classroom_id ASC`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	var entries []models.ScheduleEntryView
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule entry views: %w", err)
	}
	return entries, total, nil
}

// ApplyChangeset removes and inserts entries in a single transaction. Either
// every change lands or none does. Changesets are serialized on an advisory
// lock and the inserted rows are re-checked against whatever was committed
// since the caller took its snapshot.
func (r *ScheduleEntryRepository) ApplyChangeset(ctx context.Context, removedIDs []string, added []models.ScheduleEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changesetLockKey); err != nil {
		return fmt.Errorf("lock changeset: %w", err)
	}

	if len(removedIDs) > 0 {
		res, execErr := tx.ExecContext(ctx, `DELETE FROM schedule_entries WHERE id = ANY($1)`, pq.Array(removedIDs))
		if execErr != nil {
			return fmt.Errorf("delete schedule entries: %w", execErr)
		}
		if n, rowsErr := res.RowsAffected(); rowsErr == nil && int(n) != len(removedIDs) {
			return fmt.Errorf("%w: removed %d of %d entries", ErrEntryConflict, n, len(removedIDs))
		}
	}

	const insert = `INSERT INTO schedule_entries (id, session_date, time_slot_id, classroom_id, teacher_id, requirement_id, subject_id, participant_type, participant_id, session_kind, run_id, created_at)
VALUES (:id, :session_date, :time_slot_id, :classroom_id, :teacher_id, :requirement_id, :subject_id, :participant_type, :participant_id, :session_kind, :run_id, :created_at)`
	now := time.Now().UTC()
	addedIDs := make([]string, 0, len(added))
	dates := make(map[string]struct{}, len(added))
	for i := range added {
		entry := &added[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if _, execErr := tx.NamedExecContext(ctx, insert, entry); execErr != nil {
			var pqErr *pq.Error
			if errors.As(execErr, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrEntryConflict, pqErr.Constraint)
			}
			return fmt.Errorf("insert schedule entry: %w", execErr)
		}
		addedIDs = append(addedIDs, entry.ID)
		dates[entry.SessionDate.Format("2006-01-02")] = struct{}{}
	}

	if len(addedIDs) > 0 {
		days := make([]string, 0, len(dates))
		for day := range dates {
			days = append(days, day)
		}
		sort.Strings(days)
		var clashes []cellClash
		if err = tx.SelectContext(ctx, &clashes, cellClashQuery, pq.Array(days), pq.Array(addedIDs)); err != nil {
			return fmt.Errorf("check schedule entry clashes: %w", err)
		}
		if len(clashes) > 0 {
			c := clashes[0]
			return fmt.Errorf("%w: %s double-booked on %s slot %s", ErrEntryConflict, c.Resource, c.SessionDate.Format("2006-01-02"), c.TimeSlotID)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}
