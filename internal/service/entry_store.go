package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

type scheduleEntryStore interface {
	ListInRange(ctx context.Context, from, to time.Time) ([]models.ScheduleEntry, error)
	ApplyChangeset(ctx context.Context, removedIDs []string, added []models.ScheduleEntry) error
}

// runEntryStore adapts the schedule entry repository to the engine store,
// stamping inserted entries with the run that produced them.
type runEntryStore struct {
	repo  scheduleEntryStore
	runID string
}

func newRunEntryStore(repo scheduleEntryStore, runID string) *runEntryStore {
	return &runEntryStore{repo: repo, runID: runID}
}

func (s *runEntryStore) Snapshot(ctx context.Context, frame scheduler.TimeFrame) ([]scheduler.Entry, error) {
	rows, err := s.repo.ListInRange(ctx, frame.Start, frame.End)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row models.ScheduleEntry, _ int) scheduler.Entry { return toEngineEntry(row) }), nil
}

func (s *runEntryStore) Apply(ctx context.Context, cs scheduler.Changeset) error {
	removed := make([]string, 0, len(cs.Removed))
	for _, e := range cs.Removed {
		if e.ID == "" {
			return appErrors.Clone(appErrors.ErrInternalInconsistency, fmt.Sprintf("removed entry on %s slot %s has no id", e.Date.Format(dateLayout), e.SlotID))
		}
		removed = append(removed, e.ID)
	}
	added := lo.Map(cs.Added, func(e scheduler.Entry, _ int) models.ScheduleEntry { return fromEngineEntry(e, s.runID) })
	return s.repo.ApplyChangeset(ctx, removed, added)
}

func toEngineEntry(row models.ScheduleEntry) scheduler.Entry {
	return scheduler.Entry{
		ID:            row.ID,
		Date:          scheduler.DateOnly(row.SessionDate),
		SlotID:        row.TimeSlotID,
		ClassroomID:   row.ClassroomID,
		TeacherID:     row.TeacherID,
		RequirementID: lo.FromPtr(row.RequirementID),
		SubjectID:     row.SubjectID,
		Participant:   scheduler.Participant{Kind: scheduler.ParticipantKind(row.ParticipantType), ID: row.ParticipantID},
		Kind:          scheduler.SessionKind(row.SessionKind),
	}
}

func fromEngineEntry(e scheduler.Entry, runID string) models.ScheduleEntry {
	return models.ScheduleEntry{
		SessionDate:     e.Date,
		TimeSlotID:      e.SlotID,
		ClassroomID:     e.ClassroomID,
		TeacherID:       e.TeacherID,
		RequirementID:   lo.EmptyableToPtr(e.RequirementID),
		SubjectID:       e.SubjectID,
		ParticipantType: string(e.Participant.Kind),
		ParticipantID:   e.Participant.ID,
		SessionKind:     string(e.Kind),
		RunID:           lo.EmptyableToPtr(runID),
	}
}
