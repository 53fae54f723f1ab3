package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type timetableSource interface {
	ListTimeSlots(ctx context.Context) ([]models.TimeSlot, error)
	ListClassrooms(ctx context.Context) ([]models.Classroom, error)
	ListTeachers(ctx context.Context) ([]models.Teacher, error)
	ListGroups(ctx context.Context) ([]models.StudyGroup, error)
	ListSubgroups(ctx context.Context) ([]models.Subgroup, error)
	ListStreams(ctx context.Context) ([]models.Stream, error)
	ListBlackouts(ctx context.Context, from, to time.Time) ([]models.Blackout, error)
}

type requirementSource interface {
	ListActive(ctx context.Context) ([]models.SessionRequirement, error)
}

type calendarSource interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]models.CalendarEvent, error)
}

// WorkspaceLoader assembles a scheduler request from the relational model.
type WorkspaceLoader struct {
	timetable    timetableSource
	requirements requirementSource
	calendar     calendarSource
	weekdays     []time.Weekday
	logger       *zap.Logger
}

// NewWorkspaceLoader constructs a loader. Empty weekdays fall back to Monday
// through Saturday.
func NewWorkspaceLoader(timetable timetableSource, requirements requirementSource, calendar calendarSource, weekdays []time.Weekday, logger *zap.Logger) *WorkspaceLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(weekdays) == 0 {
		weekdays = scheduler.DefaultWorkingWeekdays
	}
	return &WorkspaceLoader{timetable: timetable, requirements: requirements, calendar: calendar, weekdays: weekdays, logger: logger}
}

// ParseFrame validates and parses an inclusive YYYY-MM-DD range.
func ParseFrame(from, to string) (scheduler.TimeFrame, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(from))
	if err != nil {
		return scheduler.TimeFrame{}, appErrors.Clone(appErrors.ErrValidation, "from must be a YYYY-MM-DD date")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(to))
	if err != nil {
		return scheduler.TimeFrame{}, appErrors.Clone(appErrors.ErrValidation, "to must be a YYYY-MM-DD date")
	}
	if end.Before(start) {
		return scheduler.TimeFrame{}, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	return scheduler.TimeFrame{Start: start, End: end}, nil
}

// Load reads every input of a run. Options are copied into the request as-is.
func (l *WorkspaceLoader) Load(ctx context.Context, params models.RunParams, opts scheduler.Options) (*scheduler.Request, error) {
	frame, err := ParseFrame(params.From, params.To)
	if err != nil {
		return nil, err
	}
	wrap := func(err error, what string) error {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
	}

	slots, err := l.timetable.ListTimeSlots(ctx)
	if err != nil {
		return nil, wrap(err, "time slots")
	}
	rooms, err := l.timetable.ListClassrooms(ctx)
	if err != nil {
		return nil, wrap(err, "classrooms")
	}
	teachers, err := l.timetable.ListTeachers(ctx)
	if err != nil {
		return nil, wrap(err, "teachers")
	}
	groups, err := l.timetable.ListGroups(ctx)
	if err != nil {
		return nil, wrap(err, "groups")
	}
	subgroups, err := l.timetable.ListSubgroups(ctx)
	if err != nil {
		return nil, wrap(err, "subgroups")
	}
	streams, err := l.timetable.ListStreams(ctx)
	if err != nil {
		return nil, wrap(err, "streams")
	}
	blackouts, err := l.timetable.ListBlackouts(ctx, frame.Start, frame.End)
	if err != nil {
		return nil, wrap(err, "blackouts")
	}
	requirements, err := l.requirements.ListActive(ctx)
	if err != nil {
		return nil, wrap(err, "requirements")
	}

	calendar := scheduler.CalendarData{WorkingWeekdays: l.weekdays}
	if !opts.IgnoreProductionCalendar && l.calendar != nil {
		events, err := l.calendar.ListEvents(ctx, frame.Start, frame.End)
		if err != nil {
			return nil, wrap(err, "calendar events")
		}
		calendar = calendarData(events, l.weekdays)
	}

	byOwner := lo.GroupBy(blackouts, func(b models.Blackout) string { return string(b.OwnerType) + ":" + b.OwnerID })
	ranges := func(owner models.BlackoutOwner, id string) []scheduler.DateRange {
		return lo.Map(byOwner[string(owner)+":"+id], func(b models.Blackout, _ int) scheduler.DateRange {
			return scheduler.DateRange{From: b.StartsOn, To: b.EndsOn}
		})
	}

	req := &scheduler.Request{
		Target:   scheduler.Target{Type: targetType(params.TargetType), ID: params.TargetID},
		Frame:    frame,
		Calendar: calendar,
		Options:  opts,
		TimeSlots: lo.Map(slots, func(s models.TimeSlot, _ int) scheduler.TimeSlot {
			return scheduler.TimeSlot{ID: s.ID, Index: s.Number, Start: s.StartsAt, End: s.EndsAt}
		}),
		Classrooms: lo.Map(rooms, func(r models.Classroom, _ int) scheduler.Classroom {
			return scheduler.Classroom{ID: r.ID, Capacity: r.Capacity, TypeID: lo.FromPtr(r.ClassroomTypeID), Blackouts: ranges(models.BlackoutClassroom, r.ID)}
		}),
		Subgroups: lo.Map(subgroups, func(sg models.Subgroup, _ int) scheduler.Subgroup {
			return scheduler.Subgroup{ID: sg.ID, GroupID: sg.GroupID, Size: sg.StudentCount}
		}),
		Streams: lo.Map(streams, func(s models.Stream, _ int) scheduler.Stream {
			return scheduler.Stream{ID: s.ID, GroupIDs: []string(s.GroupIDs)}
		}),
	}
	for _, t := range teachers {
		avail, err := l.availability(t.Availability, "teacher", t.ID)
		if err != nil {
			return nil, err
		}
		req.Teachers = append(req.Teachers, scheduler.Teacher{
			ID:                t.ID,
			Availability:      avail,
			Blackouts:         ranges(models.BlackoutTeacher, t.ID),
			PinnedClassroomID: lo.FromPtr(t.PinnedClassroomID),
		})
	}
	for _, g := range groups {
		avail, err := l.availability(g.Availability, "group", g.ID)
		if err != nil {
			return nil, err
		}
		req.Groups = append(req.Groups, scheduler.Group{
			ID:                g.ID,
			Size:              g.StudentCount,
			Availability:      avail,
			Blackouts:         ranges(models.BlackoutGroup, g.ID),
			PinnedClassroomID: lo.FromPtr(g.PinnedClassroomID),
		})
	}
	for _, r := range requirements {
		req.Requirements = append(req.Requirements, scheduler.Requirement{
			ID:                r.ID,
			SubjectID:         r.SubjectID,
			Participant:       scheduler.Participant{Kind: scheduler.ParticipantKind(r.ParticipantType), ID: r.ParticipantID},
			Kind:              scheduler.SessionKind(r.SessionKind),
			WeeklyCount:       r.WeeklyCount,
			RoomTypeID:        lo.FromPtr(r.ClassroomTypeID),
			TeacherIDs:        []string(r.TeacherIDs),
			FollowsID:         lo.FromPtr(r.FollowsID),
			Parity:            scheduler.WeekParity(r.WeekParity),
			PinnedClassroomID: lo.FromPtr(r.PinnedClassroomID),
		})
	}

	l.logger.Sugar().Debugw("workspace loaded",
		"requirements", len(req.Requirements),
		"classrooms", len(req.Classrooms),
		"teachers", len(req.Teachers),
		"groups", len(req.Groups),
		"subgroups", len(req.Subgroups),
		"holidays", len(calendar.Holidays),
	)
	return req, nil
}

func targetType(raw string) scheduler.TargetType {
	if raw == "" {
		return scheduler.TargetNone
	}
	return scheduler.TargetType(raw)
}

// calendarData folds production calendar events into engine calendar data.
func calendarData(events []models.CalendarEvent, weekdays []time.Weekday) scheduler.CalendarData {
	data := scheduler.CalendarData{WorkingWeekdays: weekdays}
	for _, ev := range events {
		date := scheduler.DateOnly(ev.EventDate)
		switch {
		case ev.EventType.NonWorking():
			data.Holidays = append(data.Holidays, date)
		case ev.EventType == models.CalendarPreHoliday:
			data.ShortenedDays = append(data.ShortenedDays, date)
		case ev.EventType == models.CalendarSpecialWorkday:
			data.ExtraWorkdays = append(data.ExtraWorkdays, date)
		}
	}
	return data
}

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var preferenceByName = map[string]scheduler.Preference{
	"allowed":     scheduler.PreferenceAllowed,
	"":            scheduler.PreferenceAllowed,
	"desirable":   scheduler.PreferenceDesirable,
	"undesirable": scheduler.PreferenceUndesirable,
	"forbidden":   scheduler.PreferenceForbidden,
}

func (l *WorkspaceLoader) availability(grid models.AvailabilityGrid, owner, id string) (scheduler.Availability, error) {
	if len(grid) == 0 {
		return nil, nil
	}
	out := make(scheduler.Availability, len(grid))
	for dayName, slots := range grid {
		day, ok := weekdayByName[strings.ToLower(strings.TrimSpace(dayName))]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s %s availability: unknown weekday %q", owner, id, dayName))
		}
		marks := make(map[string]scheduler.Preference, len(slots))
		for slotID, raw := range slots {
			pref, ok := preferenceByName[strings.ToLower(strings.TrimSpace(raw))]
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s %s availability: unknown preference %q", owner, id, raw))
			}
			if pref != scheduler.PreferenceAllowed {
				marks[slotID] = pref
			}
		}
		out[day] = marks
	}
	return out, nil
}
