package scheduler

import (
	"context"
	"time"
)

// SessionKind classifies a requirement's sessions.
type SessionKind string

const (
	KindLecture   SessionKind = "lecture"
	KindPractical SessionKind = "practical"
	KindLab       SessionKind = "lab"
	KindOther     SessionKind = "other"
)

// dependent reports whether sessions of this kind follow a lecture.
func (k SessionKind) dependent() bool {
	return k == KindPractical || k == KindLab
}

// WeekParity tags an ISO week as odd or even.
type WeekParity string

const (
	ParityEvery WeekParity = "every"
	ParityOdd   WeekParity = "odd"
	ParityEven  WeekParity = "even"
)

// ParticipantKind distinguishes a single group, a stream of groups and a
// subgroup of one group.
type ParticipantKind string

const (
	ParticipantGroup    ParticipantKind = "group"
	ParticipantStream   ParticipantKind = "stream"
	ParticipantSubgroup ParticipantKind = "subgroup"
)

// Participant is the audience of a session.
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   string          `json:"id"`
}

// TargetType scopes a run to a subset of requirements and entries.
type TargetType string

const (
	TargetNone      TargetType = "none"
	TargetGroup     TargetType = "group"
	TargetTeacher   TargetType = "teacher"
	TargetClassroom TargetType = "classroom"
)

// Target is the optional filter of a run.
type Target struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

// TimeFrame is an inclusive date range.
type TimeFrame struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DateRange is an inclusive blackout range.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether the date falls in the range.
func (r DateRange) Contains(date time.Time) bool {
	d := dayNumber(date)
	return d >= dayNumber(r.From) && d <= dayNumber(r.To)
}

// Preference is a mark in an availability grid.
type Preference int

const (
	PreferenceAllowed Preference = iota
	PreferenceDesirable
	PreferenceUndesirable
	PreferenceForbidden
)

// Availability maps weekday and slot id to a preference. Missing cells are Allowed.
type Availability map[time.Weekday]map[string]Preference

// At returns the preference for a weekday and slot.
func (a Availability) At(day time.Weekday, slotID string) Preference {
	if a == nil {
		return PreferenceAllowed
	}
	return a[day][slotID]
}

// TimeSlot is a daily period.
type TimeSlot struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Classroom is a bookable room.
type Classroom struct {
	ID        string      `json:"id"`
	Capacity  int         `json:"capacity"`
	TypeID    string      `json:"typeId"`
	Blackouts []DateRange `json:"blackouts,omitempty"`
}

// Teacher is a lecturer with an availability grid.
type Teacher struct {
	ID                string       `json:"id"`
	Availability      Availability `json:"availability,omitempty"`
	Blackouts         []DateRange  `json:"blackouts,omitempty"`
	PinnedClassroomID string       `json:"pinnedClassroomId,omitempty"`
}

// Group is a student group.
type Group struct {
	ID                string       `json:"id"`
	Size              int          `json:"size"`
	Availability      Availability `json:"availability,omitempty"`
	Blackouts         []DateRange  `json:"blackouts,omitempty"`
	PinnedClassroomID string       `json:"pinnedClassroomId,omitempty"`
}

// Subgroup is part of a group taught separately. Its sessions book the parent group.
type Subgroup struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Size    int    `json:"size"`
}

// Stream joins several groups for shared lectures.
type Stream struct {
	ID       string   `json:"id"`
	GroupIDs []string `json:"groupIds"`
}

// Requirement describes how often a subject must meet in a week.
type Requirement struct {
	ID          string      `json:"id"`
	SubjectID   string      `json:"subjectId"`
	Participant Participant `json:"participant"`
	Kind        SessionKind `json:"kind"`
	WeeklyCount int         `json:"weeklyCount"`
	RoomTypeID  string      `json:"roomTypeId,omitempty"`
	TeacherIDs  []string    `json:"teacherIds"`
	// FollowsID names a lecture requirement this one must follow. When empty,
	// lectures of the same subject sharing a group are used.
	FollowsID         string     `json:"followsId,omitempty"`
	Parity            WeekParity `json:"parity,omitempty"`
	PinnedClassroomID string     `json:"pinnedClassroomId,omitempty"`
}

// Entry is one placed session.
type Entry struct {
	ID            string      `json:"id,omitempty"`
	Date          time.Time   `json:"date"`
	SlotID        string      `json:"slotId"`
	ClassroomID   string      `json:"classroomId"`
	TeacherID     string      `json:"teacherId"`
	RequirementID string      `json:"requirementId,omitempty"`
	SubjectID     string      `json:"subjectId,omitempty"`
	Participant   Participant `json:"participant"`
	Kind          SessionKind `json:"kind"`
}

// ReasonCode explains why an occurrence could not be placed.
type ReasonCode string

const (
	ReasonNoEligibleSlot        ReasonCode = "NoEligibleSlot"
	ReasonNoEligibleRoom        ReasonCode = "NoEligibleRoom"
	ReasonTeacherConflict       ReasonCode = "TeacherConflict"
	ReasonOrderingUnsatisfiable ReasonCode = "OrderingUnsatisfiable"
)

// Unscheduled is one occurrence left without a placement.
type Unscheduled struct {
	RequirementID string     `json:"requirementId"`
	Reason        ReasonCode `json:"reasonCode"`
}

// CalendarData is the production calendar in effect for a run.
type CalendarData struct {
	Holidays        []time.Time    `json:"holidays,omitempty"`
	ShortenedDays   []time.Time    `json:"shortenedDays,omitempty"`
	ExtraWorkdays   []time.Time    `json:"extraWorkdays,omitempty"`
	WorkingWeekdays []time.Weekday `json:"workingWeekdays,omitempty"`
}

// Options tune a run.
type Options struct {
	Iterations          int   `json:"iterations"`
	Seed                int64 `json:"seed"`
	Parallelism         int   `json:"parallelism,omitempty"`
	Strictness          int   `json:"strictness"`
	ClearExisting       bool  `json:"clearExisting"`
	EnforceLectureOrder bool  `json:"enforceLectureOrder"`
	DistributeEvenly    bool  `json:"distributeEvenly"`
	AllowOverbooking    bool  `json:"allowOverbooking"`
	AllowWindows        bool  `json:"allowWindows"`
	WeekParity          bool  `json:"weekParity"`
	ShortenPreHoliday   bool  `json:"shortenPreHoliday"`
	// IgnoreProductionCalendar drops holiday, shortened and extra working day data.
	IgnoreProductionCalendar bool `json:"ignoreProductionCalendar"`
}

// ProgressFunc receives monotonic progress. It must not block.
type ProgressFunc func(Progress)

// Progress is a snapshot of work done against the total expected.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// StateFunc observes engine state transitions.
type StateFunc func(State)

// Request is the complete input of a run.
type Request struct {
	Requirements []Requirement
	Target       Target
	Frame        TimeFrame
	Calendar     CalendarData
	TimeSlots    []TimeSlot
	Classrooms   []Classroom
	Teachers     []Teacher
	Groups       []Group
	Subgroups    []Subgroup
	Streams      []Stream
	Options      Options

	OnProgress ProgressFunc
	OnState    StateFunc
}

// Changeset is what a run commits to the store.
type Changeset struct {
	Removed []Entry
	Added   []Entry
}

// Store holds the authoritative schedule occupancy.
type Store interface {
	// Snapshot returns committed entries dated inside the frame.
	Snapshot(ctx context.Context, frame TimeFrame) ([]Entry, error)
	// Apply commits a changeset atomically.
	Apply(ctx context.Context, cs Changeset) error
}

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeFailed    Outcome = "FAILED"
)

// Result is the output of a run.
type Result struct {
	Outcome       Outcome       `json:"outcome"`
	Scheduled     int           `json:"scheduled"`
	Unscheduled   int           `json:"unscheduled"`
	FailedEntries []Unscheduled `json:"failedEntries"`
	Added         []Entry       `json:"added,omitempty"`
	Removed       []Entry       `json:"removed,omitempty"`
	Penalty       float64       `json:"penalty"`
	Seed          int64         `json:"seed"`
	BestIteration int           `json:"bestIteration"`
	Iterations    int           `json:"iterations"`
	// Truncated is set when cancellation stopped the run after at least one pass.
	Truncated bool `json:"truncated,omitempty"`
}
