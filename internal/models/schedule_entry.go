package models

import "time"

// ScheduleEntry is one committed session occurrence.
type ScheduleEntry struct {
	ID              string    `db:"id" json:"id"`
	SessionDate     time.Time `db:"session_date" json:"session_date"`
	TimeSlotID      string    `db:"time_slot_id" json:"time_slot_id"`
	ClassroomID     string    `db:"classroom_id" json:"classroom_id"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	RequirementID   *string   `db:"requirement_id" json:"requirement_id,omitempty"`
	SubjectID       string    `db:"subject_id" json:"subject_id"`
	ParticipantType string    `db:"participant_type" json:"participant_type"`
	ParticipantID   string    `db:"participant_id" json:"participant_id"`
	SessionKind     string    `db:"session_kind" json:"session_kind"`
	RunID           *string   `db:"run_id" json:"run_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ScheduleEntryView adds display names for listings and exports.
type ScheduleEntryView struct {
	ScheduleEntry
	SlotNumber      int    `db:"slot_number" json:"slot_number"`
	StartsAt        string `db:"starts_at" json:"starts_at"`
	EndsAt          string `db:"ends_at" json:"ends_at"`
	SubjectName     string `db:"subject_name" json:"subject_name"`
	TeacherName     string `db:"teacher_name" json:"teacher_name"`
	ClassroomName   string `db:"classroom_name" json:"classroom_name"`
	ParticipantName string `db:"participant_name" json:"participant_name"`
}

// ScheduleEntryFilter narrows entry listings to a date range and optional target.
type ScheduleEntryFilter struct {
	From       time.Time
	To         time.Time
	TargetType string
	TargetID   string
	Page       int
	PageSize   int
}
