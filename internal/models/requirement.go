package models

// SessionRequirement is a curriculum demand: how many sessions of one kind a
// subject needs per week for a group, subgroup or stream.
type SessionRequirement struct {
	ID                string      `db:"id" json:"id"`
	SubjectID         string      `db:"subject_id" json:"subject_id"`
	SubjectName       string      `db:"subject_name" json:"subject_name"`
	ParticipantType   string      `db:"participant_type" json:"participant_type"`
	ParticipantID     string      `db:"participant_id" json:"participant_id"`
	SessionKind       string      `db:"session_kind" json:"session_kind"`
	WeeklyCount       int         `db:"weekly_count" json:"weekly_count"`
	ClassroomTypeID   *string     `db:"classroom_type_id" json:"classroom_type_id,omitempty"`
	TeacherIDs        StringArray `db:"teacher_ids" json:"teacher_ids"`
	FollowsID         *string     `db:"follows_id" json:"follows_id,omitempty"`
	WeekParity        string      `db:"week_parity" json:"week_parity"`
	PinnedClassroomID *string     `db:"pinned_classroom_id" json:"pinned_classroom_id,omitempty"`
}
