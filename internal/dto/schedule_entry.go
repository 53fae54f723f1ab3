package dto

import "time"

// ScheduleEntryQuery captures GET /schedule-entries filters.
type ScheduleEntryQuery struct {
	From       string `form:"from" validate:"required,datetime=2006-01-02"`
	To         string `form:"to" validate:"required,datetime=2006-01-02"`
	TargetType string `form:"targetType" validate:"omitempty,oneof=none group teacher classroom"`
	TargetID   string `form:"targetId"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" validate:"omitempty,min=1,max=500"`
}

// ScheduleEntryResponse is a committed session with display names.
type ScheduleEntryResponse struct {
	ID              string `json:"id"`
	Date            string `json:"date"`
	Slot            int    `json:"slot"`
	TimeSlotID      string `json:"timeSlotId"`
	StartsAt        string `json:"startsAt"`
	EndsAt          string `json:"endsAt"`
	SubjectID       string `json:"subjectId"`
	SubjectName     string `json:"subjectName"`
	SessionKind     string `json:"sessionKind"`
	ParticipantType string `json:"participantType"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	TeacherID       string `json:"teacherId"`
	TeacherName     string `json:"teacherName"`
	ClassroomID     string `json:"classroomId"`
	ClassroomName   string `json:"classroomName"`
	RunID           string `json:"runId,omitempty"`
}

// ScheduleEntryListResponse is one page of entries.
type ScheduleEntryListResponse struct {
	Items      []ScheduleEntryResponse `json:"items"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"pageSize"`
	TotalCount int                     `json:"totalCount"`
}

// ScheduleExportRequest captures POST /schedule-exports payload.
type ScheduleExportRequest struct {
	From       string `json:"from" validate:"required,datetime=2006-01-02"`
	To         string `json:"to" validate:"required,datetime=2006-01-02"`
	TargetType string `json:"targetType" validate:"omitempty,oneof=none group teacher classroom"`
	TargetID   string `json:"targetId"`
	Format     string `json:"format" validate:"omitempty,oneof=csv pdf xlsx"`
}

// ScheduleExportResponse returns the signed download link.
type ScheduleExportResponse struct {
	ID        string    `json:"id"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
