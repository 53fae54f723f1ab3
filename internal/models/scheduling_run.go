package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus captures the scheduling run lifecycle.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCancelled RunStatus = "CANCELLED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusFailed
}

// SchedulingRun is the persisted record of one engine invocation.
type SchedulingRun struct {
	ID              string     `db:"id" json:"id"`
	Status          RunStatus  `db:"status" json:"status"`
	Phase           string     `db:"phase" json:"phase"`
	ProgressCurrent int        `db:"progress_current" json:"progress_current"`
	ProgressTotal   int        `db:"progress_total" json:"progress_total"`
	Scheduled       int        `db:"scheduled" json:"scheduled"`
	Unscheduled     int        `db:"unscheduled" json:"unscheduled"`
	Removed         int        `db:"removed" json:"removed"`
	Penalty         float64    `db:"penalty" json:"penalty"`
	Truncated       bool       `db:"truncated" json:"truncated"`
	Seed            int64      `db:"seed" json:"seed"`
	Params          RunParams  `db:"params" json:"params"`
	ErrorCode       *string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// RunParams stores the request that produced a run. Persisted as JSONB.
type RunParams struct {
	TargetType string     `json:"targetType"`
	TargetID   string     `json:"targetId,omitempty"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Options    RunOptions `json:"options"`
}

// RunOptions mirrors the engine options in their persisted form.
type RunOptions struct {
	Iterations               int    `json:"iterations"`
	Seed                     *int64 `json:"seed,omitempty"`
	Strictness               int    `json:"strictness"`
	ClearExisting            bool   `json:"clearExisting"`
	EnforceLectureOrder      bool   `json:"enforceLectureOrder"`
	DistributeEvenly         bool   `json:"distributeEvenly"`
	AllowOverbooking         bool   `json:"allowOverbooking"`
	AllowWindows             bool   `json:"allowWindows"`
	WeekParity               bool   `json:"weekParity"`
	ShortenPreHoliday        *bool  `json:"shortenPreHoliday,omitempty"`
	IgnoreProductionCalendar bool   `json:"ignoreProductionCalendar"`
}

// Value marshals params to JSON for persistence.
func (p RunParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal run params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *RunParams) Scan(value interface{}) error {
	*p = RunParams{}
	return scanJSON(value, p, "run params")
}

// RunFailure is one requirement a run could not place in full.
type RunFailure struct {
	ID            string    `db:"id" json:"id"`
	RunID         string    `db:"run_id" json:"run_id"`
	RequirementID string    `db:"requirement_id" json:"requirement_id"`
	Reason        string    `db:"reason" json:"reason"`
	Missing       int       `db:"missing" json:"missing"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// RunProgress is the live snapshot pushed to cache and websocket subscribers.
type RunProgress struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Phase     string    `json:"phase"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}
