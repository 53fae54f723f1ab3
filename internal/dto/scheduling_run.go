package dto

import (
	"time"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
)

// CreateSchedulingRunRequest captures POST /scheduling-runs payload. Dates use
// the YYYY-MM-DD layout and both ends of the frame are inclusive.
type CreateSchedulingRunRequest struct {
	TargetType               string `json:"targetType" validate:"omitempty,oneof=none group teacher classroom"`
	TargetID                 string `json:"targetId"`
	From                     string `json:"from" validate:"required,datetime=2006-01-02"`
	To                       string `json:"to" validate:"required,datetime=2006-01-02"`
	Iterations               *int   `json:"iterations" validate:"omitempty,min=1"`
	Seed                     *int64 `json:"seed"`
	Strictness               *int   `json:"strictness" validate:"omitempty,min=1,max=10"`
	ClearExisting            bool   `json:"clearExisting"`
	EnforceLectureOrder      bool   `json:"enforceLectureOrder"`
	DistributeEvenly         bool   `json:"distributeEvenly"`
	AllowOverbooking         bool   `json:"allowOverbooking"`
	AllowWindows             bool   `json:"allowWindows"`
	WeekParity               bool   `json:"weekParity"`
	ShortenPreHoliday        *bool  `json:"shortenPreHoliday"`
	IgnoreProductionCalendar bool   `json:"ignoreProductionCalendar"`
}

// SchedulingRunAccepted is returned once a run is queued.
type SchedulingRunAccepted struct {
	ID     string           `json:"id"`
	Status models.RunStatus `json:"status"`
	Seed   int64            `json:"seed"`
}

// RunProgressView is the progress block of a run status.
type RunProgressView struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// RunErrorView describes why a run failed.
type RunErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SchedulingRunResponse exposes run status to clients.
type SchedulingRunResponse struct {
	ID          string           `json:"id"`
	Status      models.RunStatus `json:"status"`
	Phase       string           `json:"phase"`
	Progress    RunProgressView  `json:"progress"`
	Scheduled   int              `json:"scheduled"`
	Unscheduled int              `json:"unscheduled"`
	Removed     int              `json:"removed"`
	Penalty     float64          `json:"penalty"`
	Truncated   bool             `json:"truncated"`
	Seed        int64            `json:"seed"`
	Params      models.RunParams `json:"params"`
	Error       *RunErrorView    `json:"error,omitempty"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
}

// RunFailureResponse is one requirement a run left short.
type RunFailureResponse struct {
	RequirementID string `json:"requirementId"`
	ReasonCode    string `json:"reasonCode"`
	Missing       int    `json:"missing"`
}

// NewSchedulingRunResponse maps a persisted run.
func NewSchedulingRunResponse(run *models.SchedulingRun) SchedulingRunResponse {
	resp := SchedulingRunResponse{
		ID:          run.ID,
		Status:      run.Status,
		Phase:       run.Phase,
		Progress:    RunProgressView{Current: run.ProgressCurrent, Total: run.ProgressTotal},
		Scheduled:   run.Scheduled,
		Unscheduled: run.Unscheduled,
		Removed:     run.Removed,
		Penalty:     run.Penalty,
		Truncated:   run.Truncated,
		Seed:        run.Seed,
		Params:      run.Params,
		CreatedBy:   run.CreatedBy,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.ErrorCode != nil && *run.ErrorCode != "" {
		resp.Error = &RunErrorView{Code: *run.ErrorCode}
		if run.ErrorMessage != nil {
			resp.Error.Message = *run.ErrorMessage
		}
	}
	return resp
}
