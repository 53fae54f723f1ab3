package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeSlot is a numbered teaching period within a day.
type TimeSlot struct {
	ID       string `db:"id" json:"id"`
	Number   int    `db:"number" json:"number"`
	StartsAt string `db:"starts_at" json:"starts_at"`
	EndsAt   string `db:"ends_at" json:"ends_at"`
}

// Classroom is a bookable room.
type Classroom struct {
	ID              string  `db:"id" json:"id"`
	Name            string  `db:"name" json:"name"`
	Capacity        int     `db:"capacity" json:"capacity"`
	ClassroomTypeID *string `db:"classroom_type_id" json:"classroom_type_id,omitempty"`
	Building        *string `db:"building" json:"building,omitempty"`
}

// Teacher is an instructor together with their weekly availability grid.
type Teacher struct {
	ID                string           `db:"id" json:"id"`
	FullName          string           `db:"full_name" json:"full_name"`
	Email             string           `db:"email" json:"email"`
	Availability      AvailabilityGrid `db:"availability" json:"availability,omitempty"`
	PinnedClassroomID *string          `db:"pinned_classroom_id" json:"pinned_classroom_id,omitempty"`
}

// StudyGroup is an academic group of students.
type StudyGroup struct {
	ID                string           `db:"id" json:"id"`
	Name              string           `db:"name" json:"name"`
	StudentCount      int              `db:"student_count" json:"student_count"`
	Availability      AvailabilityGrid `db:"availability" json:"availability,omitempty"`
	PinnedClassroomID *string          `db:"pinned_classroom_id" json:"pinned_classroom_id,omitempty"`
}

// Subgroup is part of a study group taught separately for practicals and labs.
type Subgroup struct {
	ID           string `db:"id" json:"id"`
	GroupID      string `db:"group_id" json:"group_id"`
	Name         string `db:"name" json:"name"`
	StudentCount int    `db:"student_count" json:"student_count"`
}

// Stream is a named union of groups attending lectures together.
type Stream struct {
	ID       string      `db:"id" json:"id"`
	Name     string      `db:"name" json:"name"`
	GroupIDs StringArray `db:"group_ids" json:"group_ids"`
}

// BlackoutOwner names the entity kind a blackout applies to.
type BlackoutOwner string

const (
	BlackoutTeacher   BlackoutOwner = "teacher"
	BlackoutGroup     BlackoutOwner = "group"
	BlackoutClassroom BlackoutOwner = "classroom"
)

// Blackout is an inclusive date range in which an entity is unavailable.
type Blackout struct {
	ID        string        `db:"id" json:"id"`
	OwnerType BlackoutOwner `db:"owner_type" json:"owner_type"`
	OwnerID   string        `db:"owner_id" json:"owner_id"`
	StartsOn  time.Time     `db:"starts_on" json:"starts_on"`
	EndsOn    time.Time     `db:"ends_on" json:"ends_on"`
	Reason    *string       `db:"reason" json:"reason,omitempty"`
}

// AvailabilityGrid maps a lowercase weekday name to slot id to preference
// ("allowed", "desirable", "undesirable", "forbidden"). Stored as JSONB.
type AvailabilityGrid map[string]map[string]string

// Value marshals the grid for persistence.
func (g AvailabilityGrid) Value() (driver.Value, error) {
	if g == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal availability grid: %w", err)
	}
	return data, nil
}

// Scan decodes a JSONB grid.
func (g *AvailabilityGrid) Scan(value interface{}) error {
	*g = nil
	return scanJSON(value, g, "availability grid")
}
