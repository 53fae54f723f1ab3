package models

import "time"

// CalendarEventType classifies production calendar days.
type CalendarEventType string

const (
	CalendarHoliday         CalendarEventType = "HOLIDAY"
	CalendarPreHoliday      CalendarEventType = "PRE_HOLIDAY"
	CalendarMovedHoliday    CalendarEventType = "MOVED_HOLIDAY"
	CalendarRegionalHoliday CalendarEventType = "REGIONAL_HOLIDAY"
	CalendarSpecialWorkday  CalendarEventType = "SPECIAL_WORKDAY"
)

// NonWorking reports whether the event removes the day from the calendar.
func (t CalendarEventType) NonWorking() bool {
	switch t {
	case CalendarHoliday, CalendarMovedHoliday, CalendarRegionalHoliday:
		return true
	}
	return false
}

// CalendarEvent is one production calendar entry.
type CalendarEvent struct {
	ID        string            `db:"id" json:"id"`
	EventDate time.Time         `db:"event_date" json:"event_date"`
	EventType CalendarEventType `db:"event_type" json:"event_type"`
	Title     string            `db:"title" json:"title"`
}
