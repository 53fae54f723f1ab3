package scheduler

import (
	"fmt"
	"sort"
	"time"

	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

const maxSlotsPerDay = 64

// DefaultWorkingWeekdays is used when calendar data does not name working weekdays.
var DefaultWorkingWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

// CalendarDay is one working day of a resolved calendar.
type CalendarDay struct {
	Date      time.Time
	Number    int
	Shortened bool
	Parity    WeekParity
	Week      int
}

// SlotRef is an eligible (date, slot) pair.
type SlotRef struct {
	Day      int
	Slot     TimeSlot
	Position int
}

// Calendar is the ordered set of eligible pairs for a frame.
type Calendar struct {
	Days  []CalendarDay
	Slots []TimeSlot
	Pairs []SlotRef

	byNumber map[int]int
}

// CalendarOptions control how the production calendar is applied.
type CalendarOptions struct {
	WeekParity        bool
	ShortenPreHoliday bool
	IgnoreProduction  bool
}

// Empty reports whether no pair is eligible.
func (c *Calendar) Empty() bool {
	return len(c.Pairs) == 0
}

// DayIndex returns the index of a working day by date.
func (c *Calendar) DayIndex(date time.Time) (int, bool) {
	idx, ok := c.byNumber[dayNumber(date)]
	return idx, ok
}

// SlotsOn returns how many slots are usable on a day.
func (c *Calendar) SlotsOn(day int) int {
	if c.Days[day].Shortened {
		return len(c.Slots) - 1
	}
	return len(c.Slots)
}

// Weeks returns the distinct week keys of working days, optionally restricted by parity.
func (c *Calendar) Weeks(parity WeekParity) []int {
	seen := make(map[int]struct{})
	weeks := make([]int, 0)
	for _, day := range c.Days {
		if !parityMatches(parity, day.Parity) {
			continue
		}
		if _, ok := seen[day.Week]; ok {
			continue
		}
		seen[day.Week] = struct{}{}
		weeks = append(weeks, day.Week)
	}
	return weeks
}

// ResolveCalendar expands a frame into eligible (date, slot) pairs in date then slot order.
func ResolveCalendar(frame TimeFrame, data CalendarData, slots []TimeSlot, opts CalendarOptions) (*Calendar, error) {
	if frame.Start.IsZero() || frame.End.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time frame start and end are required")
	}
	start, end := dayNumber(frame.Start), dayNumber(frame.End)
	if start > end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time frame start is after end")
	}
	ordered, err := orderSlots(slots)
	if err != nil {
		return nil, err
	}

	weekdays := data.WorkingWeekdays
	if len(weekdays) == 0 {
		weekdays = DefaultWorkingWeekdays
	}
	working := make(map[time.Weekday]struct{}, len(weekdays))
	for _, wd := range weekdays {
		working[wd] = struct{}{}
	}
	holidays := dateSet(data.Holidays)
	shortened := dateSet(data.ShortenedDays)
	extra := dateSet(data.ExtraWorkdays)
	if opts.IgnoreProduction {
		holidays, shortened, extra = nil, nil, nil
	}

	cal := &Calendar{Slots: ordered, byNumber: make(map[int]int)}
	for n := start; n <= end; n++ {
		date := dateFromNumber(n)
		_, isWorking := working[date.Weekday()]
		if _, ok := holidays[n]; ok {
			isWorking = false
		}
		if _, ok := extra[n]; ok {
			isWorking = true
		}
		if !isWorking {
			continue
		}

		year, week := date.ISOWeek()
		day := CalendarDay{
			Date:   date,
			Number: n,
			Parity: ParityEvery,
			Week:   year*100 + week,
		}
		if opts.WeekParity {
			day.Parity = ParityEven
			if week%2 == 1 {
				day.Parity = ParityOdd
			}
		}
		if _, ok := shortened[n]; ok && opts.ShortenPreHoliday {
			day.Shortened = true
		}

		cal.byNumber[n] = len(cal.Days)
		cal.Days = append(cal.Days, day)
	}

	for dayIdx := range cal.Days {
		limit := cal.SlotsOn(dayIdx)
		for pos := 0; pos < limit; pos++ {
			cal.Pairs = append(cal.Pairs, SlotRef{Day: dayIdx, Slot: ordered[pos], Position: pos})
		}
	}
	return cal, nil
}

func orderSlots(slots []TimeSlot) ([]TimeSlot, error) {
	if len(slots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one time slot is required")
	}
	if len(slots) > maxSlotsPerDay {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d time slots per day are supported", maxSlotsPerDay))
	}
	ordered := make([]TimeSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})
	ids := make(map[string]struct{}, len(ordered))
	for i, slot := range ordered {
		if slot.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "time slot id is required")
		}
		if _, dup := ids[slot.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate time slot %s", slot.ID))
		}
		ids[slot.ID] = struct{}{}
		if i > 0 && ordered[i-1].Index == slot.Index {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate time slot index %d", slot.Index))
		}
	}
	return ordered, nil
}

func parityMatches(want, got WeekParity) bool {
	if want == "" || want == ParityEvery || got == ParityEvery {
		return true
	}
	return want == got
}

func dateSet(dates []time.Time) map[int]struct{} {
	set := make(map[int]struct{}, len(dates))
	for _, d := range dates {
		set[dayNumber(d)] = struct{}{}
	}
	return set
}

// dayNumber counts calendar days since the Unix epoch, ignoring the time of day.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func dateFromNumber(n int) time.Time {
	return time.Unix(int64(n)*86400, 0).UTC()
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	return dateFromNumber(dayNumber(t))
}
