package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

func TestResolveCalendarSkipsWeekendsAndHolidays(t *testing.T) {
	cal, err := ResolveCalendar(
		TimeFrame{Start: day(0), End: day(6)},
		CalendarData{Holidays: []time.Time{day(2)}, WorkingWeekdays: weekdays()},
		slots(3),
		CalendarOptions{},
	)
	require.NoError(t, err)

	require.Len(t, cal.Days, 4)
	assert.Equal(t, day(0), cal.Days[0].Date)
	assert.Equal(t, day(3), cal.Days[2].Date)
	assert.Len(t, cal.Pairs, 12)
	assert.Equal(t, "p1", cal.Pairs[0].Slot.ID)
	assert.Equal(t, "p3", cal.Pairs[2].Slot.ID)
}

func TestResolveCalendarShortensPreHolidayAndAddsWorkdays(t *testing.T) {
	saturday := day(5)
	cal, err := ResolveCalendar(
		TimeFrame{Start: day(0), End: day(5)},
		CalendarData{ShortenedDays: []time.Time{day(4)}, ExtraWorkdays: []time.Time{saturday}, WorkingWeekdays: weekdays()},
		slots(4),
		CalendarOptions{ShortenPreHoliday: true},
	)
	require.NoError(t, err)

	require.Len(t, cal.Days, 6)
	friday, ok := cal.DayIndex(day(4))
	require.True(t, ok)
	assert.True(t, cal.Days[friday].Shortened)
	assert.Equal(t, 3, cal.SlotsOn(friday))
	assert.Len(t, cal.Pairs, 5*4+3)
}

func TestResolveCalendarIgnoresProductionCalendarWhenAsked(t *testing.T) {
	cal, err := ResolveCalendar(
		TimeFrame{Start: day(0), End: day(4)},
		CalendarData{Holidays: []time.Time{day(0)}, WorkingWeekdays: weekdays()},
		slots(2),
		CalendarOptions{IgnoreProduction: true},
	)
	require.NoError(t, err)
	assert.Len(t, cal.Days, 5)
}

func TestResolveCalendarTagsWeekParity(t *testing.T) {
	cal, err := ResolveCalendar(
		TimeFrame{Start: day(0), End: day(11)},
		CalendarData{WorkingWeekdays: weekdays()},
		slots(1),
		CalendarOptions{WeekParity: true},
	)
	require.NoError(t, err)

	// 2024-09-02 starts ISO week 36.
	assert.Equal(t, ParityEven, cal.Days[0].Parity)
	assert.Equal(t, ParityOdd, cal.Days[5].Parity)
	assert.Len(t, cal.Weeks(ParityOdd), 1)
	assert.Len(t, cal.Weeks(ParityEvery), 2)
}

func TestResolveCalendarEmptyRangeIsNotAnError(t *testing.T) {
	cal, err := ResolveCalendar(TimeFrame{Start: day(5), End: day(6)}, CalendarData{WorkingWeekdays: weekdays()}, slots(2), CalendarOptions{})
	require.NoError(t, err)
	assert.True(t, cal.Empty())
}

func TestResolveCalendarRejectsInvalidInput(t *testing.T) {
	_, err := ResolveCalendar(TimeFrame{Start: day(3), End: day(1)}, CalendarData{}, slots(2), CalendarOptions{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = ResolveCalendar(TimeFrame{Start: day(0), End: day(1)}, CalendarData{}, nil, CalendarOptions{})
	require.Error(t, err)

	_, err = ResolveCalendar(TimeFrame{Start: day(0), End: day(1)}, CalendarData{}, []TimeSlot{{ID: "a", Index: 1}, {ID: "a", Index: 2}}, CalendarOptions{})
	require.Error(t, err)
}

func TestGaps(t *testing.T) {
	assert.Equal(t, 0, gaps(0))
	assert.Equal(t, 0, gaps(0b111))
	assert.Equal(t, 2, gaps(0b10011))
	assert.Equal(t, 1, gapGrowth(0b1, 2))
	assert.Equal(t, -1, gapGrowth(0b101, 1))
}
