package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, time.September, 2, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return monday.AddDate(0, 0, offset)
}

func weekdays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

func slots(n int) []TimeSlot {
	out := make([]TimeSlot, n)
	for i := range out {
		out[i] = TimeSlot{ID: fmt.Sprintf("p%d", i+1), Index: i + 1}
	}
	return out
}

// newFixtureRequest builds a one-week, five-slot request with roomy classrooms.
func newFixtureRequest() Request {
	return Request{
		Target:    Target{Type: TargetNone},
		Frame:     TimeFrame{Start: day(0), End: day(4)},
		Calendar:  CalendarData{WorkingWeekdays: weekdays()},
		TimeSlots: slots(5),
		Classrooms: []Classroom{
			{ID: "r-101", Capacity: 30, TypeID: "hall"},
			{ID: "r-102", Capacity: 30, TypeID: "hall"},
			{ID: "r-201", Capacity: 60, TypeID: "hall"},
			{ID: "lab-1", Capacity: 25, TypeID: "lab"},
		},
		Teachers: []Teacher{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}, {ID: "t4"}, {ID: "t5"}},
		Groups: []Group{
			{ID: "g1", Size: 20},
			{ID: "g2", Size: 22},
			{ID: "g3", Size: 18},
		},
		Streams: []Stream{{ID: "s1", GroupIDs: []string{"g1", "g2"}}},
		Options: Options{Iterations: 3, Seed: 42, Strictness: 5, Parallelism: 2},
	}
}

func group(id string) Participant    { return Participant{Kind: ParticipantGroup, ID: id} }
func stream(id string) Participant   { return Participant{Kind: ParticipantStream, ID: id} }
func subgroup(id string) Participant { return Participant{Kind: ParticipantSubgroup, ID: id} }

// newContendedRequest builds a denser workload where passes disagree.
func newContendedRequest() Request {
	req := newFixtureRequest()
	req.Groups = nil
	req.Teachers = nil
	for i := 1; i <= 6; i++ {
		req.Groups = append(req.Groups, Group{ID: fmt.Sprintf("g%d", i), Size: 15 + i})
	}
	for i := 1; i <= 4; i++ {
		req.Teachers = append(req.Teachers, Teacher{ID: fmt.Sprintf("t%d", i)})
	}
	req.Streams = []Stream{{ID: "s1", GroupIDs: []string{"g1", "g2"}}}
	for i := 1; i <= 6; i++ {
		req.Requirements = append(req.Requirements,
			Requirement{ID: fmt.Sprintf("lec-%d", i), SubjectID: fmt.Sprintf("sub-%d", i%3), Participant: group(fmt.Sprintf("g%d", i)), Kind: KindLecture, WeeklyCount: 2, RoomTypeID: "hall", TeacherIDs: []string{fmt.Sprintf("t%d", 1+i%4)}},
			Requirement{ID: fmt.Sprintf("lab-%d", i), SubjectID: fmt.Sprintf("sub-%d", i%3), Participant: group(fmt.Sprintf("g%d", i)), Kind: KindLab, WeeklyCount: 1, RoomTypeID: "lab", TeacherIDs: []string{fmt.Sprintf("t%d", 1+(i+1)%4), fmt.Sprintf("t%d", 1+(i+2)%4)}},
		)
	}
	req.Requirements = append(req.Requirements, Requirement{
		ID: "stream-lec", SubjectID: "sub-x", Participant: stream("s1"), Kind: KindLecture, WeeklyCount: 2, RoomTypeID: "hall", TeacherIDs: []string{"t1"},
	})
	req.Options.Iterations = 6
	req.Options.Strictness = 7
	req.Options.Parallelism = 0
	return req
}

// prepareWorkspace runs the preparing stage for white-box tests.
func prepareWorkspace(t *testing.T, req Request, existing ...Entry) *workspace {
	t.Helper()
	cal, err := ResolveCalendar(req.Frame, req.Calendar, req.TimeSlots, CalendarOptions{
		WeekParity:        req.Options.WeekParity,
		ShortenPreHoliday: req.Options.ShortenPreHoliday,
	})
	require.NoError(t, err)
	ws, err := newWorkspace(req, cal)
	require.NoError(t, err)
	require.NoError(t, ws.loadBaseline(existing))
	return ws
}

// assertNoCollisions checks the three uniqueness indices over committed entries.
func assertNoCollisions(t *testing.T, req Request, entries []Entry) {
	t.Helper()
	members := map[string][]string{}
	for _, s := range req.Streams {
		members["stream:"+s.ID] = s.GroupIDs
	}
	for _, sg := range req.Subgroups {
		members["subgroup:"+sg.ID] = []string{sg.GroupID}
	}
	teachers := map[string]string{}
	rooms := map[string]string{}
	groups := map[string]string{}
	for _, e := range entries {
		cellKey := e.Date.Format(dateLayout) + "/" + e.SlotID
		require.NotContains(t, teachers, cellKey+"/"+e.TeacherID, "teacher collision")
		teachers[cellKey+"/"+e.TeacherID] = e.RequirementID
		require.NotContains(t, rooms, cellKey+"/"+e.ClassroomID, "classroom collision")
		rooms[cellKey+"/"+e.ClassroomID] = e.RequirementID
		ids := []string{e.Participant.ID}
		if e.Participant.Kind != ParticipantGroup {
			ids = members[string(e.Participant.Kind)+":"+e.Participant.ID]
		}
		for _, g := range ids {
			require.NotContains(t, groups, cellKey+"/"+g, "group collision")
			groups[cellKey+"/"+g] = e.RequirementID
		}
	}
}

// failingStore refuses every commit.
type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) Apply(context.Context, Changeset) error {
	return s.err
}
