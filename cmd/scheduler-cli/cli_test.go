package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

const sampleWorkspace = `{
  "frame": {"start": "2024-09-02", "end": "2024-09-06"},
  "calendar": {"workingWeekdays": ["monday", "tue", "wed", "thu", "fri"], "holidays": ["2024-09-04"]},
  "timeSlots": [{"id": "p1", "index": 1, "start": "08:30", "end": "10:00"}, {"id": "p2", "index": 2}],
  "classrooms": [{"id": "r-101", "capacity": 30, "typeId": "hall"}],
  "teachers": [{"id": "t1", "availability": {"mon": {"p1": "desirable"}, "fri": {"p1": "forbidden", "p2": "forbidden"}}}],
  "groups": [{"id": "g1", "size": 20}],
  "requirements": [
    {"id": "lec-1", "subjectId": "math", "participant": {"kind": "group", "id": "g1"}, "kind": "lecture", "weeklyCount": 2, "roomTypeId": "hall", "teacherIds": ["t1"]}
  ],
  "options": {"iterations": 2, "seed": 9007199254740993, "strictness": 5}
}`

func TestDecodeWorkspaceAppliesHooks(t *testing.T) {
	ws, err := decodeWorkspace(strings.NewReader(sampleWorkspace))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), ws.Frame.Start)
	assert.Equal(t, scheduler.TargetNone, ws.Target.Type)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, ws.Calendar.WorkingWeekdays)
	require.Len(t, ws.Calendar.Holidays, 1)
	assert.Equal(t, scheduler.PreferenceDesirable, ws.Teachers[0].Availability.At(time.Monday, "p1"))
	assert.Equal(t, scheduler.PreferenceForbidden, ws.Teachers[0].Availability.At(time.Friday, "p2"))
	assert.Equal(t, scheduler.PreferenceAllowed, ws.Teachers[0].Availability.At(time.Tuesday, "p1"))
	assert.Equal(t, int64(9007199254740993), ws.Options.Seed)
	assert.Equal(t, scheduler.KindLecture, ws.Requirements[0].Kind)
}

func TestDecodeWorkspaceRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown weekday":    `{"frame": {"start": "2024-09-02", "end": "2024-09-06"}, "calendar": {"workingWeekdays": ["funday"]}}`,
		"unknown preference": `{"frame": {"start": "2024-09-02", "end": "2024-09-06"}, "groups": [{"id": "g", "availability": {"mon": {"p1": "maybe"}}}]}`,
		"unknown field":      `{"frame": {"start": "2024-09-02", "end": "2024-09-06"}, "rooms": []}`,
		"inverted frame":     `{"frame": {"start": "2024-09-06", "end": "2024-09-02"}}`,
		"missing frame":      `{}`,
		"bad date":           `{"frame": {"start": "02/09/2024", "end": "2024-09-06"}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeWorkspace(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestEntriesCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.csv")
	in := []scheduler.Entry{
		{ID: "e2", Date: time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC), SlotID: "p1", ClassroomID: "r-101", TeacherID: "t1",
			RequirementID: "lec-1", SubjectID: "math", Participant: scheduler.Participant{Kind: scheduler.ParticipantGroup, ID: "g1"}, Kind: scheduler.KindLecture},
		{ID: "e1", Date: time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), SlotID: "p2", ClassroomID: "r-101", TeacherID: "t1",
			RequirementID: "lec-1", SubjectID: "math", Participant: scheduler.Participant{Kind: scheduler.ParticipantGroup, ID: "g1"}, Kind: scheduler.KindLecture},
	}
	require.NoError(t, writeEntries(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "id,date,slot_id,"))

	out, err := readEntries(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[1], out[0])
	assert.Equal(t, in[0], out[1])
}

func TestRunCommandWritesScheduleAndSummary(t *testing.T) {
	dir := t.TempDir()
	wsPath := filepath.Join(dir, "workspace.json")
	outPath := filepath.Join(dir, "schedule.csv")
	require.NoError(t, os.WriteFile(wsPath, []byte(sampleWorkspace), 0o600))

	cmd := newRunCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--workspace", wsPath, "--out", outPath, "--seed", "7"})
	require.NoError(t, cmd.Execute())

	var summary runSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.Equal(t, scheduler.OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, 0, summary.Unscheduled)
	assert.Equal(t, int64(7), summary.Seed)

	entries, err := readEntries(outPath)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, time.Wednesday, e.Date.Weekday(), "holiday must stay free")
		assert.NotEqual(t, time.Friday, e.Date.Weekday(), "teacher is forbidden on friday")
	}
}

func TestValidateCommandChecksReferencesAndCalendar(t *testing.T) {
	dir := t.TempDir()
	write := func(name, doc string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
		return path
	}
	validate := func(path string) (string, error) {
		cmd := newValidateCommand()
		var stdout bytes.Buffer
		cmd.SetOut(&stdout)
		cmd.SetArgs([]string{"--workspace", path})
		err := cmd.Execute()
		return stdout.String(), err
	}

	out, err := validate(write("ok.json", sampleWorkspace))
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 requirements (2 occurrences)")
	assert.Contains(t, out, "4 working days")

	_, err = validate(write("unknown-teacher.json", strings.Replace(sampleWorkspace, `"teacherIds": ["t1"]`, `"teacherIds": ["t9"]`, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown teacher t9")

	_, err = validate(write("holiday-week.json", strings.Replace(sampleWorkspace,
		`"holidays": ["2024-09-04"]`, `"holidays": ["2024-09-02", "2024-09-03", "2024-09-04", "2024-09-05", "2024-09-06"]`, 1)))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCalendarUnavailable))
}
