package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/jobs"
)

var workerMonday = time.Date(2024, time.September, 2, 0, 0, 0, 0, time.UTC)

type stubLoader struct {
	err  error
	req  func(opts scheduler.Options) *scheduler.Request
	seen scheduler.Options
}

func (l *stubLoader) Load(ctx context.Context, params models.RunParams, opts scheduler.Options) (*scheduler.Request, error) {
	l.seen = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.req(opts), nil
}

func smallRequest(opts scheduler.Options) *scheduler.Request {
	return &scheduler.Request{
		Target:    scheduler.Target{Type: scheduler.TargetNone},
		Frame:     scheduler.TimeFrame{Start: workerMonday, End: workerMonday.AddDate(0, 0, 4)},
		Calendar:  scheduler.CalendarData{WorkingWeekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}},
		TimeSlots: []scheduler.TimeSlot{{ID: "p1", Index: 1}, {ID: "p2", Index: 2}},
		Classrooms: []scheduler.Classroom{
			{ID: "hall", Capacity: 40, TypeID: "hall"},
		},
		Teachers: []scheduler.Teacher{{ID: "t1"}},
		Groups:   []scheduler.Group{{ID: "g1", Size: 25}},
		Requirements: []scheduler.Requirement{
			{ID: "req-lec", SubjectID: "math", Participant: scheduler.Participant{Kind: scheduler.ParticipantGroup, ID: "g1"}, Kind: scheduler.KindLecture, WeeklyCount: 2, TeacherIDs: []string{"t1"}},
			{ID: "req-lab", SubjectID: "chem", Participant: scheduler.Participant{Kind: scheduler.ParticipantGroup, ID: "g1"}, Kind: scheduler.KindLab, WeeklyCount: 1, RoomTypeID: "lab", TeacherIDs: []string{"t1"}},
		},
		Options: opts,
	}
}

type workerFixture struct {
	worker    *SchedulingRunWorker
	runs      *stubRunStore
	failures  *stubFailureStore
	entries   *stubEntryRepo
	publisher *stubPublisher
	loader    *stubLoader
	cacheRepo *memoryCacheRepo
}

func newWorkerFixture(maxRetries int) *workerFixture {
	seed := int64(11)
	shorten := false
	run := models.SchedulingRun{
		ID:     "r1",
		Status: models.RunStatusQueued,
		Phase:  string(scheduler.StateIdle),
		Seed:   seed,
		Params: models.RunParams{
			TargetType: "none", From: "2024-09-02", To: "2024-09-06",
			Options: models.RunOptions{Iterations: 3, Seed: &seed, Strictness: 5, ShortenPreHoliday: &shorten},
		},
	}
	f := &workerFixture{
		runs:      newStubRunStore(run),
		failures:  newStubFailureStore(),
		entries:   &stubEntryRepo{},
		publisher: &stubPublisher{},
		loader:    &stubLoader{req: smallRequest},
		cacheRepo: newMemoryCacheRepo(),
	}
	cache := NewCacheService(f.cacheRepo, nil, "test", time.Minute, nil, true)
	f.worker = NewSchedulingRunWorker(f.runs, f.failures, f.entries, f.loader, scheduler.NewEngine(nil, 2), f.publisher, cache, NewMetricsService(), nil, SchedulingWorkerConfig{
		MaxRetries:              maxRetries,
		ProgressPersistInterval: time.Millisecond,
	})
	return f
}

func TestSchedulingRunWorkerCompletesRun(t *testing.T) {
	f := newWorkerFixture(1)

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "r1", Type: JobTypeSchedulingRun})
	require.NoError(t, err)

	run, _ := f.runs.GetByID(context.Background(), "r1")
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, string(scheduler.StateFinalizing), run.Phase)
	assert.Equal(t, 2, run.Scheduled)
	assert.Equal(t, 1, run.Unscheduled)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, int64(11), f.loader.seen.Seed)

	require.Len(t, f.entries.entries, 2)
	for _, e := range f.entries.entries {
		require.NotNil(t, e.RunID)
		assert.Equal(t, "r1", *e.RunID)
		assert.Equal(t, "hall", e.ClassroomID)
	}

	failures := f.failures.failures["r1"]
	require.Len(t, failures, 1)
	assert.Equal(t, "req-lab", failures[0].RequirementID)
	assert.Equal(t, string(scheduler.ReasonNoEligibleRoom), failures[0].Reason)
	assert.Equal(t, 1, failures[0].Missing)

	finals := f.publisher.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, RunTopic("r1"), finals[0].topic)
	assert.Contains(t, f.cacheRepo.items, "test:run:r1:status")
}

func TestSchedulingRunWorkerSkipsTerminalRuns(t *testing.T) {
	f := newWorkerFixture(1)
	f.runs.runs["r1"].Status = models.RunStatusCancelled

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: "r1"}))
	assert.Empty(t, f.runs.updates)
}

func TestSchedulingRunWorkerFailsPermanentlyOnValidation(t *testing.T) {
	f := newWorkerFixture(3)
	f.loader.err = appErrors.Clone(appErrors.ErrValidation, "teacher t9 unknown")

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "r1"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))

	run, _ := f.runs.GetByID(context.Background(), "r1")
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, appErrors.ErrValidation.Code, *run.ErrorCode)
	assert.Len(t, f.publisher.finals(), 1)
	assert.Empty(t, f.entries.entries)
}

func TestSchedulingRunWorkerRequeuesTransientFailures(t *testing.T) {
	f := newWorkerFixture(2)
	f.loader.err = appErrors.Wrap(errors.New("connection reset"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "r1", Attempt: 0})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.Equal(t, models.RunStatusQueued, f.runs.status("r1"))

	err = f.worker.Handle(context.Background(), jobs.Job{ID: "r1", Attempt: 2})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.RunStatusFailed, f.runs.status("r1"))
}

func TestSchedulingRunWorkerCancelledBeforeEngine(t *testing.T) {
	f := newWorkerFixture(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: "r1"}))

	run, _ := f.runs.GetByID(context.Background(), "r1")
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, appErrors.ErrRunCancelled.Code, *run.ErrorCode)
	assert.Empty(t, f.entries.entries)
}

func TestSchedulingRunWorkerLeavesStoreUntouchedWhenCommitFails(t *testing.T) {
	f := newWorkerFixture(0)
	f.entries.applyErr = errors.New("deadlock detected")

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "r1"})
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, f.runs.status("r1"))
	assert.Empty(t, f.entries.entries)
	assert.Empty(t, f.failures.failures["r1"])
}

func TestAggregateFailuresGroupsByRequirementAndReason(t *testing.T) {
	at := time.Now()
	rows, byReason := aggregateFailures("r1", []scheduler.Unscheduled{
		{RequirementID: "b", Reason: scheduler.ReasonNoEligibleSlot},
		{RequirementID: "a", Reason: scheduler.ReasonTeacherConflict},
		{RequirementID: "b", Reason: scheduler.ReasonNoEligibleSlot},
		{RequirementID: "a", Reason: scheduler.ReasonNoEligibleRoom},
	}, at)

	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].RequirementID)
	assert.Equal(t, string(scheduler.ReasonNoEligibleRoom), rows[0].Reason)
	assert.Equal(t, "b", rows[2].RequirementID)
	assert.Equal(t, 2, rows[2].Missing)
	assert.Equal(t, 2, byReason[string(scheduler.ReasonNoEligibleSlot)])
}
