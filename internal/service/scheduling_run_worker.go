package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/repository"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/jobs"
)

type requestLoader interface {
	Load(ctx context.Context, params models.RunParams, opts scheduler.Options) (*scheduler.Request, error)
}

type runEngine interface {
	Run(ctx context.Context, req scheduler.Request, store scheduler.Store) (*scheduler.Result, error)
}

// SchedulingWorkerConfig tunes run execution.
type SchedulingWorkerConfig struct {
	MaxRetries              int
	ProgressPersistInterval time.Duration
	StatusTTL               time.Duration
}

// SchedulingRunWorker executes queued runs through the engine.
type SchedulingRunWorker struct {
	runs      schedulingRunStore
	failures  runFailureStore
	entries   scheduleEntryStore
	loader    requestLoader
	engine    runEngine
	publisher progressPublisher
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SchedulingWorkerConfig
	now       func() time.Time
}

// NewSchedulingRunWorker constructs a worker.
func NewSchedulingRunWorker(runs schedulingRunStore, failures runFailureStore, entries scheduleEntryStore, loader requestLoader, engine runEngine, publisher progressPublisher, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg SchedulingWorkerConfig) *SchedulingRunWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProgressPersistInterval <= 0 {
		cfg.ProgressPersistInterval = 2 * time.Second
	}
	return &SchedulingRunWorker{
		runs:      runs,
		failures:  failures,
		entries:   entries,
		loader:    loader,
		engine:    engine,
		publisher: publisher,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handle processes a queue job. Errors that retrying cannot fix are marked
// permanent so the queue drops them.
func (w *SchedulingRunWorker) Handle(ctx context.Context, job jobs.Job) error {
	// Outcome bookkeeping must survive cancellation of the job context.
	persistCtx := context.WithoutCancel(ctx)

	run, err := w.runs.GetByID(persistCtx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(err)
		}
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	started := w.now().UTC()
	running := models.RunStatusRunning
	phase := string(scheduler.StatePreparing)
	zero := 0
	changed, err := w.runs.Update(persistCtx, run.ID, repository.UpdateRunParams{
		Status: &running, Phase: &phase, ProgressCurrent: &zero, ProgressTotal: &zero, StartedAt: &started,
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	run.Status, run.Phase, run.StartedAt = running, phase, &started
	w.metrics.RunStarted()
	w.logger.Sugar().Infow("scheduling run started", "run_id", run.ID, "seed", run.Seed, "attempt", job.Attempt)

	tracker := newProgressTracker(persistCtx, run, w)
	defer tracker.stop()

	if ctx.Err() != nil {
		return w.finishCancelled(persistCtx, run, tracker, started)
	}

	req, err := w.loader.Load(ctx, run.Params, EngineOptions(run.Params, run.Seed))
	if err != nil {
		if ctx.Err() != nil {
			return w.finishCancelled(persistCtx, run, tracker, started)
		}
		return w.finishFailed(persistCtx, run, tracker, started, job, err)
	}
	req.OnProgress = tracker.onProgress
	req.OnState = tracker.onState

	result, err := w.engine.Run(ctx, *req, newRunEntryStore(w.entries, run.ID))
	switch result.Outcome {
	case scheduler.OutcomeCompleted:
		return w.finishCompleted(persistCtx, run, tracker, started, result)
	case scheduler.OutcomeCancelled:
		return w.finishCancelled(persistCtx, run, tracker, started)
	default:
		return w.finishFailed(persistCtx, run, tracker, started, job, err)
	}
}

func (w *SchedulingRunWorker) finishCompleted(ctx context.Context, run *models.SchedulingRun, tracker *progressTracker, started time.Time, res *scheduler.Result) error {
	failures, byReason := aggregateFailures(run.ID, res.FailedEntries, w.now().UTC())
	if err := w.failures.ReplaceForRun(ctx, run.ID, failures); err != nil {
		w.logger.Sugar().Warnw("failed to persist run failures", "run_id", run.ID, "error", err)
	}

	status := models.RunStatusCompleted
	removed := len(res.Removed)
	params := repository.UpdateRunParams{
		Status:      &status,
		Scheduled:   &res.Scheduled,
		Unscheduled: &res.Unscheduled,
		Removed:     &removed,
		Penalty:     &res.Penalty,
		Truncated:   &res.Truncated,
	}
	run.Scheduled, run.Unscheduled, run.Removed, run.Penalty, run.Truncated = res.Scheduled, res.Unscheduled, removed, res.Penalty, res.Truncated
	w.finish(ctx, run, tracker, params, status)
	_ = w.cache.Invalidate(ctx, w.cache.EntriesPattern())

	w.metrics.RunFinished(string(status), w.now().Sub(started), len(res.Added), res.Penalty, byReason)
	w.logger.Sugar().Infow("scheduling run completed",
		"run_id", run.ID,
		"scheduled", res.Scheduled,
		"unscheduled", res.Unscheduled,
		"removed", removed,
		"penalty", res.Penalty,
		"best_iteration", res.BestIteration,
		"truncated", res.Truncated,
	)
	return nil
}

func (w *SchedulingRunWorker) finishCancelled(ctx context.Context, run *models.SchedulingRun, tracker *progressTracker, started time.Time) error {
	status := models.RunStatusCancelled
	code := appErrors.ErrRunCancelled.Code
	msg := appErrors.ErrRunCancelled.Message
	params := repository.UpdateRunParams{Status: &status, ErrorCode: &code, ErrorMessage: &msg}
	run.ErrorCode, run.ErrorMessage = &code, &msg
	w.finish(ctx, run, tracker, params, status)
	w.metrics.RunFinished(string(status), w.now().Sub(started), 0, 0, nil)
	w.logger.Sugar().Infow("scheduling run cancelled", "run_id", run.ID)
	return nil
}

func (w *SchedulingRunWorker) finishFailed(ctx context.Context, run *models.SchedulingRun, tracker *progressTracker, started time.Time, job jobs.Job, cause error) error {
	appErr := appErrors.FromError(cause)
	if cause == nil {
		appErr = appErrors.Clone(appErrors.ErrInternal, "scheduling run failed without an error")
		cause = appErr
	}
	retryable := appErr.Code == appErrors.ErrInternal.Code && job.Attempt < w.cfg.MaxRetries
	if retryable {
		tracker.stop()
		queued := models.RunStatusQueued
		phase := string(scheduler.StateIdle)
		msg := appErr.Error()
		if _, err := w.runs.Update(ctx, run.ID, repository.UpdateRunParams{Status: &queued, Phase: &phase, ErrorMessage: &msg}); err != nil {
			w.logger.Sugar().Warnw("failed to mark run queued", "run_id", run.ID, "error", err)
		}
		_ = w.cache.Delete(ctx, w.cache.RunStatusKey(run.ID))
		w.metrics.RunFinished("RETRY", w.now().Sub(started), 0, 0, nil)
		w.logger.Sugar().Warnw("scheduling run failed, will retry", "run_id", run.ID, "attempt", job.Attempt, "error", cause)
		return cause
	}

	status := models.RunStatusFailed
	code := appErr.Code
	msg := appErr.Error()
	params := repository.UpdateRunParams{Status: &status, ErrorCode: &code, ErrorMessage: &msg}
	run.ErrorCode, run.ErrorMessage = &code, &msg
	w.finish(ctx, run, tracker, params, status)
	w.metrics.RunFinished(string(status), w.now().Sub(started), 0, 0, nil)
	w.logger.Sugar().Errorw("scheduling run failed", "run_id", run.ID, "code", code, "error", cause)
	return jobs.Permanent(cause)
}

// finish writes the terminal record and pushes the final snapshot to cache and subscribers.
func (w *SchedulingRunWorker) finish(ctx context.Context, run *models.SchedulingRun, tracker *progressTracker, params repository.UpdateRunParams, status models.RunStatus) {
	tracker.stop()
	current, total, phase := tracker.snapshot()
	now := w.now().UTC()
	params.Phase = &phase
	params.ProgressCurrent = &current
	params.ProgressTotal = &total
	params.FinishedAt = &now
	if _, err := w.runs.Update(ctx, run.ID, params); err != nil {
		w.logger.Sugar().Errorw("failed to persist run outcome", "run_id", run.ID, "status", status, "error", err)
	}
	run.Status, run.Phase, run.ProgressCurrent, run.ProgressTotal, run.FinishedAt = status, phase, current, total, &now
	resp := dto.NewSchedulingRunResponse(run)
	_ = w.cache.Set(ctx, w.cache.RunStatusKey(run.ID), resp, w.cfg.StatusTTL)
	if err := w.publisher.PublishFinal(RunTopic(run.ID), MessageFinished, resp); err != nil {
		w.logger.Sugar().Warnw("failed to publish run outcome", "run_id", run.ID, "error", err)
	}
}

// aggregateFailures folds per-occurrence failures into one row per
// (requirement, reason), ordered by requirement then reason.
func aggregateFailures(runID string, entries []scheduler.Unscheduled, at time.Time) ([]models.RunFailure, map[string]int) {
	type key struct{ req, reason string }
	counts := make(map[key]int)
	byReason := make(map[string]int)
	for _, e := range entries {
		counts[key{e.RequirementID, string(e.Reason)}]++
		byReason[string(e.Reason)]++
	}
	out := make([]models.RunFailure, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.RunFailure{RunID: runID, RequirementID: k.req, Reason: k.reason, Missing: n, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequirementID != out[j].RequirementID {
			return out[i].RequirementID < out[j].RequirementID
		}
		return out[i].Reason < out[j].Reason
	})
	return out, byReason
}

// progressTracker receives engine callbacks without blocking the engine and
// flushes snapshots to cache on every change and to the database at a bounded cadence.
type progressTracker struct {
	w   *SchedulingRunWorker
	ctx context.Context
	run models.SchedulingRun

	mu      sync.Mutex
	current int
	total   int
	phase   string

	dirty    chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newProgressTracker(ctx context.Context, run *models.SchedulingRun, w *SchedulingRunWorker) *progressTracker {
	t := &progressTracker{
		w:       w,
		ctx:     ctx,
		run:     *run,
		phase:   run.Phase,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *progressTracker) onProgress(p scheduler.Progress) {
	t.mu.Lock()
	t.current, t.total = p.Current, p.Total
	t.mu.Unlock()
	t.changed()
}

func (t *progressTracker) onState(s scheduler.State) {
	if s.Terminal() {
		return
	}
	t.mu.Lock()
	t.phase = string(s)
	t.mu.Unlock()
	t.changed()
}

func (t *progressTracker) changed() {
	_ = t.w.publisher.Publish(RunTopic(t.run.ID), MessageProgress, t.view())
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

func (t *progressTracker) snapshot() (int, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.total, t.phase
}

func (t *progressTracker) view() dto.SchedulingRunResponse {
	run := t.run
	run.ProgressCurrent, run.ProgressTotal, run.Phase = t.snapshot()
	return dto.NewSchedulingRunResponse(&run)
}

func (t *progressTracker) loop() {
	defer close(t.stopped)
	ticker := time.NewTicker(t.w.cfg.ProgressPersistInterval)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case <-t.done:
			return
		case <-t.dirty:
			_ = t.w.cache.Set(t.ctx, t.w.cache.RunStatusKey(t.run.ID), t.view(), t.w.cfg.StatusTTL)
			pending = true
		case <-ticker.C:
			if pending {
				t.persist()
				pending = false
			}
		}
	}
}

func (t *progressTracker) persist() {
	current, total, phase := t.snapshot()
	if _, err := t.w.runs.Update(t.ctx, t.run.ID, repository.UpdateRunParams{
		Phase: &phase, ProgressCurrent: &current, ProgressTotal: &total,
	}); err != nil {
		t.w.logger.Sugar().Warnw("failed to persist run progress", "run_id", t.run.ID, "error", err)
	}
}

func (t *progressTracker) stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		<-t.stopped
	})
}
