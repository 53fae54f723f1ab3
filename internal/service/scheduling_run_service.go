package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/repository"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/jobs"
)

// JobTypeSchedulingRun tags queue jobs carrying a scheduling run id.
const JobTypeSchedulingRun = "scheduling_run"

const recoverBatch = 100

type schedulingRunStore interface {
	Create(ctx context.Context, run *models.SchedulingRun) error
	GetByID(ctx context.Context, id string) (*models.SchedulingRun, error)
	Update(ctx context.Context, id string, params repository.UpdateRunParams) (bool, error)
	ListByStatus(ctx context.Context, status models.RunStatus, limit int) ([]models.SchedulingRun, error)
	FailInterrupted(ctx context.Context, code, message string) (int, error)
}

type runFailureStore interface {
	ReplaceForRun(ctx context.Context, runID string, failures []models.RunFailure) error
	ListByRun(ctx context.Context, runID string) ([]models.RunFailure, error)
}

type runQueue interface {
	Enqueue(job jobs.Job) error
	Cancel(jobID string) bool
}

type progressPublisher interface {
	Publish(topic, msgType string, payload interface{}) error
	PublishFinal(topic, msgType string, payload interface{}) error
}

// RunTopic is the realtime topic carrying one run's progress.
func RunTopic(runID string) string {
	return "run:" + runID
}

// Realtime message types.
const (
	MessageSnapshot = "snapshot"
	MessageProgress = "progress"
	MessageFinished = "finished"
)

// SchedulingRunConfig carries defaults and limits for run requests.
type SchedulingRunConfig struct {
	DefaultIterations         int
	MaxIterations             int
	DefaultStrictness         int
	ShortenPreHoliday         bool
	RespectProductionCalendar bool
	StatusTTL                 time.Duration
}

// SchedulingRunService manages the scheduling run lifecycle.
type SchedulingRunService struct {
	runs      schedulingRunStore
	failures  runFailureStore
	queue     runQueue
	publisher progressPublisher
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SchedulingRunConfig
	now       func() time.Time
	seed      func() int64
}

// NewSchedulingRunService constructs the service.
func NewSchedulingRunService(runs schedulingRunStore, failures runFailureStore, queue runQueue, publisher progressPublisher, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cfg SchedulingRunConfig) *SchedulingRunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.DefaultIterations <= 0 {
		cfg.DefaultIterations = 10
	}
	if cfg.MaxIterations < cfg.DefaultIterations {
		cfg.MaxIterations = cfg.DefaultIterations
	}
	if cfg.DefaultStrictness < 1 || cfg.DefaultStrictness > 10 {
		cfg.DefaultStrictness = 5
	}
	return &SchedulingRunService{
		runs:      runs,
		failures:  failures,
		queue:     queue,
		publisher: publisher,
		cache:     cache,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		seed:      func() int64 { return rand.Int63n(1 << 53) },
	}
}

// Create validates a request, persists the run and hands it to the worker queue.
func (s *SchedulingRunService) Create(ctx context.Context, req dto.CreateSchedulingRunRequest, actorID string) (*dto.SchedulingRunAccepted, error) {
	params, err := s.buildParams(req)
	if err != nil {
		return nil, err
	}
	run := &models.SchedulingRun{
		Status:    models.RunStatusQueued,
		Phase:     string(scheduler.StateIdle),
		Seed:      *params.Options.Seed,
		Params:    params,
		CreatedBy: actorID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create scheduling run")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: JobTypeSchedulingRun}); err != nil {
		status := models.RunStatusFailed
		code := appErrors.ErrInternal.Code
		msg := "failed to enqueue run"
		now := s.now().UTC()
		if _, updateErr := s.runs.Update(ctx, run.ID, repository.UpdateRunParams{
			Status: &status, ErrorCode: &code, ErrorMessage: &msg, FinishedAt: &now,
		}); updateErr != nil {
			s.logger.Sugar().Warnw("failed to mark run failed", "run_id", run.ID, "error", updateErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue scheduling run")
	}
	s.logger.Sugar().Infow("scheduling run queued", "run_id", run.ID, "seed", run.Seed, "from", params.From, "to", params.To, "target", params.TargetType)
	return &dto.SchedulingRunAccepted{ID: run.ID, Status: run.Status, Seed: run.Seed}, nil
}

func (s *SchedulingRunService) buildParams(req dto.CreateSchedulingRunRequest) (models.RunParams, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.RunParams{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scheduling run payload")
	}
	if _, err := ParseFrame(req.From, req.To); err != nil {
		return models.RunParams{}, err
	}
	target := lo.Ternary(req.TargetType == "", string(scheduler.TargetNone), req.TargetType)
	if target != string(scheduler.TargetNone) && req.TargetID == "" {
		return models.RunParams{}, appErrors.Clone(appErrors.ErrValidation, "targetId is required when targetType is set")
	}
	if target == string(scheduler.TargetNone) {
		req.TargetID = ""
	}

	iterations := lo.FromPtrOr(req.Iterations, s.cfg.DefaultIterations)
	if iterations > s.cfg.MaxIterations {
		return models.RunParams{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("iterations must not exceed %d", s.cfg.MaxIterations))
	}
	seed := lo.FromPtrOr(req.Seed, s.seed())
	shorten := lo.FromPtrOr(req.ShortenPreHoliday, s.cfg.ShortenPreHoliday)

	return models.RunParams{
		TargetType: target,
		TargetID:   req.TargetID,
		From:       req.From,
		To:         req.To,
		Options: models.RunOptions{
			Iterations:               iterations,
			Seed:                     &seed,
			Strictness:               lo.FromPtrOr(req.Strictness, s.cfg.DefaultStrictness),
			ClearExisting:            req.ClearExisting,
			EnforceLectureOrder:      req.EnforceLectureOrder,
			DistributeEvenly:         req.DistributeEvenly,
			AllowOverbooking:         req.AllowOverbooking,
			AllowWindows:             req.AllowWindows,
			WeekParity:               req.WeekParity,
			ShortenPreHoliday:        &shorten,
			IgnoreProductionCalendar: req.IgnoreProductionCalendar || !s.cfg.RespectProductionCalendar,
		},
	}, nil
}

// Get returns the run status, preferring the live cached snapshot.
func (s *SchedulingRunService) Get(ctx context.Context, id string) (*dto.SchedulingRunResponse, error) {
	var cached dto.SchedulingRunResponse
	if hit, _ := s.cache.Get(ctx, s.cache.RunStatusKey(id), &cached); hit {
		return &cached, nil
	}
	run, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := dto.NewSchedulingRunResponse(run)
	_ = s.cache.Set(ctx, s.cache.RunStatusKey(id), resp, s.cfg.StatusTTL)
	return &resp, nil
}

func (s *SchedulingRunService) load(ctx context.Context, id string) (*models.SchedulingRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scheduling run")
	}
	return run, nil
}

// Cancel stops a queued or running run. A running run finishes its current
// pass and reports the outcome itself; a queued run is cancelled at once.
func (s *SchedulingRunService) Cancel(ctx context.Context, id, actorID string) (*dto.SchedulingRunResponse, error) {
	run, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrRunFinished, fmt.Sprintf("scheduling run is already %s", run.Status))
	}

	if running := s.queue.Cancel(id); running {
		s.logger.Sugar().Infow("scheduling run cancellation requested", "run_id", id, "actor", actorID)
		resp := dto.NewSchedulingRunResponse(run)
		return &resp, nil
	}

	status := models.RunStatusCancelled
	phase := string(scheduler.StateCancelled)
	code := appErrors.ErrRunCancelled.Code
	msg := "cancelled before start"
	now := s.now().UTC()
	changed, err := s.runs.Update(ctx, id, repository.UpdateRunParams{
		Status: &status, Phase: &phase, ErrorCode: &code, ErrorMessage: &msg, FinishedAt: &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel scheduling run")
	}
	_ = s.cache.Delete(ctx, s.cache.RunStatusKey(id))
	if run, err = s.load(ctx, id); err != nil {
		return nil, err
	}
	resp := dto.NewSchedulingRunResponse(run)
	if changed {
		s.logger.Sugar().Infow("queued scheduling run cancelled", "run_id", id, "actor", actorID)
		_ = s.publisher.PublishFinal(RunTopic(id), MessageFinished, resp)
	}
	return &resp, nil
}

// ListFailures returns the requirements a run could not place in full.
func (s *SchedulingRunService) ListFailures(ctx context.Context, id string) ([]dto.RunFailureResponse, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.failures.ListByRun(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load run failures")
	}
	return lo.Map(rows, func(f models.RunFailure, _ int) dto.RunFailureResponse {
		return dto.RunFailureResponse{RequirementID: f.RequirementID, ReasonCode: f.Reason, Missing: f.Missing}
	}), nil
}

// Recover marks runs interrupted by a restart as failed and re-enqueues queued runs.
func (s *SchedulingRunService) Recover(ctx context.Context) {
	failed, err := s.runs.FailInterrupted(ctx, appErrors.ErrRunInterrupted.Code, appErrors.ErrRunInterrupted.Message)
	if err != nil {
		s.logger.Sugar().Warnw("failed to mark interrupted runs", "error", err)
	} else if failed > 0 {
		s.logger.Sugar().Warnw("marked interrupted scheduling runs as failed", "count", failed)
	}

	pending, err := s.runs.ListByStatus(ctx, models.RunStatusQueued, recoverBatch)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued scheduling runs", "error", err)
		return
	}
	for _, run := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: JobTypeSchedulingRun}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue scheduling run", "run_id", run.ID, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Sugar().Infow("requeued pending scheduling runs", "count", len(pending))
	}
}

// EngineOptions converts persisted run options into engine options.
func EngineOptions(params models.RunParams, seed int64) scheduler.Options {
	o := params.Options
	return scheduler.Options{
		Iterations:               o.Iterations,
		Seed:                     seed,
		Strictness:               o.Strictness,
		ClearExisting:            o.ClearExisting,
		EnforceLectureOrder:      o.EnforceLectureOrder,
		DistributeEvenly:         o.DistributeEvenly,
		AllowOverbooking:         o.AllowOverbooking,
		AllowWindows:             o.AllowWindows,
		WeekParity:               o.WeekParity,
		ShortenPreHoliday:        lo.FromPtr(o.ShortenPreHoliday),
		IgnoreProductionCalendar: o.IgnoreProductionCalendar,
	}
}
