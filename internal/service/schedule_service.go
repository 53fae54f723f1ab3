package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

const defaultEntryPageSize = 100

type scheduleEntryLister interface {
	List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntryView, int, error)
}

// ScheduleService answers read queries over committed schedule entries.
type ScheduleService struct {
	repo      scheduleEntryLister
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(repo scheduleEntryLister, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, cache: cache, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// List returns one page of entries in the requested frame and whether it was
// served from cache.
func (s *ScheduleService) List(ctx context.Context, query dto.ScheduleEntryQuery) (*dto.ScheduleEntryListResponse, bool, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule query")
	}
	filter, err := s.buildFilter(query.From, query.To, query.TargetType, query.TargetID)
	if err != nil {
		return nil, false, err
	}
	filter.Page = lo.Ternary(query.Page > 0, query.Page, 1)
	filter.PageSize = lo.Ternary(query.PageSize > 0, query.PageSize, defaultEntryPageSize)

	key := s.cache.EntriesKey(fmt.Sprintf("%s:%s:%s:%s:%d:%d",
		filter.From.Format(dateLayout), filter.To.Format(dateLayout), filter.TargetType, filter.TargetID, filter.Page, filter.PageSize))
	var cached dto.ScheduleEntryListResponse
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule entries")
	}
	resp := &dto.ScheduleEntryListResponse{
		Items:      lo.Map(rows, func(v models.ScheduleEntryView, _ int) dto.ScheduleEntryResponse { return entryResponse(v) }),
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	}
	_ = s.cache.Set(ctx, key, resp, s.cacheTTL)
	return resp, false, nil
}

// Collect returns every entry in the frame for exports.
func (s *ScheduleService) Collect(ctx context.Context, from, to, targetType, targetID string) ([]models.ScheduleEntryView, error) {
	filter, err := s.buildFilter(from, to, targetType, targetID)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule entries")
	}
	return rows, nil
}

func (s *ScheduleService) buildFilter(from, to, targetType, targetID string) (models.ScheduleEntryFilter, error) {
	frame, err := ParseFrame(from, to)
	if err != nil {
		return models.ScheduleEntryFilter{}, err
	}
	filter := models.ScheduleEntryFilter{From: frame.Start, To: frame.End}
	switch targetType {
	case "", "none":
	case "group", "teacher", "classroom":
		if targetID == "" {
			return filter, appErrors.Clone(appErrors.ErrValidation, "targetId is required when targetType is set")
		}
		filter.TargetType, filter.TargetID = targetType, targetID
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown targetType %q", targetType))
	}
	return filter, nil
}

func entryResponse(v models.ScheduleEntryView) dto.ScheduleEntryResponse {
	return dto.ScheduleEntryResponse{
		ID:              v.ID,
		Date:            v.SessionDate.Format(dateLayout),
		Slot:            v.SlotNumber,
		TimeSlotID:      v.TimeSlotID,
		StartsAt:        v.StartsAt,
		EndsAt:          v.EndsAt,
		SubjectID:       v.SubjectID,
		SubjectName:     v.SubjectName,
		SessionKind:     v.SessionKind,
		ParticipantType: v.ParticipantType,
		ParticipantID:   v.ParticipantID,
		ParticipantName: v.ParticipantName,
		TeacherID:       v.TeacherID,
		TeacherName:     v.TeacherName,
		ClassroomID:     v.ClassroomID,
		ClassroomName:   v.ClassroomName,
		RunID:           lo.FromPtr(v.RunID),
	}
}
