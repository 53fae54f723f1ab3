package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

type entryListerStub struct {
	calls   int
	filters []models.ScheduleEntryFilter
	rows    []models.ScheduleEntryView
}

func (s *entryListerStub) List(ctx context.Context, filter models.ScheduleEntryFilter) ([]models.ScheduleEntryView, int, error) {
	s.calls++
	s.filters = append(s.filters, filter)
	return s.rows, len(s.rows), nil
}

func TestScheduleServiceListMapsAndCaches(t *testing.T) {
	repo := &entryListerStub{rows: sampleViews()}
	cache := NewCacheService(newMemoryCacheRepo(), nil, "test", time.Minute, nil, true)
	svc := NewScheduleService(repo, cache, nil, nil, time.Minute)
	query := dto.ScheduleEntryQuery{From: "2024-09-02", To: "2024-09-06", TargetType: "teacher", TargetID: "t1"}

	resp, hit, err := svc.List(context.Background(), query)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "2024-09-02", resp.Items[0].Date)
	assert.Equal(t, "Calculus", resp.Items[0].SubjectName)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, defaultEntryPageSize, resp.PageSize)
	assert.Equal(t, "teacher", repo.filters[0].TargetType)
	assert.Equal(t, "t1", repo.filters[0].TargetID)

	_, hit, err = svc.List(context.Background(), query)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, repo.calls)
}

func TestScheduleServiceListValidation(t *testing.T) {
	svc := NewScheduleService(&entryListerStub{}, nil, nil, nil, 0)
	ctx := context.Background()

	_, _, err := svc.List(ctx, dto.ScheduleEntryQuery{From: "2024-09-06", To: "2024-09-02"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, _, err = svc.List(ctx, dto.ScheduleEntryQuery{From: "2024-09-02", To: "2024-09-06", TargetType: "group"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, _, err = svc.List(ctx, dto.ScheduleEntryQuery{From: "2024-09-02"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestScheduleServiceCollectIgnoresNoneTarget(t *testing.T) {
	repo := &entryListerStub{}
	svc := NewScheduleService(repo, nil, nil, nil, 0)

	_, err := svc.Collect(context.Background(), "2024-09-02", "2024-09-06", "none", "ignored")
	require.NoError(t, err)
	assert.Empty(t, repo.filters[0].TargetType)
	assert.Empty(t, repo.filters[0].TargetID)
	assert.Zero(t, repo.filters[0].PageSize)
}
