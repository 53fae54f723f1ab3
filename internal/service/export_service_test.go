package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/storage"
)

type collectorStub struct {
	rows []models.ScheduleEntryView
	args []string
}

func (c *collectorStub) Collect(ctx context.Context, from, to, targetType, targetID string) ([]models.ScheduleEntryView, error) {
	c.args = []string{from, to, targetType, targetID}
	return c.rows, nil
}

func sampleViews() []models.ScheduleEntryView {
	return []models.ScheduleEntryView{
		{
			ScheduleEntry: models.ScheduleEntry{ID: "e1", SessionDate: time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), TimeSlotID: "p1", SessionKind: "lecture"},
			SlotNumber:    1, StartsAt: "08:30", EndsAt: "10:00",
			SubjectName: "Calculus", TeacherName: "Dr. Ivanova", ClassroomName: "A-101", ParticipantName: "CS-21",
		},
		{
			ScheduleEntry: models.ScheduleEntry{ID: "e2", SessionDate: time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC), TimeSlotID: "p2", SessionKind: "lab"},
			SlotNumber:    2, StartsAt: "10:10", EndsAt: "11:40",
			SubjectName: "Chemistry", TeacherName: "Dr. Petrov", ClassroomName: "Lab-3", ParticipantName: "CS-21",
		},
	}
}

func newExportServiceForTest(t *testing.T) (*ExportService, *collectorStub, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	collector := &collectorStub{rows: sampleViews()}
	svc := NewExportService(collector, store, signer, nil, zap.NewNop(), ExportConfig{APIPrefix: "/api/v1", RetainFor: time.Hour})
	return svc, collector, dir
}

func tokenFromURL(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func TestExportServiceCreateAndDownloadCSV(t *testing.T) {
	svc, collector, _ := newExportServiceForTest(t)
	ctx := context.Background()

	resp, err := svc.Create(ctx, dto.ScheduleExportRequest{From: "2024-09-02", To: "2024-09-06", TargetType: "group", TargetID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "csv", resp.Format)
	assert.Equal(t, 2, resp.Rows)
	assert.True(t, strings.HasPrefix(resp.URL, "/api/v1/export/"))
	assert.Equal(t, []string{"2024-09-02", "2024-09-06", "group", "g1"}, collector.args)

	download, err := svc.ResolveDownload(ctx, tokenFromURL(resp.URL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "text/csv", download.ContentType)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))

	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Calculus")
	assert.Contains(t, string(body), "Monday")
}

func TestExportServiceRendersPDFAndXLSX(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)
	for _, format := range []string{"pdf", "xlsx"} {
		resp, err := svc.Create(context.Background(), dto.ScheduleExportRequest{From: "2024-09-02", To: "2024-09-06", Format: format})
		require.NoError(t, err, format)
		assert.Equal(t, format, resp.Format)

		download, err := svc.ResolveDownload(context.Background(), tokenFromURL(resp.URL))
		require.NoError(t, err, format)
		info, err := download.File.Stat()
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
		download.File.Close()
	}
}

func TestExportServiceRejectsBadInput(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)

	_, err := svc.Create(context.Background(), dto.ScheduleExportRequest{From: "2024-09-02", To: "2024-09-06", Format: "docx"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), dto.ScheduleExportRequest{From: "2024-09-02"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.ResolveDownload(context.Background(), "not-a-token")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestExportServiceDownloadOfCleanedFile(t *testing.T) {
	svc, _, dir := newExportServiceForTest(t)
	resp, err := svc.Create(context.Background(), dto.ScheduleExportRequest{From: "2024-09-02", To: "2024-09-06"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, entries[0].Name()), old, old))

	svc.Cleanup()

	_, err = svc.ResolveDownload(context.Background(), tokenFromURL(resp.URL))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
