package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/export"
	"github.com/noah-isme/univ-scheduler-api/pkg/storage"
)

type entryCollector interface {
	Collect(ctx context.Context, from, to, targetType, targetID string) ([]models.ScheduleEntryView, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration, now time.Time) ([]string, error)
}

type urlSigner interface {
	Sign(exportID, relPath string) (string, time.Time, error)
	Verify(token string, allowExpired bool) (storage.Grant, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	RetainFor       time.Duration
	CleanupInterval time.Duration
}

// ExportDownload is a resolved export file ready to stream.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportService renders timetables to files and issues signed download links.
type ExportService struct {
	entries   entryCollector
	storage   fileStorage
	signer    urlSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(entries entryCollector, store fileStorage, signer urlSigner, validate *validator.Validate, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 72 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ExportService{entries: entries, storage: store, signer: signer, validator: validate, logger: logger, cfg: cfg, now: time.Now}
}

// Create renders the requested timetable and returns a signed download link.
func (s *ExportService) Create(ctx context.Context, req dto.ScheduleExportRequest) (*dto.ScheduleExportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	rows, err := s.entries.Collect(ctx, req.From, req.To, req.TargetType, req.TargetID)
	if err != nil {
		return nil, err
	}
	doc := export.Document{
		Title: exportTitle(req),
		Rows:  lo.Map(rows, func(v models.ScheduleEntryView, _ int) export.Row { return exportRow(v) }),
	}
	payload, err := renderer.Render(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	id := uuid.NewString()
	name := fmt.Sprintf("timetable_%s_%s_%s.%s", sanitizeFilename(req.From), sanitizeFilename(req.To), id[:8], renderer.Extension())
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	s.logger.Sugar().Infow("schedule export created", "export_id", id, "format", format, "rows", len(doc.Rows), "path", relPath)
	return &dto.ScheduleExportResponse{
		ID:        id,
		Format:    string(format),
		Rows:      len(doc.Rows),
		URL:       fmt.Sprintf("%s/export/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a token and opens the stored export.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	grant, err := s.signer.Verify(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	filename := filepath.Base(grant.Path)
	contentType := "application/octet-stream"
	if f, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(filename), ".")); err == nil {
		if r, err := export.ForFormat(f); err == nil {
			contentType = r.ContentType()
		}
	}
	return &ExportDownload{File: file, Filename: filename, ContentType: contentType, ExpiresAt: grant.ExpiresAt}, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Cleanup removes exports older than the retention window.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.RetainFor, s.now())
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup failed", "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("expired exports removed", "count", len(removed))
	}
}

func exportTitle(req dto.ScheduleExportRequest) string {
	title := fmt.Sprintf("Timetable %s to %s", req.From, req.To)
	if req.TargetType != "" && req.TargetType != "none" && req.TargetID != "" {
		title += fmt.Sprintf(" (%s %s)", req.TargetType, req.TargetID)
	}
	return title
}

func exportRow(v models.ScheduleEntryView) export.Row {
	return export.Row{
		Date:        v.SessionDate.Format(dateLayout),
		Weekday:     v.SessionDate.Weekday().String(),
		Slot:        fmt.Sprintf("%d", v.SlotNumber),
		Start:       v.StartsAt,
		End:         v.EndsAt,
		Subject:     v.SubjectName,
		Kind:        v.SessionKind,
		Participant: v.ParticipantName,
		Teacher:     v.TeacherName,
		Classroom:   v.ClassroomName,
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
