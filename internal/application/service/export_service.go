package service

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// ExportService renders approver statistics into a stored report file
type ExportService interface {
	// ExportStatistics writes one report covering every approver and returns its storage path
	ExportStatistics(ctx context.Context, approverIDs []string, rng entity.DateRange) (string, error)
}

type exportServiceImpl struct {
	audit    AuditService
	renderer port.StatisticsRenderer
	storage  port.FileStorage
	clock    port.Clock
	logger   Logger
}

// NewExportService creates a new ExportService
func NewExportService(
	audit AuditService,
	renderer port.StatisticsRenderer,
	storage port.FileStorage,
	clock port.Clock,
	logger Logger,
) ExportService {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &exportServiceImpl{
		audit:    audit,
		renderer: renderer,
		storage:  storage,
		clock:    clock,
		logger:   logger,
	}
}

func (s *exportServiceImpl) ExportStatistics(ctx context.Context, approverIDs []string, rng entity.DateRange) (string, error) {
	ids := dedupe(approverIDs)
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: at least one approver id is required", entity.ErrInvalidInput)
	}

	stats := make([]*entity.ApproverStats, 0, len(ids))
	for _, id := range ids {
		st, err := s.audit.StatisticsFor(ctx, id, rng)
		if err != nil {
			return "", err
		}
		stats = append(stats, st)
	}

	content, err := s.renderer.RenderStatistics(stats)
	if err != nil {
		s.logger.Error("Failed to render statistics report", "error", err)
		return "", fmt.Errorf("render report: %w", err)
	}

	name := reportName(s.clock.Now().UTC().Format("20060102T150405Z"), rng) + s.renderer.Extension()
	relPath := path.Join("reports", name)
	if err := s.storage.Save(ctx, relPath, content); err != nil {
		s.logger.Error("Failed to save statistics report", "error", err, "path", relPath)
		return "", fmt.Errorf("save report: %w", err)
	}

	fullPath := s.storage.GetFullPath(relPath)
	s.logger.Info("Statistics report exported", "path", fullPath, "approvers", len(stats), "size", len(content))
	return fullPath, nil
}

func reportName(stamp string, rng entity.DateRange) string {
	from, to := "start", "now"
	if !rng.From.IsZero() {
		from = rng.From.UTC().Format(dayLayout)
	}
	if !rng.To.IsZero() {
		to = rng.To.UTC().Format(dayLayout)
	}
	return fmt.Sprintf("approver_stats_%s_%s_%s", from, to, stamp)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
