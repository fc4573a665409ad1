package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

func TestExportService_ExportStatistics(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	ctx := context.Background()
	inst := f.start(t, "contract:1")
	_, err := f.engine.Approve(ctx, f.pendingStep(t, inst.ID).ID, "alice", "")
	require.NoError(t, err)

	renderer := &mockRenderer{}
	storage := &mockFileStorage{}
	svc := NewExportService(f.audit(StatsPolicyAssigned), renderer, storage, f.clock, f.logger)

	rng := entity.DateRange{From: t0.Truncate(24 * time.Hour), To: t0.AddDate(0, 0, 1)}
	path, err := svc.ExportStatistics(ctx, []string{"carol", "alice", "carol", ""}, rng)
	require.NoError(t, err)

	assert.Equal(t, "/data/reports/approver_stats_2024-03-01_2024-03-02_20240301T090000Z.xlsx", path)
	assert.True(t, storage.Exists(ctx, "reports/approver_stats_2024-03-01_2024-03-02_20240301T090000Z.xlsx"))

	require.Len(t, renderer.got, 2)
	assert.Equal(t, "alice", renderer.got[0].ApproverID)
	assert.Equal(t, 1, renderer.got[0].Approved)
	assert.Equal(t, "carol", renderer.got[1].ApproverID)
}

func TestExportService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := NewExportService(f.audit(StatsPolicyAssigned), &mockRenderer{}, &mockFileStorage{}, f.clock, f.logger)
	_, err := svc.ExportStatistics(ctx, []string{""}, entity.DateRange{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	diskFull := errors.New("disk full")
	svc = NewExportService(f.audit(StatsPolicyAssigned), &mockRenderer{}, &mockFileStorage{err: diskFull}, f.clock, f.logger)
	_, err = svc.ExportStatistics(ctx, []string{"alice"}, entity.DateRange{})
	assert.ErrorIs(t, err, diskFull)
}
