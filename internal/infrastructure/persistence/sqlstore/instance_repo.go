package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/pkg/database"
)

const instanceColumns = `id, rule_id, rule_version, rule_type, subject_reference, requested_by,
	deviation, matched_threshold, step_template, total_steps, current_step_order,
	overall_status, cancel_reason, created_at, resolved_at, deleted`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	conn
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *database.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{conn{db: db, logger: logger}}
}

var _ port.InstanceRepository = (*InstanceRepository)(nil)

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	tmpl, err := json.Marshal(inst.StepTemplate)
	if err != nil {
		return fmt.Errorf("failed to marshal step template: %w", err)
	}

	query := `INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		inst.ID, inst.RuleID, inst.RuleVersion, inst.RuleType, inst.SubjectReference, inst.RequestedBy,
		inst.Deviation, inst.MatchedThreshold, string(tmpl), inst.TotalSteps, inst.CurrentStepOrder,
		string(inst.OverallStatus), inst.CancelReason, toMillis(inst.CreatedAt), nullMillis(inst.ResolvedAt), inst.Deleted,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ? AND deleted = ?`

	var (
		inst     entity.WorkflowInstance
		tmpl     string
		status   string
		created  int64
		resolved sql.NullInt64
	)
	err := r.queryRow(ctx, query, id, false).Scan(
		&inst.ID, &inst.RuleID, &inst.RuleVersion, &inst.RuleType, &inst.SubjectReference, &inst.RequestedBy,
		&inst.Deviation, &inst.MatchedThreshold, &tmpl, &inst.TotalSteps, &inst.CurrentStepOrder,
		&status, &inst.CancelReason, &created, &resolved, &inst.Deleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundf("instance", id)
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if err := json.Unmarshal([]byte(tmpl), &inst.StepTemplate); err != nil {
		return nil, fmt.Errorf("failed to decode step template snapshot of instance %s: %w", id, err)
	}
	inst.OverallStatus = entity.InstanceStatus(status)
	inst.CreatedAt = fromMillis(created)
	inst.ResolvedAt = timePtr(resolved)
	return &inst, nil
}

// Advance moves a pending instance from fromOrder to toOrder
func (r *InstanceRepository) Advance(ctx context.Context, id string, fromOrder, toOrder int) error {
	query := `UPDATE workflow_instances SET current_step_order = ?
		WHERE id = ? AND overall_status = ? AND current_step_order = ? AND deleted = ?`
	ok, err := r.execCAS(ctx, query, toOrder, id, string(entity.InstanceStatusPending), fromOrder, false)
	if err != nil {
		r.logger.Error("Failed to advance instance", zap.String("instance_id", id), zap.Error(err))
		return fmt.Errorf("failed to advance instance: %w", err)
	}
	if !ok {
		return r.casFailure(ctx, "workflow_instances", "instance", id)
	}
	return nil
}

// Resolve moves a pending instance at fromOrder to a terminal status
func (r *InstanceRepository) Resolve(ctx context.Context, id string, fromOrder int, status entity.InstanceStatus, reason string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal instance status", entity.ErrInvalidInput, status)
	}

	query := `UPDATE workflow_instances SET overall_status = ?, cancel_reason = ?, resolved_at = ?
		WHERE id = ? AND overall_status = ? AND current_step_order = ? AND deleted = ?`
	ok, err := r.execCAS(ctx, query,
		string(status), reason, toMillis(at),
		id, string(entity.InstanceStatusPending), fromOrder, false,
	)
	if err != nil {
		r.logger.Error("Failed to resolve instance", zap.String("instance_id", id), zap.Error(err))
		return fmt.Errorf("failed to resolve instance: %w", err)
	}
	if !ok {
		return r.casFailure(ctx, "workflow_instances", "instance", id)
	}
	return nil
}
