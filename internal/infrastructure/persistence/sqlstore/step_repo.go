package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/pkg/database"
)

const stepColumns = `id, instance_id, step_order, step_name, approver_role, rule_type,
	assigned_approver_id, status, comment, created_at, decided_at, sla_deadline, deleted`

// sortColumns whitelists the ORDER BY expressions a listing may use
var sortColumns = map[entity.StepSortField]string{
	entity.SortByStepOrder:   "step_order",
	entity.SortByCreatedAt:   "created_at",
	entity.SortByDecidedAt:   "decided_at",
	entity.SortBySLADeadline: "sla_deadline",
}

// StepRepository implements port.StepRepository
type StepRepository struct {
	conn
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *database.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{conn{db: db, logger: logger}}
}

var _ port.StepRepository = (*StepRepository)(nil)

// Create inserts a new step record
func (r *StepRepository) Create(ctx context.Context, step *entity.StepRecord) error {
	query := `INSERT INTO step_records (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, query,
		step.ID, step.InstanceID, step.StepOrder, step.StepName, step.ApproverRole, step.RuleType,
		nullString(step.AssignedApproverID), string(step.Status), step.Comment,
		toMillis(step.CreatedAt), nullMillis(step.DecidedAt), toMillis(step.SLADeadline), step.Deleted,
	)
	if err != nil {
		r.logger.Error("Failed to create step", zap.String("step_id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}
	return nil
}

// GetByID retrieves a step record by ID
func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM step_records WHERE id = ? AND deleted = ?`
	step, err := scanStep(r.queryRow(ctx, query, id, false))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundf("step", id)
	}
	if err != nil {
		r.logger.Error("Failed to get step", zap.String("step_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// ListByInstance returns the steps of one instance in step order
func (r *StepRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepRecord, error) {
	page, err := r.List(ctx, entity.StepFilter{InstanceID: instanceID}, entity.StepSort{}, entity.PageRequest{})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Decide records a decision on a step that is still pending
func (r *StepRepository) Decide(ctx context.Context, id string, status entity.StepStatus, approverID, comment string, at time.Time) error {
	query := `UPDATE step_records SET status = ?, assigned_approver_id = ?, comment = ?, decided_at = ?
		WHERE id = ? AND status = ? AND deleted = ?`
	ok, err := r.execCAS(ctx, query,
		string(status), nullString(approverID), comment, toMillis(at),
		id, string(entity.StepStatusPending), false,
	)
	if err != nil {
		r.logger.Error("Failed to decide step", zap.String("step_id", id), zap.Error(err))
		return fmt.Errorf("failed to decide step: %w", err)
	}
	if !ok {
		return r.casFailure(ctx, "step_records", "step", id)
	}
	return nil
}

// Claim assigns a pending step nobody has claimed yet
func (r *StepRepository) Claim(ctx context.Context, id, approverID string) error {
	query := `UPDATE step_records SET assigned_approver_id = ?
		WHERE id = ? AND status = ? AND assigned_approver_id IS NULL AND deleted = ?`
	ok, err := r.execCAS(ctx, query, approverID, id, string(entity.StepStatusPending), false)
	if err != nil {
		r.logger.Error("Failed to claim step", zap.String("step_id", id), zap.Error(err))
		return fmt.Errorf("failed to claim step: %w", err)
	}
	if !ok {
		return r.casFailure(ctx, "step_records", "step", id)
	}
	return nil
}

// List returns one page of filtered, sorted steps together with the unpaged total
func (r *StepRepository) List(ctx context.Context, filter entity.StepFilter, order entity.StepSort, page entity.PageRequest) (*entity.StepPage, error) {
	where, args := stepWhere(filter)

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM step_records WHERE `+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count steps", zap.Error(err))
		return nil, fmt.Errorf("failed to count steps: %w", err)
	}

	orderBy, err := stepOrderBy(order)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + stepColumns + ` FROM step_records WHERE ` + where + ` ORDER BY ` + orderBy
	if page.Limit > 0 || page.Offset > 0 {
		limit := page.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, page.Offset)
	}

	items, err := r.list(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list steps", zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	return &entity.StepPage{Items: items, Total: total}, nil
}

// ListForApprover returns the steps created inside q.Range that count toward q.ApproverID
func (r *StepRepository) ListForApprover(ctx context.Context, q entity.ApproverStepQuery) ([]*entity.StepRecord, error) {
	pending := string(entity.StepStatusPending)
	who := `s.assigned_approver_id = ?`
	args := []interface{}{q.ApproverID}
	if len(q.Roles) > 0 {
		who = `(` + who + ` OR (s.assigned_approver_id IS NULL AND s.status = ? AND s.approver_role IN (` +
			placeholders(len(q.Roles)) + `)))`
		args = append(args, pending)
		for _, role := range q.Roles {
			args = append(args, role)
		}
	}

	query := `SELECT ` + qualify("s", stepColumns) + `
		FROM step_records s
		JOIN workflow_instances i ON i.id = s.instance_id
		WHERE s.deleted = ? AND i.deleted = ? AND (s.status <> ? OR i.overall_status = ?) AND ` + who
	args = append([]interface{}{false, false, pending, string(entity.InstanceStatusPending)}, args...)
	where, rangeArgs := createdInRange("s", q.Range)
	query += where + ` ORDER BY s.created_at ASC, s.id ASC`
	args = append(args, rangeArgs...)

	items, err := r.list(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list steps for approver", zap.String("approver_id", q.ApproverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps for approver: %w", err)
	}
	return items, nil
}

// UnclaimedRoles returns the roles that still have unclaimed pending work inside rng
func (r *StepRepository) UnclaimedRoles(ctx context.Context, rng entity.DateRange) ([]string, error) {
	query := `SELECT DISTINCT s.approver_role
		FROM step_records s
		JOIN workflow_instances i ON i.id = s.instance_id
		WHERE s.deleted = ? AND s.status = ? AND s.assigned_approver_id IS NULL
			AND i.overall_status = ? AND i.deleted = ?`
	args := []interface{}{false, string(entity.StepStatusPending), string(entity.InstanceStatusPending), false}
	where, rangeArgs := createdInRange("s", rng)
	query += where + ` ORDER BY s.approver_role ASC`
	args = append(args, rangeArgs...)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list unclaimed roles", zap.Error(err))
		return nil, fmt.Errorf("failed to list unclaimed roles: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListOverdue returns pending steps of pending instances whose deadline passed before asOf
func (r *StepRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*entity.StepRecord, error) {
	query := `SELECT ` + qualify("s", stepColumns) + `
		FROM step_records s
		JOIN workflow_instances i ON i.id = s.instance_id
		WHERE s.status = ? AND s.deleted = ? AND s.sla_deadline < ?
			AND i.overall_status = ? AND i.deleted = ?
		ORDER BY s.sla_deadline ASC, s.id ASC`

	items, err := r.list(ctx, query,
		string(entity.StepStatusPending), false, toMillis(asOf),
		string(entity.InstanceStatusPending), false,
	)
	if err != nil {
		r.logger.Error("Failed to list overdue steps", zap.Error(err))
		return nil, fmt.Errorf("failed to list overdue steps: %w", err)
	}
	return items, nil
}

func (r *StepRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.StepRecord, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*entity.StepRecord{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, step)
	}
	return items, rows.Err()
}

func stepWhere(f entity.StepFilter) (string, []interface{}) {
	clauses := []string{"deleted = ?"}
	args := []interface{}{false}
	if f.InstanceID != "" {
		clauses = append(clauses, "instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.ApproverID != "" {
		clauses = append(clauses, "assigned_approver_id = ?")
		args = append(args, f.ApproverID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RuleType != "" {
		clauses = append(clauses, "rule_type = ?")
		args = append(args, f.RuleType)
	}
	return strings.Join(clauses, " AND "), args
}

// stepOrderBy builds the ORDER BY clause. Undecided steps sort last by decided_at in
// either direction; ties fall back to created_at then id.
func stepOrderBy(order entity.StepSort) (string, error) {
	field := order.Field
	if field == "" {
		field = entity.SortByStepOrder
	}
	col, ok := sortColumns[field]
	if !ok {
		return "", fmt.Errorf("%w: unsupported sort field %q", entity.ErrInvalidInput, field)
	}

	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	expr := col + " " + dir
	if field == entity.SortByDecidedAt {
		expr = "CASE WHEN decided_at IS NULL THEN 1 ELSE 0 END ASC, " + expr
	}
	return expr + ", created_at ASC, id ASC", nil
}

// createdInRange renders the created_at bounds of rng as extra AND clauses on alias
func createdInRange(alias string, rng entity.DateRange) (string, []interface{}) {
	var (
		where string
		args  []interface{}
	)
	if !rng.From.IsZero() {
		where += ` AND ` + alias + `.created_at >= ?`
		args = append(args, toMillis(rng.From))
	}
	if !rng.To.IsZero() {
		where += ` AND ` + alias + `.created_at < ?`
		args = append(args, toMillis(rng.To))
	}
	return where, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// qualify prefixes every column of a column list with alias
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanStep(row scanner) (*entity.StepRecord, error) {
	var (
		step              entity.StepRecord
		assigned          sql.NullString
		status            string
		created, deadline int64
		decided           sql.NullInt64
	)
	err := row.Scan(
		&step.ID, &step.InstanceID, &step.StepOrder, &step.StepName, &step.ApproverRole, &step.RuleType,
		&assigned, &status, &step.Comment, &created, &decided, &deadline, &step.Deleted,
	)
	if err != nil {
		return nil, err
	}
	step.AssignedApproverID = assigned.String
	step.Status = entity.StepStatus(status)
	step.CreatedAt = fromMillis(created)
	step.DecidedAt = timePtr(decided)
	step.SLADeadline = fromMillis(deadline)
	return &step, nil
}
