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

const ruleColumns = `id, rule_type, name, description, trigger_condition, step_template,
	enabled, priority, version, deleted, created_at, updated_at`

// RuleRepository implements port.RuleRepository
type RuleRepository struct {
	conn
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *database.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{conn{db: db, logger: logger}}
}

var _ port.RuleRepository = (*RuleRepository)(nil)

// Create inserts a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *entity.Rule) error {
	cond, tmpl, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `INSERT INTO approval_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		rule.ID, rule.RuleType, rule.Name, rule.Description, cond, tmpl,
		rule.Enabled, rule.Priority, rule.Version, rule.Deleted,
		toMillis(rule.CreatedAt), toMillis(rule.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create rule", zap.String("rule_id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetByID retrieves a live rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*entity.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = ? AND deleted = ?`
	rule, err := r.scanRule(r.queryRow(ctx, query, id, false))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundf("rule", id)
	}
	if err != nil {
		r.logger.Error("Failed to get rule", zap.String("rule_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Lookup retrieves a rule by ID, deleted or not
func (r *RuleRepository) Lookup(ctx context.Context, id string) (*entity.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = ?`
	rule, err := r.scanRule(r.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundf("rule", id)
	}
	if err != nil {
		r.logger.Error("Failed to look up rule", zap.String("rule_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to look up rule: %w", err)
	}
	return rule, nil
}

// List returns live rules in evaluation order
func (r *RuleRepository) List(ctx context.Context, filter port.RuleFilter) ([]*entity.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE deleted = ?`
	args := []interface{}{false}
	if filter.RuleType != "" {
		query += ` AND rule_type = ?`
		args = append(args, filter.RuleType)
	}
	if !filter.IncludeDisabled {
		query += ` AND enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY priority ASC, created_at DESC, id ASC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Update writes rule when the stored version still equals expectedVersion
func (r *RuleRepository) Update(ctx context.Context, rule *entity.Rule, expectedVersion int) error {
	cond, tmpl, err := encodeRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `UPDATE approval_rules SET
			rule_type = ?, name = ?, description = ?, trigger_condition = ?, step_template = ?,
			enabled = ?, priority = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ? AND deleted = ?`
	ok, err := r.execCAS(ctx, query,
		rule.RuleType, rule.Name, rule.Description, cond, tmpl,
		rule.Enabled, rule.Priority, rule.Version, toMillis(rule.UpdatedAt),
		rule.ID, expectedVersion, false,
	)
	if err != nil {
		r.logger.Error("Failed to update rule", zap.String("rule_id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if !ok {
		return r.casFailure(ctx, "approval_rules", "rule", rule.ID)
	}
	return nil
}

// SoftDelete hides a rule from every read and from evaluation
func (r *RuleRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE approval_rules SET deleted = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND deleted = ?`
	ok, err := r.execCAS(ctx, query, true, false, toMillis(at), id, false)
	if err != nil {
		r.logger.Error("Failed to delete rule", zap.String("rule_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if !ok {
		return entity.NotFoundf("rule", id)
	}
	return nil
}

func (r *RuleRepository) scanRule(row scanner) (*entity.Rule, error) {
	var (
		rule             entity.Rule
		cond, tmpl       string
		created, updated int64
	)
	err := row.Scan(
		&rule.ID, &rule.RuleType, &rule.Name, &rule.Description, &cond, &tmpl,
		&rule.Enabled, &rule.Priority, &rule.Version, &rule.Deleted, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = fromMillis(created)
	rule.UpdatedAt = fromMillis(updated)

	// An undecodable column leaves the field empty; the evaluator then reports the rule as malformed.
	if err := json.Unmarshal([]byte(cond), &rule.TriggerCondition); err != nil {
		r.logger.Warn("Stored trigger condition is not valid JSON", zap.String("rule_id", rule.ID), zap.Error(err))
		rule.TriggerCondition = nil
	}
	if err := json.Unmarshal([]byte(tmpl), &rule.StepTemplate); err != nil {
		r.logger.Warn("Stored step template is not valid JSON", zap.String("rule_id", rule.ID), zap.Error(err))
		rule.StepTemplate = nil
	}
	return &rule, nil
}

func encodeRuleJSON(rule *entity.Rule) (string, string, error) {
	cond, err := json.Marshal(rule.TriggerCondition)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger condition: %w", err)
	}
	tmpl, err := json.Marshal(rule.StepTemplate)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal step template: %w", err)
	}
	return string(cond), string(tmpl), nil
}
