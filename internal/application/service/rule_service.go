package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// ImportResult summarizes a bulk rule import
type ImportResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Skipped counts rules whose id belongs to a deleted rule; deletion is permanent
	Skipped int `json:"skipped"`
}

// RuleService administers approval rules
type RuleService interface {
	CreateRule(ctx context.Context, rule *entity.Rule) (*entity.Rule, error)
	// UpdateRule stores rule when rule.Version is still the stored version, and bumps the version
	UpdateRule(ctx context.Context, rule *entity.Rule) (*entity.Rule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*entity.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*entity.Rule, error)
	ListRules(ctx context.Context, filter port.RuleFilter) ([]*entity.Rule, error)
	// ImportRules upserts rules by id in one transaction
	ImportRules(ctx context.Context, rules []*entity.Rule) (*ImportResult, error)
}

type ruleServiceImpl struct {
	ruleRepo  port.RuleRepository
	txManager port.TransactionManager
	clock     port.Clock
	logger    Logger
}

// NewRuleService creates a new RuleService
func NewRuleService(
	ruleRepo port.RuleRepository,
	txManager port.TransactionManager,
	clock port.Clock,
	logger Logger,
) RuleService {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &ruleServiceImpl{
		ruleRepo:  ruleRepo,
		txManager: txManager,
		clock:     clock,
		logger:    logger,
	}
}

// CreateRule validates and stores a new rule at version 1
func (s *ruleServiceImpl) CreateRule(ctx context.Context, rule *entity.Rule) (*entity.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule.Version = 1
	rule.Deleted = false
	rule.CreatedAt, rule.UpdatedAt = now, now

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		s.logger.Error("Failed to create rule", "error", err, "rule_type", rule.RuleType)
		return nil, fmt.Errorf("create rule: %w", err)
	}

	s.logger.Info("Rule created", "rule_id", rule.ID, "rule_type", rule.RuleType, "priority", rule.Priority)
	return rule, nil
}

// UpdateRule replaces the editable fields of a rule
func (s *ruleServiceImpl) UpdateRule(ctx context.Context, rule *entity.Rule) (*entity.Rule, error) {
	if err := requireID("rule id", rule.ID); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var updated *entity.Rule
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		cur, err := s.ruleRepo.GetByID(txCtx, rule.ID)
		if err != nil {
			return err
		}
		if cur.Version != rule.Version {
			return fmt.Errorf("%w: rule %s is at version %d, not %d", entity.ErrConflict, rule.ID, cur.Version, rule.Version)
		}

		next := *rule
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = s.clock.Now()
		next.Version = cur.Version + 1
		if err := s.ruleRepo.Update(txCtx, &next, cur.Version); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to update rule", "error", err, "rule_id", rule.ID)
		return nil, fmt.Errorf("update rule: %w", err)
	}

	s.logger.Info("Rule updated", "rule_id", updated.ID, "version", updated.Version)
	return updated, nil
}

// SetEnabled switches a rule on or off
func (s *ruleServiceImpl) SetEnabled(ctx context.Context, id string, enabled bool) (*entity.Rule, error) {
	if err := requireID("rule id", id); err != nil {
		return nil, err
	}

	var updated *entity.Rule
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		cur, err := s.ruleRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if cur.Enabled == enabled {
			updated = cur
			return nil
		}

		expected := cur.Version
		cur.Enabled = enabled
		cur.Version++
		cur.UpdatedAt = s.clock.Now()
		if err := s.ruleRepo.Update(txCtx, cur, expected); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to toggle rule", "error", err, "rule_id", id, "enabled", enabled)
		return nil, fmt.Errorf("set rule enabled: %w", err)
	}

	s.logger.Info("Rule toggled", "rule_id", id, "enabled", enabled)
	return updated, nil
}

// DeleteRule soft-deletes a rule; running instances keep their template snapshot
func (s *ruleServiceImpl) DeleteRule(ctx context.Context, id string) error {
	if err := requireID("rule id", id); err != nil {
		return err
	}
	if err := s.ruleRepo.SoftDelete(ctx, id, s.clock.Now()); err != nil {
		s.logger.Error("Failed to delete rule", "error", err, "rule_id", id)
		return fmt.Errorf("delete rule: %w", err)
	}
	s.logger.Info("Rule deleted", "rule_id", id)
	return nil
}

func (s *ruleServiceImpl) GetRule(ctx context.Context, id string) (*entity.Rule, error) {
	if err := requireID("rule id", id); err != nil {
		return nil, err
	}
	return s.ruleRepo.GetByID(ctx, id)
}

func (s *ruleServiceImpl) ListRules(ctx context.Context, filter port.RuleFilter) ([]*entity.Rule, error) {
	rules, err := s.ruleRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list rules", "error", err, "rule_type", filter.RuleType)
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if rules == nil {
		rules = []*entity.Rule{}
	}
	return rules, nil
}

// ImportRules creates rules it has not seen and updates the ones whose content changed.
// Rules deleted since an earlier import are left deleted. Any invalid rule aborts the whole import.
func (s *ruleServiceImpl) ImportRules(ctx context.Context, rules []*entity.Rule) (*ImportResult, error) {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}

	result := &ImportResult{}
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		for _, rule := range rules {
			if rule.ID == "" {
				rule.ID = uuid.New().String()
			}

			cur, err := s.ruleRepo.Lookup(txCtx, rule.ID)
			switch {
			case errors.Is(err, entity.ErrNotFound):
				rule.Version, rule.Deleted = 1, false
				rule.CreatedAt, rule.UpdatedAt = now, now
				if err := s.ruleRepo.Create(txCtx, rule); err != nil {
					return fmt.Errorf("create rule %s: %w", rule.ID, err)
				}
				result.Created++
			case err != nil:
				return err
			case cur.Deleted:
				s.logger.Info("Skipping deleted rule", "rule_id", rule.ID)
				result.Skipped++
			case sameContent(cur, rule):
				result.Unchanged++
			default:
				next := *rule
				next.Version = cur.Version + 1
				next.CreatedAt, next.UpdatedAt = cur.CreatedAt, now
				if err := s.ruleRepo.Update(txCtx, &next, cur.Version); err != nil {
					return fmt.Errorf("update rule %s: %w", rule.ID, err)
				}
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to import rules", "error", err, "count", len(rules))
		return nil, fmt.Errorf("import rules: %w", err)
	}

	s.logger.Info("Rules imported", "created", result.Created, "updated", result.Updated,
		"unchanged", result.Unchanged, "skipped", result.Skipped)
	return result, nil
}

func sameContent(a, b *entity.Rule) bool {
	if a.RuleType != b.RuleType || a.Name != b.Name || a.Description != b.Description ||
		a.Enabled != b.Enabled || a.Priority != b.Priority {
		return false
	}
	if len(a.TriggerCondition) != len(b.TriggerCondition) || len(a.StepTemplate) != len(b.StepTemplate) {
		return false
	}
	for i := range a.TriggerCondition {
		av, aerr := a.TriggerCondition[i].Value()
		bv, berr := b.TriggerCondition[i].Value()
		if aerr != nil || berr != nil || av != bv || a.TriggerCondition[i].Description != b.TriggerCondition[i].Description {
			return false
		}
	}
	for i := range a.StepTemplate {
		x, y := a.StepTemplate[i], b.StepTemplate[i]
		if x.Order != y.Order || x.Name != y.Name || x.ApproverRole != y.ApproverRole ||
			x.ExpectedHours != y.ExpectedHours || x.IsRequired() != y.IsRequired() {
			return false
		}
	}
	return true
}
