package service

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/application/workflow"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// dayLayout keys the per-day statistics buckets
const dayLayout = "2006-01-02"

// maxPageSize caps a single step listing
const maxPageSize = 500

// AuditService is the query and update surface over step records
type AuditService interface {
	ListSteps(ctx context.Context, filter entity.StepFilter, sort entity.StepSort, page entity.PageRequest) (*entity.StepPage, error)
	GetStep(ctx context.Context, id string) (*entity.StepRecord, error)
	GetInstanceDetail(ctx context.Context, instanceID string) (*entity.InstanceDetail, error)

	// UpdateOutcome records a decision on a step through the workflow engine
	UpdateOutcome(ctx context.Context, stepID string, decision entity.Decision, approverID, comment string) (*entity.WorkflowInstance, error)

	// StatisticsFor counts the steps created inside rng that are attributed to approverID
	StatisticsFor(ctx context.Context, approverID string, rng entity.DateRange) (*entity.ApproverStats, error)
}

type auditServiceImpl struct {
	instanceRepo port.InstanceRepository
	stepRepo     port.StepRepository
	engine       workflow.Engine
	resolver     port.RoleResolver
	policy       StatsPolicy
	logger       Logger
}

// NewAuditService creates a new AuditService. resolver may be nil under StatsPolicyAssigned.
func NewAuditService(
	instanceRepo port.InstanceRepository,
	stepRepo port.StepRepository,
	engine workflow.Engine,
	resolver port.RoleResolver,
	policy StatsPolicy,
	logger Logger,
) AuditService {
	if policy == "" {
		policy = StatsPolicyAssigned
	}
	return &auditServiceImpl{
		instanceRepo: instanceRepo,
		stepRepo:     stepRepo,
		engine:       engine,
		resolver:     resolver,
		policy:       policy,
		logger:       logger,
	}
}

func (s *auditServiceImpl) ListSteps(ctx context.Context, filter entity.StepFilter, sort entity.StepSort, page entity.PageRequest) (*entity.StepPage, error) {
	if sort.Field != "" && !sort.Field.IsValid() {
		return nil, fmt.Errorf("%w: unsupported sort field %q", entity.ErrInvalidInput, sort.Field)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown step status %q", entity.ErrInvalidInput, filter.Status)
	}
	if page.Limit < 0 || page.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must be non-negative", entity.ErrInvalidInput)
	}
	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}

	result, err := s.stepRepo.List(ctx, filter, sort, page)
	if err != nil {
		s.logger.Error("Failed to list steps", "error", err)
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return result, nil
}

func (s *auditServiceImpl) GetStep(ctx context.Context, id string) (*entity.StepRecord, error) {
	if err := requireID("step id", id); err != nil {
		return nil, err
	}
	return s.stepRepo.GetByID(ctx, id)
}

func (s *auditServiceImpl) GetInstanceDetail(ctx context.Context, instanceID string) (*entity.InstanceDetail, error) {
	if err := requireID("instance id", instanceID); err != nil {
		return nil, err
	}

	inst, err := s.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	steps, err := s.stepRepo.ListByInstance(ctx, instanceID)
	if err != nil {
		s.logger.Error("Failed to get steps", "error", err, "instance_id", instanceID)
		return nil, fmt.Errorf("get steps: %w", err)
	}
	return &entity.InstanceDetail{Instance: inst, Steps: steps}, nil
}

func (s *auditServiceImpl) UpdateOutcome(ctx context.Context, stepID string, decision entity.Decision, approverID, comment string) (*entity.WorkflowInstance, error) {
	if err := requireID("step id", stepID); err != nil {
		return nil, err
	}
	if err := requireID("approver id", approverID); err != nil {
		return nil, err
	}

	switch decision {
	case entity.DecisionApproved:
		return s.engine.Approve(ctx, stepID, approverID, comment)
	case entity.DecisionRejected:
		return s.engine.Reject(ctx, stepID, approverID, comment)
	}
	return nil, fmt.Errorf("%w: decision must be %q or %q, got %q",
		entity.ErrInvalidInput, entity.DecisionApproved, entity.DecisionRejected, decision)
}

func (s *auditServiceImpl) StatisticsFor(ctx context.Context, approverID string, rng entity.DateRange) (*entity.ApproverStats, error) {
	if err := requireID("approver id", approverID); err != nil {
		return nil, err
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return nil, fmt.Errorf("%w: range start must be before its end", entity.ErrInvalidInput)
	}

	query := entity.ApproverStepQuery{ApproverID: approverID, Range: rng}
	if s.policy == StatsPolicyBroadcast {
		roles, err := s.rolesOf(ctx, approverID, rng)
		if err != nil {
			return nil, err
		}
		query.Roles = roles
	}

	steps, err := s.stepRepo.ListForApprover(ctx, query)
	if err != nil {
		s.logger.Error("Failed to list steps for statistics", "error", err, "approver_id", approverID)
		return nil, fmt.Errorf("list steps: %w", err)
	}

	stats := &entity.ApproverStats{
		ApproverID: approverID,
		Range:      rng,
		ByRuleType: map[string]entity.StatusCounts{},
		ByDay:      map[string]entity.StatusCounts{},
	}
	for _, step := range steps {
		stats.Add(step.Status)

		byType := stats.ByRuleType[step.RuleType]
		byType.Add(step.Status)
		stats.ByRuleType[step.RuleType] = byType

		day := step.CreatedAt.UTC().Format(dayLayout)
		byDay := stats.ByDay[day]
		byDay.Add(step.Status)
		stats.ByDay[day] = byDay
	}
	return stats, nil
}

// rolesOf returns the roles with unclaimed pending work in rng that approverID belongs to
func (s *auditServiceImpl) rolesOf(ctx context.Context, approverID string, rng entity.DateRange) ([]string, error) {
	candidates, err := s.stepRepo.UnclaimedRoles(ctx, rng)
	if err != nil {
		s.logger.Error("Failed to list unclaimed roles", "error", err)
		return nil, fmt.Errorf("list unclaimed roles: %w", err)
	}

	membership := newRoleMembership(s.resolver, approverID)
	var roles []string
	for _, role := range candidates {
		ok, err := membership.includes(ctx, role)
		if err != nil {
			return nil, err
		}
		if ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// roleMembership memoizes whether one approver belongs to each role asked about
type roleMembership struct {
	resolver   port.RoleResolver
	approverID string
	cache      map[string]bool
}

func newRoleMembership(resolver port.RoleResolver, approverID string) *roleMembership {
	return &roleMembership{resolver: resolver, approverID: approverID, cache: map[string]bool{}}
}

func (m *roleMembership) includes(ctx context.Context, role string) (bool, error) {
	if m.resolver == nil {
		return false, nil
	}
	if v, ok := m.cache[role]; ok {
		return v, nil
	}

	approvers, err := m.resolver.ResolveApprovers(ctx, role)
	if err != nil {
		return false, fmt.Errorf("resolve approvers for role %s: %w", role, err)
	}
	found := false
	for _, id := range approvers {
		if id == m.approverID {
			found = true
			break
		}
	}
	m.cache[role] = found
	return found, nil
}
