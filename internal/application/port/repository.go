package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// RuleFilter narrows a rule listing
type RuleFilter struct {
	RuleType        string
	IncludeDisabled bool
}

// RuleRepository defines persistence operations for approval rules.
// Rules are soft-deleted only; deleted rules are invisible to every read except Lookup.
type RuleRepository interface {
	Create(ctx context.Context, rule *entity.Rule) error
	GetByID(ctx context.Context, id string) (*entity.Rule, error)

	// Lookup returns the rule with id whether or not it was deleted
	Lookup(ctx context.Context, id string) (*entity.Rule, error)
	List(ctx context.Context, filter RuleFilter) ([]*entity.Rule, error)

	// Update stores rule if its stored version still equals expectedVersion, else ErrConflict
	Update(ctx context.Context, rule *entity.Rule, expectedVersion int) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// InstanceRepository defines persistence operations for workflow instances.
// Advance and Resolve are compare-and-set updates keyed on the instance still being pending
// at fromOrder; they return entity.ErrConflict when another writer got there first.
type InstanceRepository interface {
	Create(ctx context.Context, inst *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	Advance(ctx context.Context, id string, fromOrder, toOrder int) error
	Resolve(ctx context.Context, id string, fromOrder int, status entity.InstanceStatus, reason string, at time.Time) error
}

// StepRepository defines persistence operations for step records
type StepRepository interface {
	Create(ctx context.Context, step *entity.StepRecord) error
	GetByID(ctx context.Context, id string) (*entity.StepRecord, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepRecord, error)

	// Decide moves a pending step to status, recording approverID as its assignee.
	// Returns entity.ErrConflict when the step is no longer pending.
	Decide(ctx context.Context, id string, status entity.StepStatus, approverID, comment string, at time.Time) error

	// Claim assigns an unclaimed pending step. Returns entity.ErrConflict otherwise.
	Claim(ctx context.Context, id, approverID string) error

	List(ctx context.Context, filter entity.StepFilter, sort entity.StepSort, page entity.PageRequest) (*entity.StepPage, error)

	// ListForApprover returns the steps selected by q, oldest first
	ListForApprover(ctx context.Context, q entity.ApproverStepQuery) ([]*entity.StepRecord, error)

	// UnclaimedRoles returns the distinct roles of unclaimed pending steps of pending
	// instances created inside rng, sorted
	UnclaimedRoles(ctx context.Context, rng entity.DateRange) ([]string, error)

	// ListOverdue returns pending steps of pending instances whose deadline is before asOf,
	// earliest deadline first
	ListOverdue(ctx context.Context, asOf time.Time) ([]*entity.StepRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}
