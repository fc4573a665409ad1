package workflow

import (
	"context"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// Engine gates business events behind approval chains and advances those chains
type Engine interface {
	// EvaluateAndMaybeStart matches evt against the enabled rules of its type.
	// It returns nil when no rule fires, in which case the caller proceeds without gating.
	EvaluateAndMaybeStart(ctx context.Context, evt entity.BusinessEvent) (*entity.WorkflowInstance, error)

	// Instantiate starts an instance of rule for evt and creates its first step
	Instantiate(ctx context.Context, rule *entity.Rule, evt entity.BusinessEvent, match entity.Match) (*entity.WorkflowInstance, error)

	// Approve approves the current step, advancing or resolving the instance
	Approve(ctx context.Context, stepID, approverID, comment string) (*entity.WorkflowInstance, error)

	// Reject rejects the current step and the whole instance with it
	Reject(ctx context.Context, stepID, approverID, comment string) (*entity.WorkflowInstance, error)

	// Cancel withdraws a pending instance. Its pending step is left as is.
	Cancel(ctx context.Context, instanceID, reason string) (*entity.WorkflowInstance, error)

	// Claim assigns the current step to approverID
	Claim(ctx context.Context, stepID, approverID string) (*entity.StepRecord, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StepSkipper decides whether an optional step is skipped. It is never asked about required steps.
type StepSkipper func(ctx context.Context, inst *entity.WorkflowInstance, spec entity.StepSpec) bool

// SkipOptionalSteps skips every step whose template marks it as not required
func SkipOptionalSteps(context.Context, *entity.WorkflowInstance, entity.StepSpec) bool {
	return true
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
