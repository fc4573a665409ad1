package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/approval-workflow/internal/application/dispatcher"
	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/condition"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/internal/domain/event"
	domainwf "github.com/garyjia/approval-workflow/internal/domain/workflow"
)

const tracerName = "github.com/garyjia/approval-workflow/internal/application/workflow"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	ruleRepo     port.RuleRepository
	instanceRepo port.InstanceRepository
	stepRepo     port.StepRepository
	txManager    port.TransactionManager

	dispatcher dispatcher.Dispatcher
	resolver   port.RoleResolver
	skipper    StepSkipper
	clock      port.Clock
	metrics    port.WorkflowMetrics
	logger     Logger
	tracer     trace.Tracer
	newID      func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher that receives committed transitions
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithRoleResolver restricts approvals and claims to members of the step's role.
// Without a resolver any approver id is accepted.
func WithRoleResolver(r port.RoleResolver) EngineOption {
	return func(e *engineImpl) {
		e.resolver = r
	}
}

// WithStepSkipper installs the policy for optional steps
func WithStepSkipper(s StepSkipper) EngineOption {
	return func(e *engineImpl) {
		e.skipper = s
	}
}

// WithClock overrides the wall clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.WorkflowMetrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithTracer overrides the tracer taken from the global otel provider
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = t
	}
}

// WithIDGenerator overrides uuid generation for instances and steps
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = fn
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	ruleRepo port.RuleRepository,
	instanceRepo port.InstanceRepository,
	stepRepo port.StepRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		ruleRepo:     ruleRepo,
		instanceRepo: instanceRepo,
		stepRepo:     stepRepo,
		txManager:    txManager,
		clock:        port.SystemClock{},
		metrics:      port.NopMetrics{},
		logger:       nopLogger{},
		tracer:       otel.Tracer(tracerName),
		newID:        func() string { return uuid.New().String() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) EvaluateAndMaybeStart(ctx context.Context, evt entity.BusinessEvent) (*entity.WorkflowInstance, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.evaluate", trace.WithAttributes(
		attribute.String("approval.rule_type", evt.RuleType),
		attribute.Float64("approval.deviation", evt.Deviation),
	))
	defer span.End()

	if strings.TrimSpace(evt.RuleType) == "" {
		return nil, fmt.Errorf("%w: event has no rule_type", entity.ErrInvalidInput)
	}

	rules, err := e.ruleRepo.List(ctx, port.RuleFilter{RuleType: evt.RuleType})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to list rules: %w", err))
	}

	match, ok, malformed := condition.Evaluate(evt, rules)
	for _, merr := range malformed {
		e.logger.Warn("Skipping malformed rule", "rule_type", evt.RuleType, "error", merr)
	}
	if !ok {
		span.SetAttributes(attribute.Bool("approval.gated", false))
		return nil, nil
	}

	span.SetAttributes(attribute.Bool("approval.gated", true), attribute.String("approval.rule_id", match.Rule.ID))
	return e.Instantiate(ctx, match.Rule, evt, match)
}

func (e *engineImpl) Instantiate(ctx context.Context, rule *entity.Rule, evt entity.BusinessEvent, match entity.Match) (*entity.WorkflowInstance, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.instantiate", trace.WithAttributes(
		attribute.String("approval.rule_id", rule.ID),
	))
	defer span.End()

	if err := rule.StepTemplate.Validate(); err != nil {
		var ce *entity.ConfigurationError
		if errors.As(err, &ce) {
			ce.RuleID = rule.ID
		}
		e.logger.Error("Refusing to instantiate rule with invalid step template", "rule_id", rule.ID, "error", err)
		return nil, spanError(span, err)
	}

	tmpl := rule.StepTemplate.Sorted()
	now := e.clock.Now()
	inst := &entity.WorkflowInstance{
		ID:               e.newID(),
		RuleID:           rule.ID,
		RuleVersion:      rule.Version,
		RuleType:         rule.RuleType,
		SubjectReference: evt.SubjectReference,
		RequestedBy:      evt.RequestedBy,
		Deviation:        evt.Deviation,
		MatchedThreshold: match.Value,
		StepTemplate:     tmpl,
		TotalSteps:       len(tmpl),
		CurrentStepOrder: 1,
		OverallStatus:    entity.InstanceStatusPending,
		CreatedAt:        now,
	}

	var events []*event.Event
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Create(txCtx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}

		pending, err := e.openStep(txCtx, inst, 1, now)
		if err != nil {
			return err
		}
		if pending == nil {
			if err := e.completeSkippedTail(txCtx, inst, 1, now); err != nil {
				return err
			}
			events = append(events,
				event.NewEvent(event.TypeInstanceStarted, inst, nil, now),
				event.NewEvent(event.TypeInstanceApproved, inst, nil, now))
			return nil
		}
		if pending.StepOrder != 1 {
			if err := e.instanceRepo.Advance(txCtx, inst.ID, 1, pending.StepOrder); err != nil {
				return fmt.Errorf("failed to advance instance: %w", err)
			}
			inst.CurrentStepOrder = pending.StepOrder
		}
		events = append(events, event.NewEvent(event.TypeInstanceStarted, inst, pending, now))
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to instantiate workflow", "rule_id", rule.ID, "subject_reference", evt.SubjectReference, "error", err)
		return nil, spanError(span, err)
	}

	span.SetAttributes(attribute.String("approval.instance_id", inst.ID))
	e.metrics.InstanceStarted(inst.RuleType)
	if inst.OverallStatus.IsTerminal() {
		e.metrics.InstanceResolved(inst.RuleType, inst.OverallStatus, 0)
	}
	e.logger.Info("Workflow instance started",
		"instance_id", inst.ID,
		"rule_id", rule.ID,
		"rule_type", inst.RuleType,
		"subject_reference", inst.SubjectReference,
		"matched_threshold", match.Value,
		"total_steps", inst.TotalSteps,
	)
	e.publish(ctx, events)
	return inst, nil
}

func (e *engineImpl) Approve(ctx context.Context, stepID, approverID, comment string) (*entity.WorkflowInstance, error) {
	return e.decide(ctx, domainwf.TriggerApprove, stepID, approverID, comment)
}

func (e *engineImpl) Reject(ctx context.Context, stepID, approverID, comment string) (*entity.WorkflowInstance, error) {
	return e.decide(ctx, domainwf.TriggerReject, stepID, approverID, comment)
}

func (e *engineImpl) decide(ctx context.Context, trigger domainwf.Trigger, stepID, approverID, comment string) (*entity.WorkflowInstance, error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+trigger.String(), trace.WithAttributes(
		attribute.String("approval.step_id", stepID),
		attribute.String("approval.approver_id", approverID),
	))
	defer span.End()

	if strings.TrimSpace(approverID) == "" {
		return nil, spanError(span, fmt.Errorf("%w: approver_id is required", entity.ErrInvalidInput))
	}

	var (
		inst    *entity.WorkflowInstance
		decided *entity.StepRecord
		events  []*event.Event
	)
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		step, loaded, err := e.loadCurrent(txCtx, stepID)
		if err != nil {
			return err
		}
		inst = loaded

		machine, err := BuildApprovalStateMachine(inst)
		if err != nil {
			return err
		}
		next, err := machine.Fire(txCtx, trigger)
		if err != nil {
			return transitionError(inst, step, refusal(inst, err))
		}

		if err := e.authorize(txCtx, step, approverID); err != nil {
			return err
		}

		status := entity.StepStatusApproved
		if trigger == domainwf.TriggerReject {
			status = entity.StepStatusRejected
		}
		now := e.clock.Now()
		if err := e.stepRepo.Decide(txCtx, step.ID, status, approverID, comment, now); err != nil {
			if errors.Is(err, entity.ErrConflict) {
				return transitionError(inst, step, "step was decided concurrently")
			}
			return fmt.Errorf("failed to update step: %w", err)
		}
		step.Status, step.AssignedApproverID, step.Comment, step.DecidedAt = status, approverID, comment, &now
		decided = step

		switch next {
		case domainwf.StatePending:
			pending, err := e.openStep(txCtx, inst, step.StepOrder+1, now)
			if err != nil {
				return err
			}
			if pending == nil {
				if err := e.completeSkippedTail(txCtx, inst, step.StepOrder, now); err != nil {
					return err
				}
				events = append(events, event.NewEvent(event.TypeInstanceApproved, inst, step, now))
				return nil
			}
			if err := e.instanceRepo.Advance(txCtx, inst.ID, step.StepOrder, pending.StepOrder); err != nil {
				return e.casError(inst, step, err)
			}
			inst.CurrentStepOrder = pending.StepOrder
			events = append(events, event.NewEvent(event.TypeStepAdvanced, inst, pending, now).
				WithPayload("previous_step_id", step.ID))
		default:
			resolved := entity.InstanceStatus(next)
			if err := e.instanceRepo.Resolve(txCtx, inst.ID, step.StepOrder, resolved, "", now); err != nil {
				return e.casError(inst, step, err)
			}
			inst.OverallStatus, inst.ResolvedAt = resolved, &now
			evtType := event.TypeInstanceApproved
			if resolved == entity.InstanceStatusRejected {
				evtType = event.TypeInstanceRejected
			}
			events = append(events, event.NewEvent(evtType, inst, step, now))
		}
		return nil
	})
	if err != nil {
		e.recordFailure(trigger.String(), err)
		e.logger.Error("Step decision failed", "action", trigger, "step_id", stepID, "approver_id", approverID, "error", err)
		return nil, spanError(span, err)
	}

	e.metrics.StepDecided(decided.RuleType, decided.Status, decided.DecidedAt.Sub(decided.CreatedAt))
	if inst.OverallStatus.IsTerminal() {
		e.metrics.InstanceResolved(inst.RuleType, inst.OverallStatus, inst.ResolvedAt.Sub(inst.CreatedAt))
	}
	e.logger.Info("Step decided",
		"instance_id", inst.ID,
		"step_id", decided.ID,
		"step_order", decided.StepOrder,
		"decision", decided.Status,
		"approver_id", approverID,
		"instance_status", inst.OverallStatus,
		"current_step_order", inst.CurrentStepOrder,
	)
	e.publish(ctx, events)
	return inst, nil
}

func (e *engineImpl) Cancel(ctx context.Context, instanceID, reason string) (*entity.WorkflowInstance, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.cancel", trace.WithAttributes(
		attribute.String("approval.instance_id", instanceID),
	))
	defer span.End()

	var (
		inst   *entity.WorkflowInstance
		events []*event.Event
	)
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		loaded, err := e.instanceRepo.GetByID(txCtx, instanceID)
		if err != nil {
			return err
		}
		inst = loaded

		machine, err := BuildApprovalStateMachine(inst)
		if err != nil {
			return err
		}
		if _, err := machine.Fire(txCtx, domainwf.TriggerCancel); err != nil {
			return transitionError(inst, nil, refusal(inst, err))
		}

		now := e.clock.Now()
		if err := e.instanceRepo.Resolve(txCtx, inst.ID, inst.CurrentStepOrder, entity.InstanceStatusCancelled, reason, now); err != nil {
			return e.casError(inst, nil, err)
		}
		inst.OverallStatus, inst.CancelReason, inst.ResolvedAt = entity.InstanceStatusCancelled, reason, &now
		events = append(events, event.NewEvent(event.TypeInstanceCancelled, inst, nil, now).WithPayload("reason", reason))
		return nil
	})
	if err != nil {
		e.recordFailure(domainwf.TriggerCancel.String(), err)
		e.logger.Error("Cancel failed", "instance_id", instanceID, "error", err)
		return nil, spanError(span, err)
	}

	e.metrics.InstanceResolved(inst.RuleType, inst.OverallStatus, inst.ResolvedAt.Sub(inst.CreatedAt))
	e.logger.Info("Workflow instance cancelled", "instance_id", inst.ID, "reason", reason)
	e.publish(ctx, events)
	return inst, nil
}

func (e *engineImpl) Claim(ctx context.Context, stepID, approverID string) (*entity.StepRecord, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.claim", trace.WithAttributes(
		attribute.String("approval.step_id", stepID),
		attribute.String("approval.approver_id", approverID),
	))
	defer span.End()

	if strings.TrimSpace(approverID) == "" {
		return nil, spanError(span, fmt.Errorf("%w: approver_id is required", entity.ErrInvalidInput))
	}

	var (
		claimed *entity.StepRecord
		events  []*event.Event
	)
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		step, inst, err := e.loadCurrent(txCtx, stepID)
		if err != nil {
			return err
		}
		if inst.OverallStatus != entity.InstanceStatusPending {
			return transitionError(inst, step, "instance is not pending")
		}
		if step.IsClaimed() {
			if step.AssignedApproverID == approverID {
				claimed = step
				return nil
			}
			return transitionError(inst, step, "step is already claimed by another approver")
		}
		if err := e.authorize(txCtx, step, approverID); err != nil {
			return err
		}
		if err := e.stepRepo.Claim(txCtx, step.ID, approverID); err != nil {
			if errors.Is(err, entity.ErrConflict) {
				return transitionError(inst, step, "step was claimed concurrently")
			}
			return fmt.Errorf("failed to claim step: %w", err)
		}
		step.AssignedApproverID = approverID
		claimed = step
		events = append(events, event.NewEvent(event.TypeStepClaimed, inst, step, e.clock.Now()))
		return nil
	})
	if err != nil {
		e.recordFailure("claim", err)
		e.logger.Error("Claim failed", "step_id", stepID, "approver_id", approverID, "error", err)
		return nil, spanError(span, err)
	}

	e.publish(ctx, events)
	return claimed, nil
}

// loadCurrent loads a step and its instance and checks that the step is the pending current step
func (e *engineImpl) loadCurrent(ctx context.Context, stepID string) (*entity.StepRecord, *entity.WorkflowInstance, error) {
	step, err := e.stepRepo.GetByID(ctx, stepID)
	if err != nil {
		return nil, nil, err
	}
	inst, err := e.instanceRepo.GetByID(ctx, step.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	if inst.OverallStatus == entity.InstanceStatusPending {
		if step.StepOrder != inst.CurrentStepOrder {
			return nil, nil, transitionError(inst, step, "step is not the current step")
		}
		if step.Status != entity.StepStatusPending {
			return nil, nil, transitionError(inst, step, "step is not pending")
		}
	}
	return step, inst, nil
}

// authorize checks that approverID may act on step
func (e *engineImpl) authorize(ctx context.Context, step *entity.StepRecord, approverID string) error {
	if step.IsClaimed() && step.AssignedApproverID != approverID {
		return fmt.Errorf("%w: step %s is claimed by %s", domainwf.ErrApproverNotAllowed, step.ID, step.AssignedApproverID)
	}
	if e.resolver == nil {
		return nil
	}

	approvers, err := e.resolver.ResolveApprovers(ctx, step.ApproverRole)
	if err != nil {
		return fmt.Errorf("failed to resolve approvers for role %s: %w", step.ApproverRole, err)
	}
	for _, id := range approvers {
		if id == approverID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s does not hold role %s", domainwf.ErrApproverNotAllowed, approverID, step.ApproverRole)
}

// openStep materializes steps from order onwards until one stays pending.
// Optional steps the skipper passes over are stored as approved by the system.
// It returns nil when every remaining step was skipped.
func (e *engineImpl) openStep(ctx context.Context, inst *entity.WorkflowInstance, order int, now time.Time) (*entity.StepRecord, error) {
	for ; order <= inst.TotalSteps; order++ {
		spec, ok := inst.StepTemplate.Step(order)
		if !ok {
			return nil, &entity.ConfigurationError{RuleID: inst.RuleID, Field: "step_template", Reason: fmt.Sprintf("step %d missing from snapshot", order)}
		}

		step := entity.NewStepRecord(e.newID(), inst, spec, now)
		skip := !spec.IsRequired() && e.skipper != nil && e.skipper(ctx, inst, spec)
		if skip {
			decidedAt := now
			step.Status = entity.StepStatusApproved
			step.AssignedApproverID = entity.SystemApproverID
			step.Comment = entity.SkippedComment
			step.DecidedAt = &decidedAt
		}

		if err := e.stepRepo.Create(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to create step %d: %w", order, err)
		}
		if !skip {
			return step, nil
		}
		e.logger.Info("Optional step skipped", "instance_id", inst.ID, "step_order", order)
	}
	return nil, nil
}

// completeSkippedTail approves inst after every step from fromOrder on was skipped
func (e *engineImpl) completeSkippedTail(ctx context.Context, inst *entity.WorkflowInstance, fromOrder int, now time.Time) error {
	if inst.TotalSteps != fromOrder {
		if err := e.instanceRepo.Advance(ctx, inst.ID, fromOrder, inst.TotalSteps); err != nil {
			return e.casError(inst, nil, err)
		}
	}
	if err := e.instanceRepo.Resolve(ctx, inst.ID, inst.TotalSteps, entity.InstanceStatusApproved, "", now); err != nil {
		return e.casError(inst, nil, err)
	}
	inst.CurrentStepOrder = inst.TotalSteps
	inst.OverallStatus, inst.ResolvedAt = entity.InstanceStatusApproved, &now
	return nil
}

func (e *engineImpl) casError(inst *entity.WorkflowInstance, step *entity.StepRecord, err error) error {
	if errors.Is(err, entity.ErrConflict) {
		return transitionError(inst, step, "instance changed concurrently")
	}
	return fmt.Errorf("failed to update instance: %w", err)
}

func (e *engineImpl) recordFailure(action string, err error) {
	if errors.Is(err, domainwf.ErrInvalidTransition) || errors.Is(err, domainwf.ErrApproverNotAllowed) {
		e.metrics.TransitionRejected(action)
	}
}

// publish hands committed events to the dispatcher. Handler failures are logged, never returned:
// the transition they describe is already durable.
func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
			e.logger.Error("Event handlers failed", "event_type", evt.Type, "instance_id", evt.InstanceID, "error", err)
		}
	}
}

func transitionError(inst *entity.WorkflowInstance, step *entity.StepRecord, reason string) error {
	te := &domainwf.TransitionError{
		InstanceID:       inst.ID,
		InstanceStatus:   string(inst.OverallStatus),
		CurrentStepOrder: inst.CurrentStepOrder,
		Reason:           reason,
	}
	if step != nil {
		te.StepID, te.StepOrder, te.StepStatus = step.ID, step.StepOrder, string(step.Status)
	}
	return te
}

// refusal explains why the machine refused a trigger
func refusal(inst *entity.WorkflowInstance, err error) string {
	if inst.OverallStatus.IsTerminal() {
		return fmt.Sprintf("instance is already %s", inst.OverallStatus)
	}
	return err.Error()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
