package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/approval-workflow/internal/application/dispatcher"
	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/internal/domain/event"
)

const deadlineLayout = "2006-01-02 15:04 MST"

// NotificationService tells approvers about steps waiting for them and requesters about outcomes
type NotificationService interface {
	HandleEvent(ctx context.Context, evt *event.Event) error
	// Register subscribes the service to the events it reacts to
	Register(d dispatcher.Dispatcher)
}

type notificationServiceImpl struct {
	instanceRepo  port.InstanceRepository
	resolver      port.RoleResolver
	messageSender port.MessageSender
	logger        Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	instanceRepo port.InstanceRepository,
	resolver port.RoleResolver,
	messageSender port.MessageSender,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		instanceRepo:  instanceRepo,
		resolver:      resolver,
		messageSender: messageSender,
		logger:        logger,
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeInstanceStarted,
		event.TypeStepAdvanced,
		event.TypeInstanceApproved,
		event.TypeInstanceRejected,
		event.TypeInstanceCancelled,
	} {
		d.Subscribe(t, "notification", s.HandleEvent)
	}
}

func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	switch {
	case evt.Type == event.TypeInstanceStarted || evt.Type == event.TypeStepAdvanced:
		return s.notifyApprovers(ctx, evt)
	case evt.Type.IsResolution():
		return s.notifyRequester(ctx, evt)
	}
	return nil
}

// notifyApprovers messages everyone who may act on the step the event opened
func (s *notificationServiceImpl) notifyApprovers(ctx context.Context, evt *event.Event) error {
	step := evt.Step
	if step == nil || step.Status != entity.StepStatusPending {
		return nil
	}
	if s.resolver == nil {
		s.logger.Info("No role resolver configured, skipping approver notification", "instance_id", evt.InstanceID)
		return nil
	}

	approvers, err := s.resolver.ResolveApprovers(ctx, step.ApproverRole)
	if err != nil {
		s.logger.Error("Failed to resolve approvers", "error", err, "role", step.ApproverRole)
		return fmt.Errorf("resolve approvers: %w", err)
	}
	if len(approvers) == 0 {
		s.logger.Info("Role has no approvers", "role", step.ApproverRole, "instance_id", evt.InstanceID)
		return nil
	}

	message := buildApproverMessage(evt, step)
	var errs []error
	for _, userID := range approvers {
		if err := s.messageSender.SendMessage(ctx, userID, message); err != nil {
			s.logger.Error("Failed to send message", "error", err, "user_id", userID, "step_id", step.ID)
			errs = append(errs, fmt.Errorf("send to %s: %w", userID, err))
		}
	}

	s.logger.Info("Approvers notified",
		"instance_id", evt.InstanceID,
		"step_order", step.StepOrder,
		"recipients", len(approvers)-len(errs),
	)
	return errors.Join(errs...)
}

// notifyRequester messages the requester of a resolved instance
func (s *notificationServiceImpl) notifyRequester(ctx context.Context, evt *event.Event) error {
	inst, err := s.instanceRepo.GetByID(ctx, evt.InstanceID)
	if err != nil {
		s.logger.Error("Failed to get instance", "error", err, "instance_id", evt.InstanceID)
		return fmt.Errorf("get instance: %w", err)
	}
	if inst.RequestedBy == "" {
		return nil
	}

	if err := s.messageSender.SendMessage(ctx, inst.RequestedBy, buildOutcomeMessage(inst)); err != nil {
		s.logger.Error("Failed to send message", "error", err, "user_id", inst.RequestedBy, "instance_id", inst.ID)
		return fmt.Errorf("send message: %w", err)
	}

	s.logger.Info("Requester notified", "instance_id", inst.ID, "status", inst.OverallStatus)
	return nil
}

func buildApproverMessage(evt *event.Event, step *entity.StepRecord) string {
	var sb strings.Builder
	sb.WriteString("Approval required\n\n")
	sb.WriteString(fmt.Sprintf("Type: %s\n", evt.RuleType))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", evt.SubjectReference))
	name := step.StepName
	if name == "" {
		name = step.ApproverRole
	}
	sb.WriteString(fmt.Sprintf("Step %d: %s\n", step.StepOrder, name))
	sb.WriteString(fmt.Sprintf("Due: %s\n", step.SLADeadline.UTC().Format(deadlineLayout)))
	sb.WriteString(fmt.Sprintf("Step ID: %s", step.ID))
	return sb.String()
}

func buildOutcomeMessage(inst *entity.WorkflowInstance) string {
	var sb strings.Builder
	switch inst.OverallStatus {
	case entity.InstanceStatusApproved:
		sb.WriteString("Request approved ✓\n\n")
	case entity.InstanceStatusRejected:
		sb.WriteString("Request rejected ✗\n\n")
	default:
		sb.WriteString("Request cancelled\n\n")
	}
	sb.WriteString(fmt.Sprintf("Type: %s\n", inst.RuleType))
	sb.WriteString(fmt.Sprintf("Subject: %s", inst.SubjectReference))
	if inst.CancelReason != "" {
		sb.WriteString(fmt.Sprintf("\nReason: %s", inst.CancelReason))
	}
	return sb.String()
}
