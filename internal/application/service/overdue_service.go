package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// OverdueService derives SLA breaches. It never mutates state.
type OverdueService interface {
	// Overdue lists pending steps of pending instances whose deadline is before asOf, earliest first.
	// A non-empty approverID keeps steps assigned to that approver, plus unclaimed steps whose
	// role resolves to them.
	Overdue(ctx context.Context, asOf time.Time, approverID string) ([]*entity.StepRecord, error)
}

type overdueServiceImpl struct {
	stepRepo port.StepRepository
	resolver port.RoleResolver
	logger   Logger
}

// NewOverdueService creates a new OverdueService
func NewOverdueService(stepRepo port.StepRepository, resolver port.RoleResolver, logger Logger) OverdueService {
	return &overdueServiceImpl{
		stepRepo: stepRepo,
		resolver: resolver,
		logger:   logger,
	}
}

func (s *overdueServiceImpl) Overdue(ctx context.Context, asOf time.Time, approverID string) ([]*entity.StepRecord, error) {
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: as_of is required", entity.ErrInvalidInput)
	}

	steps, err := s.stepRepo.ListOverdue(ctx, asOf)
	if err != nil {
		s.logger.Error("Failed to list overdue steps", "error", err, "as_of", asOf)
		return nil, fmt.Errorf("list overdue steps: %w", err)
	}
	if approverID == "" {
		return steps, nil
	}

	membership := newRoleMembership(s.resolver, approverID)
	out := make([]*entity.StepRecord, 0, len(steps))
	for _, step := range steps {
		if step.IsClaimed() {
			if step.AssignedApproverID == approverID {
				out = append(out, step)
			}
			continue
		}
		ok, err := membership.includes(ctx, step.ApproverRole)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, step)
		}
	}
	return out, nil
}
