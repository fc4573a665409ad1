package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/approval-workflow/internal/domain/workflow"
)

// BuildApprovalStateMachine creates a state machine positioned on inst's current status.
// Approving the last step resolves the instance; approving any earlier step keeps it pending.
func BuildApprovalStateMachine(inst *entity.WorkflowInstance) (domainwf.StateMachine, error) {
	state := domainwf.State(inst.OverallStatus)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: instance %s has status %q", domainwf.ErrInvalidState, inst.ID, inst.OverallStatus)
	}

	hasNext := func(context.Context) bool { return !inst.IsLastStep() }
	isLast := func(context.Context) bool { return inst.IsLastStep() }

	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		PermitIf(domainwf.TriggerApprove, domainwf.StatePending, hasNext).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApproved, isLast).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// approved, rejected and cancelled are terminal

	return builder.Build(state), nil
}
