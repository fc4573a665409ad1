package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guard on a permitted trigger rejects it
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrApproverNotAllowed is returned when the acting approver may not act on the step
	ErrApproverNotAllowed = errors.New("approver not allowed")
)

// TransitionError describes a rejected action together with the state it was checked against.
// It matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	InstanceID       string
	InstanceStatus   string
	CurrentStepOrder int
	StepID           string
	StepOrder        int
	StepStatus       string
	Reason           string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s (instance=%s status=%s current_step=%d",
		ErrInvalidTransition, e.Reason, e.InstanceID, e.InstanceStatus, e.CurrentStepOrder)
	if e.StepID != "" {
		msg += fmt.Sprintf(" step=%s order=%d step_status=%s", e.StepID, e.StepOrder, e.StepStatus)
	}
	return msg + ")"
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Details returns the error context in a form suitable for API responses.
func (e *TransitionError) Details() map[string]interface{} {
	d := map[string]interface{}{
		"instance_id":        e.InstanceID,
		"instance_status":    e.InstanceStatus,
		"current_step_order": e.CurrentStepOrder,
		"reason":             e.Reason,
	}
	if e.StepID != "" {
		d["step_id"] = e.StepID
		d["step_order"] = e.StepOrder
		d["step_status"] = e.StepStatus
	}
	return d
}
