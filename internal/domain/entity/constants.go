package entity

// InstanceStatus is the overall status of a workflow instance
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusApproved  InstanceStatus = "approved"
	InstanceStatusRejected  InstanceStatus = "rejected"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the instance can no longer change
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusApproved || s == InstanceStatusRejected || s == InstanceStatusCancelled
}

// StepStatus is the status of a single step record
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
)

// IsValid reports whether s is one of the known step statuses
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusApproved, StepStatusRejected:
		return true
	}
	return false
}

// Decision is an approver's verdict on a step
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// SystemApproverID is recorded as the approver of steps the engine skips on its own
const SystemApproverID = "system"

// SkippedComment is recorded as the comment of skipped steps
const SkippedComment = "skipped"
