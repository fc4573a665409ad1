package workflow

// Trigger is an approver or caller action applied to an instance.
type Trigger string

const (
	TriggerApprove Trigger = "approve"
	TriggerReject  Trigger = "reject"
	TriggerCancel  Trigger = "cancel"
)

func (t Trigger) String() string {
	return string(t)
}
