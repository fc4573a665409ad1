package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted   Type = "instance.started"
	TypeStepAdvanced      Type = "step.advanced"
	TypeStepClaimed       Type = "step.claimed"
	TypeInstanceApproved  Type = "instance.approved"
	TypeInstanceRejected  Type = "instance.rejected"
	TypeInstanceCancelled Type = "instance.cancelled"
)

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeStepAdvanced,
		TypeStepClaimed,
		TypeInstanceApproved,
		TypeInstanceRejected,
		TypeInstanceCancelled:
		return true
	default:
		return false
	}
}

// IsResolution reports whether the event ends an instance, telling the caller
// to commit or discard the held mutation.
func (t Type) IsResolution() bool {
	return t == TypeInstanceApproved || t == TypeInstanceRejected || t == TypeInstanceCancelled
}
