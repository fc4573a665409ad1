package entity

import "time"

// WorkflowInstance is one running (or finished) approval chain for a gated business mutation.
// StepTemplate is a snapshot of the rule's template taken at instantiation, so later rule edits
// never change an instance that is already running.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	RuleID           string         `json:"rule_id"`
	RuleVersion      int            `json:"rule_version"`
	RuleType         string         `json:"rule_type"`
	SubjectReference string         `json:"subject_reference"`
	RequestedBy      string         `json:"requested_by,omitempty"`
	Deviation        float64        `json:"deviation"`
	MatchedThreshold float64        `json:"matched_threshold"`
	StepTemplate     StepTemplate   `json:"step_template"`
	TotalSteps       int            `json:"total_steps"`
	CurrentStepOrder int            `json:"current_step_order"`
	OverallStatus    InstanceStatus `json:"overall_status"`
	CancelReason     string         `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	Deleted          bool           `json:"deleted,omitempty"`
}

// IsLastStep reports whether the current step is the final one in the chain
func (i *WorkflowInstance) IsLastStep() bool {
	return i.CurrentStepOrder >= i.TotalSteps
}

// InstanceDetail is an instance together with every step record it has produced
type InstanceDetail struct {
	Instance *WorkflowInstance `json:"instance"`
	Steps    []*StepRecord     `json:"steps"`
}
