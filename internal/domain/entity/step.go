package entity

import (
	"math"
	"time"
)

// StepRecord is the persisted trace of one approval step
type StepRecord struct {
	ID                 string     `json:"id"`
	InstanceID         string     `json:"instance_id"`
	StepOrder          int        `json:"step_order"`
	StepName           string     `json:"step_name"`
	ApproverRole       string     `json:"approver_role"`
	RuleType           string     `json:"rule_type"`
	AssignedApproverID string     `json:"assigned_approver_id,omitempty"`
	Status             StepStatus `json:"status"`
	Comment            string     `json:"comment,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	SLADeadline        time.Time  `json:"sla_deadline"`
	Deleted            bool       `json:"deleted,omitempty"`
}

// IsClaimed reports whether an approver has taken the step
func (s *StepRecord) IsClaimed() bool {
	return s.AssignedApproverID != ""
}

// IsOverdue reports whether the step is still pending past its deadline
func (s *StepRecord) IsOverdue(asOf time.Time) bool {
	return s.Status == StepStatusPending && s.SLADeadline.Before(asOf)
}

// SLADeadline returns created plus the given number of hours. Fractional hours are kept,
// and hours beyond MaxExpectedHours saturate instead of wrapping into the past.
func SLADeadline(created time.Time, expectedHours float64) time.Time {
	if expectedHours >= MaxExpectedHours {
		return created.Add(time.Duration(math.MaxInt64))
	}
	return created.Add(time.Duration(expectedHours * float64(time.Hour)))
}

// NewStepRecord builds the pending record for spec, created at now
func NewStepRecord(id string, inst *WorkflowInstance, spec StepSpec, now time.Time) *StepRecord {
	return &StepRecord{
		ID:           id,
		InstanceID:   inst.ID,
		StepOrder:    spec.Order,
		StepName:     spec.Name,
		ApproverRole: spec.ApproverRole,
		RuleType:     inst.RuleType,
		Status:       StepStatusPending,
		CreatedAt:    now,
		SLADeadline:  SLADeadline(now, spec.ExpectedHours),
	}
}
