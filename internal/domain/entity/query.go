package entity

import "time"

// StepFilter narrows a step listing. Empty fields do not filter.
type StepFilter struct {
	InstanceID string     `json:"instance_id,omitempty"`
	ApproverID string     `json:"approver_id,omitempty"`
	Status     StepStatus `json:"status,omitempty"`
	RuleType   string     `json:"rule_type,omitempty"`
}

// StepSortField names a sortable step column
type StepSortField string

const (
	SortByStepOrder   StepSortField = "step_order"
	SortByCreatedAt   StepSortField = "created_at"
	SortByDecidedAt   StepSortField = "decided_at"
	SortBySLADeadline StepSortField = "sla_deadline"
)

// IsValid reports whether f is a supported sort column
func (f StepSortField) IsValid() bool {
	switch f {
	case SortByStepOrder, SortByCreatedAt, SortByDecidedAt, SortBySLADeadline:
		return true
	}
	return false
}

// StepSort orders a listing; the zero value sorts by step order ascending
type StepSort struct {
	Field StepSortField `json:"field,omitempty"`
	Desc  bool          `json:"desc,omitempty"`
}

// PageRequest bounds a listing; Limit 0 means no limit
type PageRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// StepPage is one page of a step listing plus the unpaged total
type StepPage struct {
	Items []*StepRecord `json:"items"`
	Total int           `json:"total"`
}

// DateRange is the half-open interval [From, To). A zero bound is unbounded.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// ApproverStepQuery selects the steps created inside Range that count toward one approver:
// steps assigned to ApproverID, plus unclaimed pending steps whose role is one of Roles.
// A pending step whose instance is no longer pending is never selected.
type ApproverStepQuery struct {
	ApproverID string
	Roles      []string
	Range      DateRange
}

// StatusCounts tallies steps by status
type StatusCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Add counts one step of the given status
func (c *StatusCounts) Add(status StepStatus) {
	switch status {
	case StepStatusPending:
		c.Pending++
	case StepStatusApproved:
		c.Approved++
	case StepStatusRejected:
		c.Rejected++
	}
}

// ApproverStats aggregates the steps attributed to one approver
type ApproverStats struct {
	StatusCounts
	ApproverID string                  `json:"approver_id"`
	Range      DateRange               `json:"range"`
	ByRuleType map[string]StatusCounts `json:"by_rule_type"`
	ByDay      map[string]StatusCounts `json:"by_day"`
}
