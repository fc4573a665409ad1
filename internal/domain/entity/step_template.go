package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MaxExpectedHours is the largest step SLA a time.Duration can hold, about 292 years
const MaxExpectedHours = float64(math.MaxInt64 / int64(time.Hour))

// StepSpec describes one step of a rule's approval chain
type StepSpec struct {
	Order         int     `json:"order" yaml:"order"`
	Name          string  `json:"name" yaml:"name"`
	ApproverRole  string  `json:"approver_role" yaml:"approver_role"`
	ExpectedHours float64 `json:"expected_hours" yaml:"expected_hours"`
	Required      *bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// IsRequired defaults to true when the template leaves it unset
func (s StepSpec) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// UnmarshalJSON also accepts the older step/role/hours field names found in stored templates
func (s *StepSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Order         *int     `json:"order"`
		Step          *int     `json:"step"`
		Name          string   `json:"name"`
		ApproverRole  string   `json:"approver_role"`
		Role          string   `json:"role"`
		ExpectedHours *float64 `json:"expected_hours"`
		Hours         *float64 `json:"hours"`
		Required      *bool    `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = StepSpec{Name: raw.Name, ApproverRole: raw.ApproverRole, Required: raw.Required}
	switch {
	case raw.Order != nil:
		s.Order = *raw.Order
	case raw.Step != nil:
		s.Order = *raw.Step
	}
	if s.ApproverRole == "" {
		s.ApproverRole = raw.Role
	}
	switch {
	case raw.ExpectedHours != nil:
		s.ExpectedHours = *raw.ExpectedHours
	case raw.Hours != nil:
		s.ExpectedHours = *raw.Hours
	}
	return nil
}

// StepTemplate is the ordered approval chain of a rule
type StepTemplate []StepSpec

// Validate requires a non-empty template whose orders run 1..n without gaps or duplicates
func (t StepTemplate) Validate() error {
	if len(t) == 0 {
		return &ConfigurationError{Field: "step_template", Reason: "must contain at least one step"}
	}

	seen := make(map[int]bool, len(t))
	for _, s := range t {
		if s.Order < 1 || s.Order > len(t) {
			return &ConfigurationError{Field: "step_template", Reason: fmt.Sprintf("step order %d out of range 1..%d", s.Order, len(t))}
		}
		if seen[s.Order] {
			return &ConfigurationError{Field: "step_template", Reason: fmt.Sprintf("duplicate step order %d", s.Order)}
		}
		seen[s.Order] = true

		if strings.TrimSpace(s.ApproverRole) == "" {
			return &ConfigurationError{Field: "step_template", Reason: fmt.Sprintf("step %d has no approver_role", s.Order)}
		}
		if s.ExpectedHours < 0 || math.IsNaN(s.ExpectedHours) || math.IsInf(s.ExpectedHours, 0) {
			return &ConfigurationError{Field: "step_template", Reason: fmt.Sprintf("step %d expected_hours must be a non-negative number", s.Order)}
		}
		if s.ExpectedHours > MaxExpectedHours {
			return &ConfigurationError{Field: "step_template", Reason: fmt.Sprintf("step %d expected_hours exceeds %.0f", s.Order, MaxExpectedHours)}
		}
	}
	return nil
}

// Sorted returns a copy ordered by step order
func (t StepTemplate) Sorted() StepTemplate {
	out := append(StepTemplate(nil), t...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Step returns the spec with the given order
func (t StepTemplate) Step(order int) (StepSpec, bool) {
	for _, s := range t {
		if s.Order == order {
			return s, true
		}
	}
	return StepSpec{}, false
}
