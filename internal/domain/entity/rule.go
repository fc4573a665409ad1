package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Rule configures when a business event must be gated and which approvers sign off
type Rule struct {
	ID               string           `json:"id"`
	RuleType         string           `json:"rule_type"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	TriggerCondition TriggerCondition `json:"trigger_condition"`
	StepTemplate     StepTemplate     `json:"step_template"`
	Enabled          bool             `json:"enabled"`
	Priority         int              `json:"priority"`
	Version          int              `json:"version"`
	Deleted          bool             `json:"deleted,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Validate checks the trigger condition and step template
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.RuleType) == "" {
		return &ConfigurationError{RuleID: r.ID, Field: "rule_type", Reason: "must not be empty"}
	}
	if err := r.TriggerCondition.Validate(); err != nil {
		return withRuleID(err, r.ID)
	}
	if err := r.StepTemplate.Validate(); err != nil {
		return withRuleID(err, r.ID)
	}
	return nil
}

// IsActive reports whether the rule takes part in evaluation
func (r *Rule) IsActive() bool {
	return r.Enabled && !r.Deleted
}

func withRuleID(err error, ruleID string) error {
	if ce, ok := err.(*ConfigurationError); ok && ce.RuleID == "" {
		ce.RuleID = ruleID
	}
	return err
}

// ThresholdSpec is one entry of a trigger condition.
// Threshold holds whatever the rule source supplied: a number, or a numeric string in older rows.
type ThresholdSpec struct {
	Threshold   interface{} `json:"threshold" yaml:"threshold"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Value parses the threshold as a finite number
func (t ThresholdSpec) Value() (float64, error) {
	var v float64
	switch x := t.Threshold.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, &ConfigurationError{Field: "trigger_condition", Reason: fmt.Sprintf("threshold %q is not numeric", x.String())}
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, &ConfigurationError{Field: "trigger_condition", Reason: fmt.Sprintf("threshold %q is not numeric", x)}
		}
		v = f
	case nil:
		return 0, &ConfigurationError{Field: "trigger_condition", Reason: "threshold is missing"}
	default:
		return 0, &ConfigurationError{Field: "trigger_condition", Reason: fmt.Sprintf("threshold has unsupported type %T", x)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ConfigurationError{Field: "trigger_condition", Reason: "threshold is not finite"}
	}
	return v, nil
}

// TriggerCondition lists the thresholds at which a rule fires
type TriggerCondition []ThresholdSpec

// Validate requires at least one threshold and every threshold to be numeric
func (c TriggerCondition) Validate() error {
	if len(c) == 0 {
		return &ConfigurationError{Field: "trigger_condition", Reason: "must contain at least one threshold"}
	}
	for _, spec := range c {
		if _, err := spec.Value(); err != nil {
			return err
		}
	}
	return nil
}

// Highest returns the largest threshold not exceeding deviation.
// ok is false when deviation is below every threshold.
func (c TriggerCondition) Highest(deviation float64) (best ThresholdSpec, value float64, ok bool, err error) {
	for _, spec := range c {
		v, verr := spec.Value()
		if verr != nil {
			return ThresholdSpec{}, 0, false, verr
		}
		if deviation >= v && (!ok || v > value) {
			best, value, ok = spec, v, true
		}
	}
	return best, value, ok, nil
}
