package entity

// BusinessEvent is a proposed mutation submitted for gating
type BusinessEvent struct {
	RuleType         string                 `json:"rule_type"`
	Deviation        float64                `json:"deviation"`
	SubjectReference string                 `json:"subject_reference"`
	RequestedBy      string                 `json:"requested_by,omitempty"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
}

// Match is the outcome of a successful condition evaluation
type Match struct {
	Rule      *Rule         `json:"rule"`
	Threshold ThresholdSpec `json:"threshold"`
	Value     float64       `json:"value"`
}

// PercentageDrop returns how far proposed is below original, in percent.
// A price that did not drop, or a non-positive original, yields 0.
func PercentageDrop(original, proposed float64) float64 {
	if original <= 0 || proposed >= original {
		return 0
	}
	return (original - proposed) / original * 100
}
