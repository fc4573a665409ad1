// Package condition decides which approval rule, if any, gates a business event.
package condition

import (
	"sort"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// Evaluate matches evt against the candidate rules.
//
// Candidates of another rule type, disabled or deleted are ignored. The rest are tried in
// ascending priority, newest first on equal priority, then by id, and the first rule whose
// condition fires wins with its highest satisfied threshold. Rules with a malformed condition
// or step template never fire; they are returned in malformed so the caller can report them.
func Evaluate(evt entity.BusinessEvent, candidates []*entity.Rule) (match entity.Match, ok bool, malformed []error) {
	rules := Order(Applicable(evt.RuleType, candidates))

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			malformed = append(malformed, err)
			continue
		}
		spec, value, fired, err := r.TriggerCondition.Highest(evt.Deviation)
		if err != nil {
			malformed = append(malformed, err)
			continue
		}
		if fired {
			return entity.Match{Rule: r, Threshold: spec, Value: value}, true, malformed
		}
	}
	return entity.Match{}, false, malformed
}

// Applicable keeps the active rules of the given type
func Applicable(ruleType string, candidates []*entity.Rule) []*entity.Rule {
	out := make([]*entity.Rule, 0, len(candidates))
	for _, r := range candidates {
		if r != nil && r.RuleType == ruleType && r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

// Order sorts rules in evaluation order in place and returns them
func Order(rules []*entity.Rule) []*entity.Rule {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return rules
}
