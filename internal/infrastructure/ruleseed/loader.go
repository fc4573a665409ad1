// Package ruleseed reads approval rules from YAML seed files
package ruleseed

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// File is the top-level document of a seed file
type File struct {
	Rules []RuleSeed `yaml:"rules"`
}

// RuleSeed is one rule as written in a seed file
type RuleSeed struct {
	ID               string                 `yaml:"id"`
	RuleType         string                 `yaml:"rule_type"`
	Name             string                 `yaml:"name"`
	Description      string                 `yaml:"description"`
	Enabled          *bool                  `yaml:"enabled"`
	Priority         int                    `yaml:"priority"`
	TriggerCondition []entity.ThresholdSpec `yaml:"trigger_condition"`
	StepTemplate     []entity.StepSpec      `yaml:"step_template"`
}

// LoadFile reads and decodes the seed file at path
func LoadFile(path string) ([]*entity.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule seed file: %w", err)
	}
	defer f.Close()

	rules, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Load decodes a seed document. Unknown keys are rejected so typos do not silently drop settings.
// Rules are returned unvalidated; the rule service validates them on import.
func Load(r io.Reader) ([]*entity.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode rule seed: %w", err)
	}

	rules := make([]*entity.Rule, 0, len(doc.Rules))
	seen := make(map[string]bool, len(doc.Rules))
	for i, seed := range doc.Rules {
		if seed.ID != "" {
			if seen[seed.ID] {
				return nil, fmt.Errorf("rule #%d: duplicate id %q", i+1, seed.ID)
			}
			seen[seed.ID] = true
		}
		rules = append(rules, seed.toRule())
	}
	return rules, nil
}

func (s RuleSeed) toRule() *entity.Rule {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return &entity.Rule{
		ID:               s.ID,
		RuleType:         s.RuleType,
		Name:             s.Name,
		Description:      s.Description,
		TriggerCondition: entity.TriggerCondition(s.TriggerCondition),
		StepTemplate:     entity.StepTemplate(s.StepTemplate),
		Enabled:          enabled,
		Priority:         s.Priority,
	}
}
