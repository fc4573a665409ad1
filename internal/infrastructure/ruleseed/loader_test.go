package ruleseed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
rules:
  - id: price-drop
    rule_type: contract_price_drop
    name: Contract price below quote
    priority: 1
    trigger_condition:
      - threshold: 0
        description: any reduction
      - threshold: "10"
        description: reduction of 10% or more
      - threshold: 25.5
    step_template:
      - order: 1
        name: Sales manager
        approver_role: sales_manager
        expected_hours: 24
      - order: 2
        name: Finance
        approver_role: finance
        expected_hours: 0.5
        required: false
  - rule_type: office_request
    enabled: false
    trigger_condition:
      - threshold: 0
    step_template:
      - order: 1
        approver_role: office_admin
        expected_hours: 8
`

func TestLoad(t *testing.T) {
	rules, err := Load(strings.NewReader(seed))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	price := rules[0]
	assert.Equal(t, "price-drop", price.ID)
	assert.True(t, price.Enabled, "enabled defaults to true")
	assert.Equal(t, 1, price.Priority)
	require.NoError(t, price.Validate())

	want := []float64{0, 10, 25.5}
	for i, spec := range price.TriggerCondition {
		v, err := spec.Value()
		require.NoError(t, err)
		assert.Equal(t, want[i], v)
	}
	assert.Equal(t, 0.5, price.StepTemplate[1].ExpectedHours)
	assert.False(t, price.StepTemplate[1].IsRequired())
	assert.True(t, price.StepTemplate[0].IsRequired())

	office := rules[1]
	assert.Empty(t, office.ID)
	assert.False(t, office.Enabled)
	require.NoError(t, office.Validate())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"unknown key", "rules:\n  - rule_typo: x\n", "field rule_typo not found"},
		{"duplicate id", "rules:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"not yaml", "rules: [", "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	rules, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	rules, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
