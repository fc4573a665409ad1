package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

func TestOverdueService_Overdue(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	ctx := context.Background()

	unclaimed := f.start(t, "contract:1")
	claimed := f.start(t, "contract:2")
	_, err := f.engine.Claim(ctx, f.pendingStep(t, claimed.ID).ID, "bob")
	require.NoError(t, err)
	cancelled := f.start(t, "contract:3")
	_, err = f.engine.Cancel(ctx, cancelled.ID, "customer withdrew")
	require.NoError(t, err)

	svc := NewOverdueService(f.store.Steps(), f.resolver, f.logger)

	notYet, err := svc.Overdue(ctx, t0.Add(23*time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, notYet)

	all, err := svc.Overdue(ctx, t0.Add(25*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		assert.NotEqual(t, cancelled.ID, s.InstanceID, "steps of cancelled instances are never overdue")
	}

	tests := []struct {
		approver string
		want     []string
	}{
		{"alice", []string{unclaimed.ID}},
		{"bob", []string{unclaimed.ID, claimed.ID}},
		{"carol", nil},
	}
	for _, tt := range tests {
		t.Run(tt.approver, func(t *testing.T) {
			steps, err := svc.Overdue(ctx, t0.Add(25*time.Hour), tt.approver)
			require.NoError(t, err)
			var got []string
			for _, s := range steps {
				got = append(got, s.InstanceID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	_, err = svc.Overdue(ctx, time.Time{}, "")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestOverdueService_FractionalHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := priceDropRule("rule-fast")
	rule.StepTemplate[0].ExpectedHours = 0.5
	_, err := NewRuleService(f.store.Rules(), f.store, f.clock, f.logger).CreateRule(ctx, rule)
	require.NoError(t, err)
	f.start(t, "contract:9")

	svc := NewOverdueService(f.store.Steps(), nil, f.logger)

	steps, err := svc.Overdue(ctx, t0.Add(29*time.Minute), "")
	require.NoError(t, err)
	assert.Empty(t, steps)

	steps, err = svc.Overdue(ctx, t0.Add(31*time.Minute), "")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}
