package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/approval-workflow/internal/domain/workflow"
)

func (f *fixture) audit(policy StatsPolicy) AuditService {
	return NewAuditService(f.store.Instances(), f.store.Steps(), f.engine, f.resolver, policy, f.logger)
}

func TestAuditService_UpdateOutcomeDrivesTheEngine(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	svc := f.audit(StatsPolicyAssigned)
	ctx := context.Background()

	inst := f.start(t, "contract:1")
	step1 := f.pendingStep(t, inst.ID)

	got, err := svc.UpdateOutcome(ctx, step1.ID, entity.DecisionApproved, "alice", "fine")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStepOrder)

	step2 := f.pendingStep(t, inst.ID)
	got, err = svc.UpdateOutcome(ctx, step2.ID, entity.DecisionRejected, "carol", "margin too thin")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusRejected, got.OverallStatus)

	_, err = svc.UpdateOutcome(ctx, step2.ID, entity.DecisionApproved, "carol", "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	detail, err := svc.GetInstanceDetail(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusRejected, detail.Instance.OverallStatus)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "margin too thin", detail.Steps[1].Comment)
}

func TestAuditService_UpdateOutcomeValidatesInput(t *testing.T) {
	f := newFixture(t)
	svc := f.audit(StatsPolicyAssigned)
	ctx := context.Background()

	tests := []struct {
		name       string
		stepID     string
		decision   entity.Decision
		approverID string
	}{
		{"unknown decision", "step-1", "maybe", "alice"},
		{"pending is not a decision", "step-1", entity.Decision(entity.StepStatusPending), "alice"},
		{"missing approver", "step-1", entity.DecisionApproved, ""},
		{"missing step", "", entity.DecisionApproved, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateOutcome(ctx, tt.stepID, tt.decision, tt.approverID, "")
			assert.ErrorIs(t, err, entity.ErrInvalidInput)
		})
	}
}

func TestAuditService_ListAndGetSteps(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	svc := f.audit(StatsPolicyAssigned)
	ctx := context.Background()

	for _, subject := range []string{"contract:1", "contract:2", "contract:3"} {
		f.start(t, subject)
		f.clock.Advance(time.Minute)
	}

	page, err := svc.ListSteps(ctx, entity.StepFilter{Status: entity.StepStatusPending},
		entity.StepSort{Field: entity.SortByCreatedAt, Desc: true}, entity.PageRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	got, err := svc.GetStep(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, page.Items[0].ID, got.ID)

	_, err = svc.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = svc.ListSteps(ctx, entity.StepFilter{}, entity.StepSort{Field: "approver"}, entity.PageRequest{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
	_, err = svc.ListSteps(ctx, entity.StepFilter{Status: "open"}, entity.StepSort{}, entity.PageRequest{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
	_, err = svc.ListSteps(ctx, entity.StepFilter{}, entity.StepSort{}, entity.PageRequest{Offset: -1})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestAuditService_StatisticsFor(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	ctx := context.Background()

	// day 1: alice approves one, rejects another
	a := f.start(t, "contract:a")
	b := f.start(t, "contract:b")
	_, err := f.engine.Approve(ctx, f.pendingStep(t, a.ID).ID, "alice", "")
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, f.pendingStep(t, b.ID).ID, "alice", "")
	require.NoError(t, err)

	// day 2: one unclaimed step for the sales managers, one claimed by bob
	f.clock.Advance(24 * time.Hour)
	f.start(t, "contract:c")
	d := f.start(t, "contract:d")
	_, err = f.engine.Claim(ctx, f.pendingStep(t, d.ID).ID, "bob")
	require.NoError(t, err)

	rng := entity.DateRange{From: t0.Truncate(24 * time.Hour), To: t0.AddDate(0, 0, 7)}

	assigned, err := f.audit(StatsPolicyAssigned).StatisticsFor(ctx, "alice", rng)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCounts{Approved: 1, Rejected: 1}, assigned.StatusCounts)
	assert.Equal(t, entity.StatusCounts{Approved: 1, Rejected: 1}, assigned.ByRuleType["contract_price_drop"])
	assert.Equal(t, entity.StatusCounts{Approved: 1, Rejected: 1}, assigned.ByDay["2024-03-01"])
	assert.NotContains(t, assigned.ByDay, "2024-03-02")

	broadcast, err := f.audit(StatsPolicyBroadcast).StatisticsFor(ctx, "alice", rng)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCounts{Pending: 1, Approved: 1, Rejected: 1}, broadcast.StatusCounts)
	assert.Equal(t, entity.StatusCounts{Pending: 1}, broadcast.ByDay["2024-03-02"])

	// carol's step 2 on contract:a is pending and unclaimed under the finance role
	carol, err := f.audit(StatsPolicyBroadcast).StatisticsFor(ctx, "carol", rng)
	require.NoError(t, err)
	assert.Equal(t, 1, carol.Pending)

	bob, err := f.audit(StatsPolicyAssigned).StatisticsFor(ctx, "bob", rng)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCounts{Pending: 1}, bob.StatusCounts)

	outside, err := f.audit(StatsPolicyAssigned).StatisticsFor(ctx, "alice", entity.DateRange{From: t0.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Zero(t, outside.Approved+outside.Rejected+outside.Pending)
}

func TestAuditService_StatisticsForIgnoresCancelledInstances(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	ctx := context.Background()

	claimed := f.start(t, "contract:claimed")
	_, err := f.engine.Claim(ctx, f.pendingStep(t, claimed.ID).ID, "bob")
	require.NoError(t, err)
	unclaimed := f.start(t, "contract:unclaimed")

	// bob is a sales manager, so broadcast also counts the unclaimed step
	for policy, want := range map[StatsPolicy]int{StatsPolicyAssigned: 1, StatsPolicyBroadcast: 2} {
		stats, err := f.audit(policy).StatisticsFor(ctx, "bob", entity.DateRange{})
		require.NoError(t, err)
		assert.Equal(t, want, stats.Pending, string(policy))
	}

	_, err = f.engine.Cancel(ctx, claimed.ID, "deal lost")
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, unclaimed.ID, "deal lost")
	require.NoError(t, err)

	for _, policy := range []StatsPolicy{StatsPolicyAssigned, StatsPolicyBroadcast} {
		stats, err := f.audit(policy).StatisticsFor(ctx, "bob", entity.DateRange{})
		require.NoError(t, err)
		assert.Equal(t, entity.StatusCounts{}, stats.StatusCounts, string(policy))
		assert.Empty(t, stats.ByDay, string(policy))
	}

	alice, err := f.audit(StatsPolicyBroadcast).StatisticsFor(ctx, "alice", entity.DateRange{})
	require.NoError(t, err)
	assert.Zero(t, alice.Pending)
}

func TestAuditService_StatisticsForValidatesAndPropagates(t *testing.T) {
	f := newFixture(t)
	f.seedRule(t)
	ctx := context.Background()
	f.start(t, "contract:a")

	_, err := f.audit(StatsPolicyAssigned).StatisticsFor(ctx, "", entity.DateRange{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = f.audit(StatsPolicyAssigned).StatisticsFor(ctx, "alice", entity.DateRange{From: t0, To: t0})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	directoryDown := errors.New("directory down")
	f.resolver.err = directoryDown
	_, err = f.audit(StatsPolicyBroadcast).StatisticsFor(ctx, "alice", entity.DateRange{})
	assert.ErrorIs(t, err, directoryDown)
}

func TestParseStatsPolicy(t *testing.T) {
	p, err := ParseStatsPolicy("")
	require.NoError(t, err)
	assert.Equal(t, StatsPolicyAssigned, p)

	p, err = ParseStatsPolicy(" Broadcast ")
	require.NoError(t, err)
	assert.Equal(t, StatsPolicyBroadcast, p)

	_, err = ParseStatsPolicy("everyone")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}
