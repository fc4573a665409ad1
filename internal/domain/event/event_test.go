package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		eventType  Type
		valid      bool
		resolution bool
	}{
		{TypeInstanceStarted, true, false},
		{TypeStepAdvanced, true, false},
		{TypeStepClaimed, true, false},
		{TypeInstanceApproved, true, true},
		{TypeInstanceRejected, true, true},
		{TypeInstanceCancelled, true, true},
		{Type("contract.signed"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType.String(), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.eventType.IsValid())
			assert.Equal(t, tt.resolution, tt.eventType.IsResolution())
		})
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := &entity.WorkflowInstance{ID: "inst-1", RuleType: "contract_price_drop", SubjectReference: "contract:42"}
	step := &entity.StepRecord{ID: "step-1", StepOrder: 1}

	evt := NewEvent(TypeInstanceStarted, inst, step, at)

	require.NotEmpty(t, evt.ID)
	assert.Equal(t, "inst-1", evt.InstanceID)
	assert.Equal(t, "contract_price_drop", evt.RuleType)
	assert.Equal(t, "contract:42", evt.SubjectReference)
	assert.Same(t, step, evt.Step)
	assert.Equal(t, at, evt.Timestamp)
	assert.NotEqual(t, evt.ID, NewEvent(TypeInstanceStarted, inst, nil, at).ID)
}

func TestEvent_WithPayloadDoesNotMutateOriginal(t *testing.T) {
	inst := &entity.WorkflowInstance{ID: "inst-1"}
	orig := NewEvent(TypeInstanceCancelled, inst, nil, time.Now())

	withReason := orig.WithPayload("reason", "customer withdrew")

	assert.Equal(t, "customer withdrew", withReason.GetPayloadString("reason"))
	assert.Empty(t, orig.GetPayloadString("reason"))
	assert.Equal(t, orig.ID, withReason.ID)
}
