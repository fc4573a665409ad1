package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// Event is published after a workflow transition has been committed
type Event struct {
	ID               string                 `json:"id"`
	Type             Type                   `json:"type"`
	InstanceID       string                 `json:"instance_id"`
	RuleType         string                 `json:"rule_type"`
	SubjectReference string                 `json:"subject_reference"`
	Step             *entity.StepRecord     `json:"step,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// NewEvent builds an event for inst. step is the step the event concerns and may be nil.
func NewEvent(eventType Type, inst *entity.WorkflowInstance, step *entity.StepRecord, at time.Time) *Event {
	return &Event{
		ID:               uuid.New().String(),
		Type:             eventType,
		InstanceID:       inst.ID,
		RuleType:         inst.RuleType,
		SubjectReference: inst.SubjectReference,
		Step:             step,
		Payload:          map[string]interface{}{},
		Timestamp:        at,
	}
}

// WithPayload returns a copy of the event with key set in its payload
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	cp := *e
	cp.Payload = payload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
