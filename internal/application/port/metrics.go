package port

import (
	"time"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// WorkflowMetrics records engine activity
type WorkflowMetrics interface {
	InstanceStarted(ruleType string)
	InstanceResolved(ruleType string, status entity.InstanceStatus, age time.Duration)
	StepDecided(ruleType string, status entity.StepStatus, wait time.Duration)
	TransitionRejected(action string)
	OverdueSteps(count int)
}

// NopMetrics discards every observation
type NopMetrics struct{}

func (NopMetrics) InstanceStarted(string)                                        {}
func (NopMetrics) InstanceResolved(string, entity.InstanceStatus, time.Duration) {}
func (NopMetrics) StepDecided(string, entity.StepStatus, time.Duration)          {}
func (NopMetrics) TransitionRejected(string)                                     {}
func (NopMetrics) OverdueSteps(int)                                              {}
