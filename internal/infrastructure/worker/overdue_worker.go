package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// OverdueLister is the slice of the overdue service the reporter needs
type OverdueLister interface {
	Overdue(ctx context.Context, asOf time.Time, approverID string) ([]*entity.StepRecord, error)
}

// ParseSchedule accepts a standard five-field cron expression, a descriptor
// such as "@every 5m" or "@hourly", or a plain Go duration.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if interval, err := time.ParseDuration(expr); err == nil {
		if interval <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(interval), nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// OverdueReporter periodically counts overdue pending steps, publishes the
// count as a gauge and logs each overdue step.
type OverdueReporter struct {
	schedule cron.Schedule
	lister   OverdueLister
	metrics  port.WorkflowMetrics
	clock    port.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
}

// NewOverdueReporter creates a reporter. A nil metrics sink is replaced with a no-op.
func NewOverdueReporter(schedule cron.Schedule, lister OverdueLister, metrics port.WorkflowMetrics, clock port.Clock, logger *zap.Logger) *OverdueReporter {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &OverdueReporter{
		schedule: schedule,
		lister:   lister,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Name identifies the worker in logs
func (r *OverdueReporter) Name() string {
	return "OverdueReporter"
}

// Start runs one report immediately and then follows the schedule
func (r *OverdueReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("overdue reporter already running")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	go r.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for an in-flight report to finish
func (r *OverdueReporter) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (r *OverdueReporter) loop(ctx context.Context) {
	defer close(r.done)

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Overdue report failed", zap.Error(err))
		}

		now := r.clock.Now()
		wait := r.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce lists every overdue pending step as of now and reports the count
func (r *OverdueReporter) RunOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	steps, err := r.lister.Overdue(ctx, now, "")

	r.mu.Lock()
	r.lastRun = now
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("failed to list overdue steps: %w", err)
	}

	r.metrics.OverdueSteps(len(steps))
	for _, s := range steps {
		r.logger.Warn("Step overdue",
			zap.String("step_id", s.ID),
			zap.String("instance_id", s.InstanceID),
			zap.String("approver_role", s.ApproverRole),
			zap.Time("sla_deadline", s.SLADeadline),
			zap.Duration("late_by", now.Sub(s.SLADeadline)))
	}
	r.logger.Info("Overdue report completed", zap.Int("overdue_steps", len(steps)))
	return len(steps), nil
}

// LastRun returns the time and outcome of the latest report
func (r *OverdueReporter) LastRun() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErr
}
