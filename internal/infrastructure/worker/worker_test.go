package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeLister struct {
	mu    sync.Mutex
	steps []*entity.StepRecord
	err   error
	calls int
	asOf  []time.Time
}

func (f *fakeLister) Overdue(ctx context.Context, asOf time.Time, approverID string) ([]*entity.StepRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.asOf = append(f.asOf, asOf)
	return f.steps, f.err
}

func (f *fakeLister) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type gaugeRecorder struct {
	port.NopMetrics
	mu     sync.Mutex
	counts []int
}

func (g *gaugeRecorder) OverdueSteps(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts = append(g.counts, n)
}

type stubWorker struct {
	name     string
	startErr error
	stopErr  error
	started  bool
	stopped  bool
}

func (w *stubWorker) Start(ctx context.Context) error {
	w.started = w.startErr == nil
	return w.startErr
}

func (w *stubWorker) Stop() error {
	w.stopped = true
	return w.stopErr
}

func (w *stubWorker) Name() string { return w.name }

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 7, 0, 0, time.UTC)

	tests := []struct {
		expr    string
		want    time.Time
		wantErr bool
	}{
		{expr: "15m", want: base.Add(15 * time.Minute)},
		{expr: "*/10 * * * *", want: time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)},
		{expr: "@hourly", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{expr: "", wantErr: true},
		{expr: "-5m", wantErr: true},
		{expr: "every day", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(base))
		})
	}
}

func TestOverdueReporter_RunOnce(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{steps: []*entity.StepRecord{
		{ID: "s1", InstanceID: "i1", ApproverRole: "finance", SLADeadline: now.Add(-time.Hour)},
		{ID: "s2", InstanceID: "i2", ApproverRole: "finance", SLADeadline: now.Add(-2 * time.Hour)},
	}}
	gauge := &gaugeRecorder{}
	sched, err := ParseSchedule("1h")
	require.NoError(t, err)

	r := NewOverdueReporter(sched, lister, gauge, fixedClock{now}, zap.NewNop())
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2}, gauge.counts)
	assert.Equal(t, []time.Time{now}, lister.asOf)

	last, lastErr := r.LastRun()
	assert.Equal(t, now, last)
	assert.NoError(t, lastErr)

	lister.err = errors.New("db down")
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int{2}, gauge.counts, "a failed run must not reset the gauge")
	_, lastErr = r.LastRun()
	assert.Error(t, lastErr)
}

func TestOverdueReporter_StartStop(t *testing.T) {
	lister := &fakeLister{}
	sched, err := ParseSchedule("1h")
	require.NoError(t, err)
	r := NewOverdueReporter(sched, lister, nil, port.SystemClock{}, zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return lister.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, 1, lister.Calls())
}

func TestManager(t *testing.T) {
	m := NewManager(zap.NewNop())
	ok := &stubWorker{name: "ok"}
	broken := &stubWorker{name: "broken", startErr: errors.New("no schedule"), stopErr: errors.New("stuck")}
	m.Register(ok)
	m.Register(broken)
	assert.Equal(t, 2, m.Count())

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: no schedule")
	assert.True(t, ok.started)
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	err = m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: stuck")
	assert.True(t, ok.stopped)
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.StopAll())
}
