package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-workflow/internal/application/dispatcher"
	"github.com/garyjia/approval-workflow/internal/application/workflow"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockResolver struct {
	roles map[string][]string
	err   error
	calls int
}

func (m *mockResolver) ResolveApprovers(ctx context.Context, role string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.roles[role], nil
}

type sentMessage struct {
	userID  string
	content string
}

type mockMessageSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
}

func (m *mockMessageSender) SendMessage(ctx context.Context, userID string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[userID] {
		return errors.New("lark unavailable")
	}
	m.sent = append(m.sent, sentMessage{userID: userID, content: content})
	return nil
}

type mockFileStorage struct {
	files map[string][]byte
	err   error
}

func (m *mockFileStorage) Save(ctx context.Context, path string, content []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[path] = content
	return nil
}

func (m *mockFileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file %s not found", path)
	}
	return content, nil
}

func (m *mockFileStorage) Exists(ctx context.Context, path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m *mockFileStorage) GetFullPath(relativePath string) string {
	return "/data/" + relativePath
}

type mockRenderer struct {
	got []*entity.ApproverStats
}

func (m *mockRenderer) RenderStatistics(stats []*entity.ApproverStats) ([]byte, error) {
	m.got = stats
	return []byte("report"), nil
}

func (m *mockRenderer) Extension() string { return ".xlsx" }

// fixture wires the services over an in-memory store and a real engine
type fixture struct {
	store    *memory.Store
	clock    *mockClock
	resolver *mockResolver
	engine   workflow.Engine
	logger   *mockLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.NewStore(),
		clock: &mockClock{now: t0},
		resolver: &mockResolver{roles: map[string][]string{
			"sales_manager": {"alice", "bob"},
			"finance":       {"carol"},
		}},
		logger: &mockLogger{},
	}

	var seq atomic.Int64
	f.engine = workflow.NewEngine(f.store.Rules(), f.store.Instances(), f.store.Steps(), f.store,
		workflow.WithClock(f.clock),
		workflow.WithRoleResolver(f.resolver),
		workflow.WithDispatcher(dispatcher.NewDispatcher()),
		workflow.WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
	return f
}

func priceDropRule(id string) *entity.Rule {
	return &entity.Rule{
		ID:       id,
		RuleType: "contract_price_drop",
		Name:     "Contract price below quote",
		TriggerCondition: entity.TriggerCondition{
			{Threshold: 0, Description: "any reduction"},
			{Threshold: 10, Description: "reduction of 10% or more"},
		},
		StepTemplate: entity.StepTemplate{
			{Order: 1, Name: "Sales manager", ApproverRole: "sales_manager", ExpectedHours: 24},
			{Order: 2, Name: "Finance", ApproverRole: "finance", ExpectedHours: 48},
		},
		Enabled: true,
	}
}

func (f *fixture) seedRule(t *testing.T) {
	t.Helper()
	svc := NewRuleService(f.store.Rules(), f.store, f.clock, f.logger)
	_, err := svc.CreateRule(context.Background(), priceDropRule("rule-price"))
	require.NoError(t, err)
}

func (f *fixture) start(t *testing.T, subject string) *entity.WorkflowInstance {
	t.Helper()
	inst, err := f.engine.EvaluateAndMaybeStart(context.Background(), entity.BusinessEvent{
		RuleType:         "contract_price_drop",
		Deviation:        15,
		SubjectReference: subject,
		RequestedBy:      "sales-7",
	})
	require.NoError(t, err)
	require.NotNil(t, inst)
	return inst
}

func (f *fixture) pendingStep(t *testing.T, instanceID string) *entity.StepRecord {
	t.Helper()
	steps, err := f.store.Steps().ListByInstance(context.Background(), instanceID)
	require.NoError(t, err)
	for _, s := range steps {
		if s.Status == entity.StepStatusPending {
			return s
		}
	}
	t.Fatalf("instance %s has no pending step", instanceID)
	return nil
}

func (f *fixture) pendingStepID(instanceID string) string {
	steps, _ := f.store.Steps().List(context.Background(),
		entity.StepFilter{InstanceID: instanceID, Status: entity.StepStatusPending},
		entity.StepSort{}, entity.PageRequest{})
	if steps == nil || len(steps.Items) == 0 {
		return ""
	}
	return steps.Items[0].ID
}
