package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/application/service"
	"github.com/garyjia/approval-workflow/internal/application/workflow"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
	"github.com/garyjia/approval-workflow/internal/infrastructure/export"
	"github.com/garyjia/approval-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/approval-workflow/internal/infrastructure/persistence/memory"
	"github.com/garyjia/approval-workflow/internal/infrastructure/roles"
	"github.com/garyjia/approval-workflow/internal/infrastructure/storage"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("database is locked") }

type testResponse struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details"`
}

type testServer struct {
	t       *testing.T
	server  *Server
	store   *memory.Store
	reports string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	clock := fixedClock{now: t0}
	resolver := roles.NewStaticResolver(map[string][]string{
		"sales_manager": {"alice"},
		"finance":       {"carol"},
	})
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	logger := &mockLogger{}

	var seq atomic.Int64
	engine := workflow.NewEngine(store.Rules(), store.Instances(), store.Steps(), store,
		workflow.WithClock(clock),
		workflow.WithRoleResolver(resolver),
		workflow.WithMetrics(recorder),
		workflow.WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)

	audit := service.NewAuditService(store.Instances(), store.Steps(), engine, resolver, service.StatsPolicyAssigned, logger)
	reports := t.TempDir()
	deps := Dependencies{
		Engine:  engine,
		Rules:   service.NewRuleService(store.Rules(), store, clock, logger),
		Audit:   audit,
		Overdue: service.NewOverdueService(store.Steps(), resolver, logger),
		Export: service.NewExportService(audit, export.NewExcelRenderer(zap.NewNop()),
			storage.NewLocalFileStorage(reports, zap.NewNop()), clock, logger),
		Store:   store,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	return &testServer{
		t:       t,
		server:  NewServer(DefaultServerConfig(), deps, logger),
		store:   store,
		reports: reports,
	}
}

func (ts *testServer) do(method, path string, body interface{}) (int, testResponse) {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	var resp testResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(ts.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func priceDropRule() map[string]interface{} {
	return map[string]interface{}{
		"id":        "rule-price",
		"rule_type": "contract_price_drop",
		"name":      "Contract price below quote",
		"enabled":   true,
		"trigger_condition": []map[string]interface{}{
			{"threshold": 0, "description": "any reduction"},
			{"threshold": 10, "description": "reduction of 10% or more"},
		},
		"step_template": []map[string]interface{}{
			{"order": 1, "name": "Sales manager", "approver_role": "sales_manager", "expected_hours": 24},
			{"order": 2, "name": "Finance", "approver_role": "finance", "expected_hours": 48},
		},
	}
}

func (ts *testServer) pendingStepID(instanceID string) string {
	ts.t.Helper()
	code, resp := ts.do(http.MethodGet, "/api/steps?status=pending&instance_id="+instanceID, nil)
	require.Equal(ts.t, http.StatusOK, code)
	page := decode[entity.StepPage](ts.t, resp.Data)
	require.Len(ts.t, page.Items, 1)
	return page.Items[0].ID
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", decode[HealthResponse](t, resp.Data).Status)

	ts.server = NewServer(DefaultServerConfig(), Dependencies{Store: failingPinger{}}, &mockLogger{})
	code, resp = ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "database is locked", decode[HealthResponse](t, resp.Data).Store)
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(http.MethodPost, "/api/rules", priceDropRule())
	require.Equal(t, http.StatusCreated, code, resp.Error)
	created := decode[entity.Rule](t, resp.Data)
	assert.Equal(t, 1, created.Version)

	code, resp = ts.do(http.MethodGet, "/api/rules/rule-price", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Contract price below quote", decode[entity.Rule](t, resp.Data).Name)

	update := priceDropRule()
	update["name"] = "Renamed"
	update["version"] = 1
	code, resp = ts.do(http.MethodPut, "/api/rules/rule-price", update)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, 2, decode[entity.Rule](t, resp.Data).Version)

	code, _ = ts.do(http.MethodPut, "/api/rules/rule-price", update)
	assert.Equal(t, http.StatusConflict, code, "stale version")

	code, resp = ts.do(http.MethodPatch, "/api/rules/rule-price/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[entity.Rule](t, resp.Data).Enabled)

	code, resp = ts.do(http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]*entity.Rule](t, resp.Data))

	code, resp = ts.do(http.MethodGet, "/api/rules?include_disabled=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]*entity.Rule](t, resp.Data), 1)

	code, _ = ts.do(http.MethodPatch, "/api/rules/rule-price/enabled", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodDelete, "/api/rules/rule-price", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(http.MethodGet, "/api/rules/rule-price", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateRule_InvalidTemplate(t *testing.T) {
	ts := newTestServer(t)

	bad := priceDropRule()
	bad["step_template"] = []map[string]interface{}{
		{"order": 1, "approver_role": "sales_manager"},
		{"order": 3, "approver_role": "finance"},
	}
	code, resp := ts.do(http.MethodPost, "/api/rules", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "step_template", resp.Details["field"])
	assert.Equal(t, "rule-price", resp.Details["rule_id"])
}

func TestImportRules(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(http.MethodPost, "/api/rules/import", []interface{}{priceDropRule()})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, 1, decode[service.ImportResult](t, resp.Data).Created)

	code, resp = ts.do(http.MethodPost, "/api/rules/import", []interface{}{priceDropRule()})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[service.ImportResult](t, resp.Data).Unchanged)
}

func TestApprovalFlow(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(http.MethodPost, "/api/rules", priceDropRule())
	require.Equal(t, http.StatusCreated, code)

	code, resp := ts.do(http.MethodPost, "/api/events", map[string]interface{}{
		"rule_type":         "contract_price_drop",
		"subject_reference": "contract-42",
		"requested_by":      "sales-7",
		"original_value":    1000,
		"proposed_value":    850,
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	evaluated := decode[EvaluateResponse](t, resp.Data)
	require.True(t, evaluated.Gated)
	inst := evaluated.Instance
	assert.InDelta(t, 15.0, inst.Deviation, 1e-9)
	assert.Equal(t, 10.0, inst.MatchedThreshold)

	code, resp = ts.do(http.MethodPost, "/api/events", map[string]interface{}{
		"rule_type": "office_request", "deviation": 50, "subject_reference": "req-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[EvaluateResponse](t, resp.Data).Gated)

	code, _ = ts.do(http.MethodPost, "/api/events", map[string]interface{}{"deviation": 5})
	assert.Equal(t, http.StatusBadRequest, code)

	first := ts.pendingStepID(inst.ID)

	code, _ = ts.do(http.MethodPost, "/api/steps/"+first+"/approve", map[string]string{"approver_id": "carol"})
	assert.Equal(t, http.StatusForbidden, code, "carol is not a sales manager")

	code, _ = ts.do(http.MethodPost, "/api/steps/"+first+"/approve", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(http.MethodPost, "/api/steps/"+first+"/approve", map[string]string{"approver_id": "alice", "comment": "ok"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	advanced := decode[entity.WorkflowInstance](t, resp.Data)
	assert.Equal(t, entity.InstanceStatusPending, advanced.OverallStatus)
	assert.Equal(t, 2, advanced.CurrentStepOrder)

	code, resp = ts.do(http.MethodPost, "/api/steps/"+first+"/approve", map[string]string{"approver_id": "alice"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, inst.ID, resp.Details["instance_id"])
	assert.Equal(t, "approved", resp.Details["step_status"])

	second := ts.pendingStepID(inst.ID)
	code, resp = ts.do(http.MethodPost, "/api/steps/"+second+"/claim", map[string]string{"approver_id": "carol"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, "carol", decode[entity.StepRecord](t, resp.Data).AssignedApproverID)

	code, resp = ts.do(http.MethodPost, "/api/steps/"+second+"/reject", map[string]string{"approver_id": "carol", "comment": "too low"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, entity.InstanceStatusRejected, decode[entity.WorkflowInstance](t, resp.Data).OverallStatus)

	code, resp = ts.do(http.MethodGet, "/api/instances/"+inst.ID, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[entity.InstanceDetail](t, resp.Data)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, entity.StepStatusApproved, detail.Steps[0].Status)
	assert.Equal(t, entity.StepStatusRejected, detail.Steps[1].Status)

	code, _ = ts.do(http.MethodPost, "/api/instances/"+inst.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code, "resolved instances cannot be cancelled")

	code, resp = ts.do(http.MethodGet, "/api/approvers/alice/stats?from=2024-03-01&to=2024-03-02", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	stats := decode[entity.ApproverStats](t, resp.Data)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.ByDay["2024-03-01"].Approved)

	code, _ = ts.do(http.MethodGet, "/api/approvers/alice/stats?from=2024-03-02&to=2024-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodGet, "/api/approvers/alice/stats?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(http.MethodPost, "/api/stats/export", map[string]interface{}{
		"approver_ids": []string{"carol", "alice"},
		"from":         "2024-03-01",
		"to":           "2024-03-02T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	path := decode[ExportResponse](t, resp.Data).Path
	_, err := os.Stat(path)
	assert.NoError(t, err)

	code, _ = ts.do(http.MethodPost, "/api/stats/export", map[string]interface{}{"approver_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancelAndOverdue(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(http.MethodPost, "/api/rules", priceDropRule())
	require.Equal(t, http.StatusCreated, code)

	var ids []string
	for _, subject := range []string{"contract-1", "contract-2"} {
		code, resp := ts.do(http.MethodPost, "/api/events", map[string]interface{}{
			"rule_type": "contract_price_drop", "deviation": 12, "subject_reference": subject,
		})
		require.Equal(t, http.StatusCreated, code)
		ids = append(ids, decode[EvaluateResponse](t, resp.Data).Instance.ID)
	}

	code, resp := ts.do(http.MethodPost, "/api/instances/"+ids[1]+"/cancel", CancelRequest{Reason: "customer withdrew"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	cancelled := decode[entity.WorkflowInstance](t, resp.Data)
	assert.Equal(t, entity.InstanceStatusCancelled, cancelled.OverallStatus)
	assert.Equal(t, "customer withdrew", cancelled.CancelReason)

	code, resp = ts.do(http.MethodGet, "/api/overdue?as_of=2024-03-02T08:00:00Z", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]*entity.StepRecord](t, resp.Data), "23h after creation nothing is late")

	code, resp = ts.do(http.MethodGet, "/api/overdue?as_of=2024-03-02T10:00:00Z&approver_id=alice", nil)
	require.Equal(t, http.StatusOK, code)
	overdue := decode[[]*entity.StepRecord](t, resp.Data)
	require.Len(t, overdue, 1)
	assert.Equal(t, ids[0], overdue[0].InstanceID)

	code, resp = ts.do(http.MethodGet, "/api/overdue?as_of=2024-03-02T10:00:00Z&approver_id=carol", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]*entity.StepRecord](t, resp.Data))

	code, _ = ts.do(http.MethodGet, "/api/overdue?as_of=soon", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListSteps_Validation(t *testing.T) {
	ts := newTestServer(t)

	code, resp := ts.do(http.MethodGet, "/api/steps?sort=approver", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)

	code, _ = ts.do(http.MethodGet, "/api/steps?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(http.MethodGet, "/api/steps?sort=decided_at&desc=true&limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, decode[entity.StepPage](t, resp.Data).Total)

	code, _ = ts.do(http.MethodGet, "/api/steps/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/rules", priceDropRule())
	ts.do(http.MethodPost, "/api/events", map[string]interface{}{
		"rule_type": "contract_price_drop", "deviation": 3, "subject_reference": "c-1",
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `approval_instances_started_total{rule_type="contract_price_drop"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{entity.NotFoundf("step", "s1"), http.StatusNotFound},
		{fmt.Errorf("update: %w", entity.ErrConflict), http.StatusConflict},
		{&entity.ConfigurationError{Field: "step_template"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad page", entity.ErrInvalidInput), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

var _ port.Clock = fixedClock{}
