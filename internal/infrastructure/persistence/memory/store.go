// Package memory keeps rules, instances and steps in process memory.
// Transactions are serialized by a single lock and roll back to a snapshot on error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

type txKey struct{}

// Store is an in-memory backing store for every repository port
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	rules     map[string]*entity.Rule
	instances map[string]*entity.WorkflowInstance
	steps     map[string]*entity.StepRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		rules:     make(map[string]*entity.Rule),
		instances: make(map[string]*entity.WorkflowInstance),
		steps:     make(map[string]*entity.StepRecord),
	}
}

var (
	_ port.TransactionManager = (*Store)(nil)
	_ port.HealthChecker      = (*Store)(nil)
	_ port.RuleRepository     = (*RuleRepository)(nil)
	_ port.InstanceRepository = (*InstanceRepository)(nil)
	_ port.StepRepository     = (*StepRepository)(nil)
)

// Rules returns the rule repository view of the store
func (s *Store) Rules() *RuleRepository { return &RuleRepository{s: s} }

// Instances returns the instance repository view of the store
func (s *Store) Instances() *InstanceRepository { return &InstanceRepository{s: s} }

// Steps returns the step repository view of the store
func (s *Store) Steps() *StepRepository { return &StepRepository{s: s} }

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return nil }

// WithTransaction runs fn while holding the store's writer lock.
// Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// write applies fn under the data lock, taking the writer lock too when called outside a transaction
func (s *Store) write(ctx context.Context, fn func() error) error {
	if ctx.Value(txKey{}) == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshot struct {
	rules     map[string]*entity.Rule
	instances map[string]*entity.WorkflowInstance
	steps     map[string]*entity.StepRecord
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		rules:     make(map[string]*entity.Rule, len(s.rules)),
		instances: make(map[string]*entity.WorkflowInstance, len(s.instances)),
		steps:     make(map[string]*entity.StepRecord, len(s.steps)),
	}
	for k, v := range s.rules {
		snap.rules[k] = copyRule(v)
	}
	for k, v := range s.instances {
		snap.instances[k] = copyInstance(v)
	}
	for k, v := range s.steps {
		snap.steps[k] = copyStep(v)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules, s.instances, s.steps = snap.rules, snap.instances, snap.steps
}

// RuleRepository implements port.RuleRepository over a Store
type RuleRepository struct{ s *Store }

func (r *RuleRepository) Create(ctx context.Context, rule *entity.Rule) error {
	return r.s.write(ctx, func() error {
		r.s.rules[rule.ID] = copyRule(rule)
		return nil
	})
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*entity.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rule, ok := r.s.rules[id]
	if !ok || rule.Deleted {
		return nil, entity.NotFoundf("rule", id)
	}
	return copyRule(rule), nil
}

func (r *RuleRepository) Lookup(ctx context.Context, id string) (*entity.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return nil, entity.NotFoundf("rule", id)
	}
	return copyRule(rule), nil
}

func (r *RuleRepository) List(ctx context.Context, filter port.RuleFilter) ([]*entity.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Rule
	for _, rule := range r.s.rules {
		if rule.Deleted || (filter.RuleType != "" && rule.RuleType != filter.RuleType) {
			continue
		}
		if !filter.IncludeDisabled && !rule.Enabled {
			continue
		}
		out = append(out, copyRule(rule))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *entity.Rule, expectedVersion int) error {
	return r.s.write(ctx, func() error {
		cur, ok := r.s.rules[rule.ID]
		if !ok || cur.Deleted {
			return entity.NotFoundf("rule", rule.ID)
		}
		if cur.Version != expectedVersion {
			return entity.ErrConflict
		}
		r.s.rules[rule.ID] = copyRule(rule)
		return nil
	})
}

func (r *RuleRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.s.write(ctx, func() error {
		cur, ok := r.s.rules[id]
		if !ok || cur.Deleted {
			return entity.NotFoundf("rule", id)
		}
		cur.Deleted, cur.Enabled, cur.UpdatedAt = true, false, at
		return nil
	})
}

// InstanceRepository implements port.InstanceRepository over a Store
type InstanceRepository struct{ s *Store }

func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	return r.s.write(ctx, func() error {
		r.s.instances[inst.ID] = copyInstance(inst)
		return nil
	})
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	inst, ok := r.s.instances[id]
	if !ok || inst.Deleted {
		return nil, entity.NotFoundf("instance", id)
	}
	return copyInstance(inst), nil
}

func (r *InstanceRepository) Advance(ctx context.Context, id string, fromOrder, toOrder int) error {
	return r.s.write(ctx, func() error {
		inst, err := r.pendingAt(id, fromOrder)
		if err != nil {
			return err
		}
		inst.CurrentStepOrder = toOrder
		return nil
	})
}

func (r *InstanceRepository) Resolve(ctx context.Context, id string, fromOrder int, status entity.InstanceStatus, reason string, at time.Time) error {
	return r.s.write(ctx, func() error {
		inst, err := r.pendingAt(id, fromOrder)
		if err != nil {
			return err
		}
		resolvedAt := at
		inst.OverallStatus, inst.CancelReason, inst.ResolvedAt = status, reason, &resolvedAt
		return nil
	})
}

// pendingAt is the compare half of compare-and-set; callers hold the data lock
func (r *InstanceRepository) pendingAt(id string, order int) (*entity.WorkflowInstance, error) {
	inst, ok := r.s.instances[id]
	if !ok || inst.Deleted {
		return nil, entity.NotFoundf("instance", id)
	}
	if inst.OverallStatus != entity.InstanceStatusPending || inst.CurrentStepOrder != order {
		return nil, entity.ErrConflict
	}
	return inst, nil
}

// StepRepository implements port.StepRepository over a Store
type StepRepository struct{ s *Store }

func (r *StepRepository) Create(ctx context.Context, step *entity.StepRecord) error {
	return r.s.write(ctx, func() error {
		r.s.steps[step.ID] = copyStep(step)
		return nil
	})
}

func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.StepRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	step, ok := r.s.steps[id]
	if !ok || step.Deleted {
		return nil, entity.NotFoundf("step", id)
	}
	return copyStep(step), nil
}

func (r *StepRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.StepRecord, error) {
	page, err := r.List(ctx, entity.StepFilter{InstanceID: instanceID}, entity.StepSort{}, entity.PageRequest{})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (r *StepRepository) Decide(ctx context.Context, id string, status entity.StepStatus, approverID, comment string, at time.Time) error {
	return r.s.write(ctx, func() error {
		step, ok := r.s.steps[id]
		if !ok || step.Deleted {
			return entity.NotFoundf("step", id)
		}
		if step.Status != entity.StepStatusPending {
			return entity.ErrConflict
		}
		decidedAt := at
		step.Status, step.AssignedApproverID, step.Comment, step.DecidedAt = status, approverID, comment, &decidedAt
		return nil
	})
}

func (r *StepRepository) Claim(ctx context.Context, id, approverID string) error {
	return r.s.write(ctx, func() error {
		step, ok := r.s.steps[id]
		if !ok || step.Deleted {
			return entity.NotFoundf("step", id)
		}
		if step.Status != entity.StepStatusPending || step.AssignedApproverID != "" {
			return entity.ErrConflict
		}
		step.AssignedApproverID = approverID
		return nil
	})
}

func (r *StepRepository) List(ctx context.Context, filter entity.StepFilter, order entity.StepSort, page entity.PageRequest) (*entity.StepPage, error) {
	r.s.mu.RLock()
	var items []*entity.StepRecord
	for _, step := range r.s.steps {
		if matches(step, filter) {
			items = append(items, copyStep(step))
		}
	}
	r.s.mu.RUnlock()

	sortSteps(items, order)

	total := len(items)
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			items = nil
		} else {
			items = items[page.Offset:]
		}
	}
	if page.Limit > 0 && len(items) > page.Limit {
		items = items[:page.Limit]
	}
	if items == nil {
		items = []*entity.StepRecord{}
	}
	return &entity.StepPage{Items: items, Total: total}, nil
}

func (r *StepRepository) ListForApprover(ctx context.Context, q entity.ApproverStepQuery) ([]*entity.StepRecord, error) {
	roles := make(map[string]bool, len(q.Roles))
	for _, role := range q.Roles {
		roles[role] = true
	}

	r.s.mu.RLock()
	var out []*entity.StepRecord
	for _, step := range r.s.steps {
		if step.Deleted || !q.Range.Contains(step.CreatedAt) {
			continue
		}
		inst, ok := r.s.instances[step.InstanceID]
		if !ok || inst.Deleted {
			continue
		}
		if step.Status == entity.StepStatusPending && inst.OverallStatus != entity.InstanceStatusPending {
			continue
		}
		unclaimed := step.AssignedApproverID == "" && step.Status == entity.StepStatusPending && roles[step.ApproverRole]
		if step.AssignedApproverID == q.ApproverID || unclaimed {
			out = append(out, copyStep(step))
		}
	}
	r.s.mu.RUnlock()

	sortSteps(out, entity.StepSort{Field: entity.SortByCreatedAt})
	return out, nil
}

func (r *StepRepository) UnclaimedRoles(ctx context.Context, rng entity.DateRange) ([]string, error) {
	r.s.mu.RLock()
	seen := map[string]bool{}
	for _, step := range r.s.steps {
		if step.Deleted || step.Status != entity.StepStatusPending || step.AssignedApproverID != "" || !rng.Contains(step.CreatedAt) {
			continue
		}
		inst, ok := r.s.instances[step.InstanceID]
		if !ok || inst.Deleted || inst.OverallStatus != entity.InstanceStatusPending {
			continue
		}
		seen[step.ApproverRole] = true
	}
	r.s.mu.RUnlock()

	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles, nil
}

func (r *StepRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*entity.StepRecord, error) {
	r.s.mu.RLock()
	var out []*entity.StepRecord
	for _, step := range r.s.steps {
		if step.Deleted || !step.IsOverdue(asOf) {
			continue
		}
		inst, ok := r.s.instances[step.InstanceID]
		if !ok || inst.Deleted || inst.OverallStatus != entity.InstanceStatusPending {
			continue
		}
		out = append(out, copyStep(step))
	}
	r.s.mu.RUnlock()

	sortSteps(out, entity.StepSort{Field: entity.SortBySLADeadline})
	return out, nil
}

func matches(step *entity.StepRecord, f entity.StepFilter) bool {
	switch {
	case step.Deleted:
		return false
	case f.InstanceID != "" && step.InstanceID != f.InstanceID:
		return false
	case f.ApproverID != "" && step.AssignedApproverID != f.ApproverID:
		return false
	case f.Status != "" && step.Status != f.Status:
		return false
	case f.RuleType != "" && step.RuleType != f.RuleType:
		return false
	}
	return true
}

// sortSteps orders steps the way the SQL store does: undecided steps sort last by decided_at
// in either direction, and ties fall back to created_at then id.
func sortSteps(steps []*entity.StepRecord, order entity.StepSort) {
	less := func(a, b *entity.StepRecord) (bool, bool) {
		switch order.Field {
		case entity.SortByCreatedAt:
			return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		case entity.SortBySLADeadline:
			return a.SLADeadline.Before(b.SLADeadline), a.SLADeadline.Equal(b.SLADeadline)
		case entity.SortByDecidedAt:
			switch {
			case a.DecidedAt == nil || b.DecidedAt == nil:
				return false, a.DecidedAt == nil && b.DecidedAt == nil
			default:
				return a.DecidedAt.Before(*b.DecidedAt), a.DecidedAt.Equal(*b.DecidedAt)
			}
		default:
			return a.StepOrder < b.StepOrder, a.StepOrder == b.StepOrder
		}
	}

	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if order.Field == entity.SortByDecidedAt && (a.DecidedAt == nil) != (b.DecidedAt == nil) {
			return b.DecidedAt == nil
		}
		lt, eq := less(a, b)
		if !eq {
			if order.Desc {
				gt, _ := less(b, a)
				return gt
			}
			return lt
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func copyRule(r *entity.Rule) *entity.Rule {
	cp := *r
	cp.TriggerCondition = append(entity.TriggerCondition(nil), r.TriggerCondition...)
	cp.StepTemplate = copyTemplate(r.StepTemplate)
	return &cp
}

func copyInstance(i *entity.WorkflowInstance) *entity.WorkflowInstance {
	cp := *i
	cp.StepTemplate = copyTemplate(i.StepTemplate)
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func copyStep(s *entity.StepRecord) *entity.StepRecord {
	cp := *s
	if s.DecidedAt != nil {
		t := *s.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

func copyTemplate(t entity.StepTemplate) entity.StepTemplate {
	out := make(entity.StepTemplate, len(t))
	for i, spec := range t {
		out[i] = spec
		if spec.Required != nil {
			req := *spec.Required
			out[i].Required = &req
		}
	}
	return out
}
