package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docflow/backend/internal/domain/models"
)

// memStore is an in-memory implementation of the persistence ports used by
// the orchestration engine. RunInTransaction serializes units of work with a
// mutex, mirroring what the SQL row locks guarantee in production. It is
// commit-only: tests never exercise mid-transaction failures.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	workflows map[string]*models.WorkflowInstance
	phases    map[string]*models.PhaseInstance
	steps     map[string]*models.StepInstance
	actions   []*models.WorkflowAction
	tokens    map[string]*models.ActionToken
	audit     []*models.AuditEntry
	reminders map[string]*models.ReminderJob
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[string]*models.WorkflowInstance),
		phases:    make(map[string]*models.PhaseInstance),
		steps:     make(map[string]*models.StepInstance),
		tokens:    make(map[string]*models.ActionToken),
		reminders: make(map[string]*models.ReminderJob),
	}
}

// Transactor

func (f *memStore) RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	return fn(ctx)
}

// WorkflowStore

func (f *memStore) CreateWorkflow(_ context.Context, wf *models.WorkflowInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *wf
	f.workflows[wf.ID] = &cp
	return nil
}

func (f *memStore) CreatePhase(_ context.Context, phase *models.PhaseInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *phase
	f.phases[phase.ID] = &cp
	return nil
}

func (f *memStore) CreateStep(_ context.Context, step *models.StepInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *step
	cp.Validators = append([]string(nil), step.Validators...)
	f.steps[step.ID] = &cp
	return nil
}

func (f *memStore) GetWorkflow(_ context.Context, id string) (*models.WorkflowInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *wf
	return &cp, nil
}

func (f *memStore) GetWorkflowForUpdate(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return f.GetWorkflow(ctx, id)
}

func (f *memStore) GetStep(_ context.Context, id string) (*models.StepInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.steps[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.Validators = append([]string(nil), st.Validators...)
	return &cp, nil
}

func (f *memStore) GetStepForUpdate(ctx context.Context, id string) (*models.StepInstance, error) {
	return f.GetStep(ctx, id)
}

func (f *memStore) GetPhase(_ context.Context, id string) (*models.PhaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.phases[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *memStore) GetPhaseByOrder(_ context.Context, workflowID string, order int) (*models.PhaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.phases {
		if p.WorkflowID == workflowID && p.Order == order {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *memStore) ListPhases(_ context.Context, workflowID string) ([]*models.PhaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PhaseInstance
	for _, p := range f.phases {
		if p.WorkflowID == workflowID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *memStore) ListSteps(_ context.Context, phaseID string) ([]*models.StepInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StepInstance
	for _, st := range f.steps {
		if st.PhaseID == phaseID {
			cp := *st
			cp.Validators = append([]string(nil), st.Validators...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *memStore) ListWorkflowSteps(_ context.Context, workflowID string) ([]*models.StepInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StepInstance
	for _, st := range f.steps {
		if st.WorkflowID == workflowID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PhaseID != out[j].PhaseID {
			return out[i].PhaseID < out[j].PhaseID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (f *memStore) UpdateWorkflowStatus(_ context.Context, id string, status models.WorkflowStatus, currentPhaseIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf := f.workflows[id]
	wf.Status = status
	wf.CurrentPhaseIndex = currentPhaseIndex
	return nil
}

func (f *memStore) UpdatePhaseStatus(_ context.Context, id string, status models.StageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases[id].Status = status
	return nil
}

func (f *memStore) UpdateStepStatus(_ context.Context, id string, status models.StageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[id].Status = status
	return nil
}

func (f *memStore) ReactivateStep(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.steps[id]
	st.Status = models.StageInProgress
	st.DecisionCount = 0
	st.Activation++
	return nil
}

func (f *memStore) IncrementDecisionCount(_ context.Context, stepID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[stepID].DecisionCount++
	return nil
}

// ActionStore

func (f *memStore) Insert(_ context.Context, action *models.WorkflowAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *action
	f.actions = append(f.actions, &cp)
	return nil
}

func (f *memStore) CountByDecision(_ context.Context, stepID string, activation int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	approvals, refusals := 0, 0
	for _, a := range f.actions {
		if a.StepID != stepID || a.Activation != activation {
			continue
		}
		if a.Decision == models.DecisionApprove {
			approvals++
		} else {
			refusals++
		}
	}
	return approvals, refusals, nil
}

func (f *memStore) ExistsForActor(_ context.Context, stepID string, activation int, actorEmail string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a.StepID == stepID && a.Activation == activation && a.ActorEmail == actorEmail {
			return true, nil
		}
	}
	return false, nil
}

func (f *memStore) DeleteForStep(_ context.Context, stepID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.actions[:0]
	for _, a := range f.actions {
		if a.StepID != stepID {
			kept = append(kept, a)
		}
	}
	f.actions = kept
	return nil
}

func (f *memStore) ListForStep(_ context.Context, stepID string) ([]*models.WorkflowAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WorkflowAction
	for _, a := range f.actions {
		if a.StepID == stepID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// TokenStore

func (f *memStore) InsertToken(_ context.Context, token *models.ActionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.tokens[token.SecretHash] = &cp
	return nil
}

func (f *memStore) FindByHash(_ context.Context, secretHash string) (*models.ActionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secretHash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *memStore) Consume(_ context.Context, secretHash string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secretHash]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return false, nil
	}
	used := now
	t.UsedAt = &used
	return true, nil
}

func (f *memStore) ExpireForStep(_ context.Context, stepID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.StepID == stepID && t.UsedAt == nil {
			t.ExpiresAt = now.Add(-time.Second)
		}
	}
	return nil
}

func (f *memStore) ExpireForWorkflow(_ context.Context, workflowID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.WorkflowID == workflowID && t.UsedAt == nil {
			t.ExpiresAt = now.Add(-time.Second)
		}
	}
	return nil
}

func (f *memStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var purged int64
	for hash, t := range f.tokens {
		if t.ExpiresAt.Before(before) {
			delete(f.tokens, hash)
			purged++
		}
	}
	return purged, nil
}

// AuditStore

func (f *memStore) Append(_ context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.audit = append(f.audit, &cp)
	return nil
}

func (f *memStore) ListForWorkflow(_ context.Context, workflowID string) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range f.audit {
		if e.WorkflowID == workflowID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// tokenStoreAdapter renames InsertToken to the TokenStore's Insert; memStore
// cannot carry both Insert methods itself because ActionStore claims the name.
type tokenStoreAdapter struct {
	*memStore
}

func (a tokenStoreAdapter) Insert(ctx context.Context, token *models.ActionToken) error {
	return a.InsertToken(ctx, token)
}

// fakeNotifier records dispatched side effects.
type fakeNotifier struct {
	mu        sync.Mutex
	activated []string
	finished  int
	cancelled int
}

func (n *fakeNotifier) StepActivated(_ context.Context, _ *models.WorkflowInstance, step *models.StepInstance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activated = append(n.activated, step.ID)
}

func (n *fakeNotifier) WorkflowFinished(_ context.Context, _ *models.WorkflowInstance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
}

func (n *fakeNotifier) WorkflowCancelled(_ context.Context, _ *models.WorkflowInstance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled++
}

// fakeScheduler records reminder scheduling and cancellation.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (s *fakeScheduler) Schedule(_ context.Context, _ *models.WorkflowInstance, step *models.StepInstance, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[step.ID]; !ok {
		s.scheduled[step.ID] = dueAt
	}
	return nil
}

func (s *fakeScheduler) Cancel(_ context.Context, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, stepID)
	return nil
}

// fakeUserStore is an in-memory UserStore.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) Create(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, err := f.FindByEmail(ctx, email)
	return u != nil, err
}

// fakeTemplateStore is an in-memory TemplateStore.
type fakeTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*models.CircuitTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*models.CircuitTemplate)}
}

func (f *fakeTemplateStore) Create(_ context.Context, tpl *models.CircuitTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *tpl
	f.templates[tpl.ID] = &cp
	return nil
}

func (f *fakeTemplateStore) Update(_ context.Context, tpl *models.CircuitTemplate) error {
	return f.Create(nil, tpl)
}

func (f *fakeTemplateStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.templates, id)
	return nil
}

func (f *fakeTemplateStore) Get(_ context.Context, id string) (*models.CircuitTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

func (f *fakeTemplateStore) List(_ context.Context) ([]*models.CircuitTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CircuitTemplate
	for _, tpl := range f.templates {
		cp := *tpl
		out = append(out, &cp)
	}
	return out, nil
}

// testRig wires an orchestration engine onto the in-memory fakes.
type testRig struct {
	store     *memStore
	notifier  *fakeNotifier
	scheduler *fakeScheduler
	svc       *OrchestrationService
	tokens    *TokenService
}

func newTestRig() *testRig {
	store := newMemStore()
	notifier := &fakeNotifier{}
	scheduler := newFakeScheduler()
	tokenStore := tokenStoreAdapter{store}
	svc := NewOrchestrationService(store, store, store, tokenStore, store, notifier, scheduler)
	tokens := NewTokenService(store, tokenStore, store, svc)
	return &testRig{store: store, notifier: notifier, scheduler: scheduler, svc: svc, tokens: tokens}
}

// stepAt returns the live step at (phaseOrder, stepOrder) of a workflow.
func (r *testRig) stepAt(wfID string, phaseOrder, stepOrder int) *models.StepInstance {
	ctx := context.Background()
	phase, _ := r.store.GetPhaseByOrder(ctx, wfID, phaseOrder)
	if phase == nil {
		return nil
	}
	steps, _ := r.store.ListSteps(ctx, phase.ID)
	for _, st := range steps {
		if st.Order == stepOrder {
			return st
		}
	}
	return nil
}

func (r *testRig) phaseAt(wfID string, order int) *models.PhaseInstance {
	phase, _ := r.store.GetPhaseByOrder(context.Background(), wfID, order)
	return phase
}

func (r *testRig) workflow(wfID string) *models.WorkflowInstance {
	wf, _ := r.store.GetWorkflow(context.Background(), wfID)
	return wf
}

func intPtr(v int) *int { return &v }

// Circuit builders shared across tests.

func sequentialTwoPhaseStructure() models.CircuitStructure {
	return models.CircuitStructure{
		Title: "Purchase order",
		Phases: []models.PhaseDefinition{
			{
				Order: 0,
				Name:  "Manager review",
				Steps: []models.StepDefinition{
					{
						Order:      0,
						Name:       "Manager sign-off",
						Execution:  models.ExecutionSequential,
						QuorumRule: models.QuorumUnanimity,
						Validators: []string{"manager@example.com"},
					},
				},
			},
			{
				Order: 1,
				Name:  "Finance review",
				Steps: []models.StepDefinition{
					{
						Order:      0,
						Name:       "Finance sign-off",
						Execution:  models.ExecutionSequential,
						QuorumRule: models.QuorumUnanimity,
						Validators: []string{"finance@example.com"},
					},
				},
			},
		},
	}
}

func parallelMajorityStructure() models.CircuitStructure {
	return models.CircuitStructure{
		Title: "Policy change",
		Phases: []models.PhaseDefinition{
			{
				Order: 0,
				Name:  "Committee vote",
				Steps: []models.StepDefinition{
					{
						Order:      0,
						Name:       "Committee",
						Execution:  models.ExecutionParallel,
						QuorumRule: models.QuorumMajority,
						Validators: []string{"a@example.com", "b@example.com", "c@example.com"},
					},
				},
			},
		},
	}
}
