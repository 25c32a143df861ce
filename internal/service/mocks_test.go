package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
)

// mockStore is an in-memory Store with the same claim ordering and
// optimistic-concurrency semantics as the postgres adapter.
type mockStore struct {
	mu        sync.Mutex
	seq       int
	agents    map[string]*agent.Agent
	campaigns map[string]*campaign.Campaign
	tasks     map[string]*task.Task
	results   map[string][]*task.Result
	approvals map[string]*approval.Approval
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:    make(map[string]*agent.Agent),
		campaigns: make(map[string]*campaign.Campaign),
		tasks:     make(map[string]*task.Task),
		results:   make(map[string][]*task.Result),
		approvals: make(map[string]*approval.Approval),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

// --- Tasks ---

func (m *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task.Task{
		ID:         m.nextID("task"),
		CampaignID: req.CampaignID,
		AgentID:    req.AgentID,
		Type:       req.Type,
		Priority:   req.Priority,
		Status:     task.StatusPending,
		Context:    req.Context,
		MaxRetries: req.MaxRetries,
		Version:    1,
		CreatedAt:  time.Now(),
	}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasksByCampaign(_ context.Context, campaignID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ClaimNextTask(_ context.Context, workerID string, capabilities []task.Type, lease time.Duration) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	eligible := func(t *task.Task) bool {
		if t.Status != task.StatusPending {
			return false
		}
		if !t.NotBefore.IsZero() && t.NotBefore.After(now) {
			return false
		}
		for _, c := range capabilities {
			if t.Type == c {
				return true
			}
		}
		return false
	}

	var best *task.Task
	for _, t := range m.tasks {
		if !eligible(t) {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if t.Priority.Rank() != best.Priority.Rank() {
			if t.Priority.Rank() > best.Priority.Rank() {
				best = t
			}
			continue
		}
		if !t.CreatedAt.Equal(best.CreatedAt) {
			if t.CreatedAt.Before(best.CreatedAt) {
				best = t
			}
			continue
		}
		if t.ID < best.ID {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("claim: %w", domain.ErrNotFound)
	}

	best.Status = task.StatusClaimed
	best.WorkerID = workerID
	best.LeaseExpiresAt = now.Add(lease)
	best.Version++
	cp := *best
	return &cp, nil
}

func (m *mockStore) AttachResult(_ context.Context, taskID string, version int, res *task.Result) (*task.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if t.Version != version {
		return nil, fmt.Errorf("attach result %s: %w", taskID, domain.ErrConflict)
	}
	for _, r := range m.results[taskID] {
		r.Superseded = true
	}
	t.Version++
	stored := *res
	stored.ID = m.nextID("result")
	stored.TaskID = taskID
	stored.TaskVersion = t.Version
	stored.CreatedAt = time.Now()
	m.results[taskID] = append(m.results[taskID], &stored)
	cp := stored
	return &cp, nil
}

func (m *mockStore) GetActiveResult(_ context.Context, taskID string) (*task.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results[taskID] {
		if !r.Superseded {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active result for %s: %w", taskID, domain.ErrNotFound)
}

func (m *mockStore) ListResults(_ context.Context, taskID string) ([]task.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Result
	for _, r := range m.results[taskID] {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockStore) guardedTask(taskID string, version int, from ...task.Status) (*task.Task, error) {
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if t.Version != version {
		return nil, fmt.Errorf("task %s version: %w", taskID, domain.ErrConflict)
	}
	for _, s := range from {
		if t.Status == s {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %s status %s: %w", taskID, t.Status, domain.ErrConflict)
}

func (m *mockStore) CommitTask(_ context.Context, taskID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.guardedTask(taskID, version, task.StatusClaimed, task.StatusAwaitingApproval)
	if err != nil {
		return err
	}
	t.Status = task.StatusCommitted
	t.WorkerID = ""
	t.Version++
	return nil
}

func (m *mockStore) RequeueTask(_ context.Context, taskID string, version int, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.guardedTask(taskID, version, task.StatusClaimed)
	if err != nil {
		return err
	}
	t.Status = task.StatusPending
	t.WorkerID = ""
	t.NotBefore = notBefore
	t.RetryCount++
	t.Version++
	return nil
}

func (m *mockStore) FailTask(_ context.Context, taskID string, version int, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.guardedTask(taskID, version,
		task.StatusPending, task.StatusClaimed, task.StatusAwaitingApproval)
	if err != nil {
		return err
	}
	t.Status = task.StatusFailed
	t.FailureCause = cause
	t.WorkerID = ""
	t.Version++
	return nil
}

func (m *mockStore) MarkAwaitingApproval(_ context.Context, taskID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.guardedTask(taskID, version, task.StatusClaimed)
	if err != nil {
		return err
	}
	t.Status = task.StatusAwaitingApproval
	t.WorkerID = ""
	t.Version++
	return nil
}

func (m *mockStore) ReleaseTask(_ context.Context, taskID string, version int, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.guardedTask(taskID, version, task.StatusClaimed)
	if err != nil {
		return err
	}
	t.Status = task.StatusPending
	t.WorkerID = ""
	t.NotBefore = notBefore
	t.Version++
	return nil
}

func (m *mockStore) ReapExpiredLeases(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == task.StatusClaimed && !t.LeaseExpiresAt.After(now) {
			t.Status = task.StatusPending
			t.WorkerID = ""
			t.RetryCount++
			t.Version++
			n++
		}
	}
	return n, nil
}

func (m *mockStore) FailCampaignTasks(_ context.Context, campaignID, cause string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, t := range m.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		if t.Status == task.StatusPending || t.Status == task.StatusAwaitingApproval {
			t.Status = task.StatusFailed
			t.FailureCause = cause
			t.Version++
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// --- Approvals ---

func (m *mockStore) CreateApproval(_ context.Context, a *approval.Approval) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *a
	stored.ID = m.nextID("approval")
	stored.Status = approval.StatusPending
	stored.SubmittedAt = time.Now()
	m.approvals[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (m *mockStore) GetApproval(_ context.Context, id string) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListPendingApprovals(_ context.Context, f approval.Filter) ([]approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Approval
	for _, a := range m.approvals {
		if a.Status != approval.StatusPending {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Priority != "" && a.Priority != f.Priority {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockStore) DecideApproval(_ context.Context, id string, status approval.Status, decidedBy string, auto bool, feedback string) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	if a.Decided() {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrDecided)
	}
	a.Status = status
	a.DecidedBy = decidedBy
	a.DecidedAt = time.Now()
	a.Auto = auto
	a.Feedback = feedback
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListExpiredApprovals(_ context.Context, now time.Time) ([]approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Approval
	for _, a := range m.approvals {
		if a.Status == approval.StatusPending && a.Expired(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- Agents ---

func (m *mockStore) RegisterAgent(_ context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &agent.Agent{
		ID:           m.nextID("agent"),
		Name:         req.Name,
		Persona:      req.Persona,
		Status:       agent.StatusIdle,
		Capabilities: req.Capabilities,
		Resources:    agent.Resources{MaxSlots: req.MaxSlots, AvailableSlots: req.MaxSlots},
		Reputation:   0.5,
		Active:       true,
		Version:      1,
	}
	m.agents[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListAgents(_ context.Context, activeOnly bool) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Status = status
	a.Version++
	return nil
}

func (m *mockStore) UpdateAgentResources(_ context.Context, id string, res agent.Resources) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Resources = res
	a.Version++
	return nil
}

func (m *mockStore) UpdateAgentReputation(_ context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Reputation = score
	a.Version++
	return nil
}

func (m *mockStore) DeactivateAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Active = false
	a.Status = agent.StatusSleeping
	a.Version++
	return nil
}

// --- Campaigns ---

func (m *mockStore) CreateCampaign(_ context.Context, goal string, agentIDs []string, plan campaign.Plan) (*campaign.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &campaign.Campaign{
		ID:       m.nextID("campaign"),
		Goal:     goal,
		Status:   campaign.StatusActive,
		AgentIDs: agentIDs,
		Plan:     clonePlan(plan),
		Version:  1,
	}
	m.campaigns[c.ID] = c
	cp := *c
	cp.Plan = clonePlan(c.Plan)
	return &cp, nil
}

func (m *mockStore) GetCampaign(_ context.Context, id string) (*campaign.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	cp.Plan = clonePlan(c.Plan)
	return &cp, nil
}

func (m *mockStore) ListCampaigns(_ context.Context) ([]campaign.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []campaign.Campaign
	for _, c := range m.campaigns {
		cp := *c
		cp.Plan = clonePlan(c.Plan)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateCampaignPlan(_ context.Context, id string, version int, plan campaign.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if c.Version != version {
		return fmt.Errorf("campaign %s version: %w", id, domain.ErrConflict)
	}
	c.Plan = clonePlan(plan)
	c.Version++
	return nil
}

func (m *mockStore) UpdateCampaignStatus(_ context.Context, id string, status campaign.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.Status = status
	c.Version++
	return nil
}

func clonePlan(p campaign.Plan) campaign.Plan {
	specs := make([]campaign.SpecState, len(p.Specs))
	copy(specs, p.Specs)
	for i := range specs {
		specs[i].Spec.DependsOn = append([]int(nil), p.Specs[i].Spec.DependsOn...)
	}
	return campaign.Plan{Specs: specs}
}

// bumpTaskVersion simulates a concurrent writer (e.g. the lease reaper)
// moving the task while a service holds a stale snapshot.
func (m *mockStore) bumpTaskVersion(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.Version++
	}
}

// mockQueue implements the queue port in memory. Durable publishes are
// recorded; ephemeral publishes and requests are delivered synchronously
// to matching subscribers.
type mockQueue struct {
	mu          sync.Mutex
	published   map[string][][]byte
	ephemeral   map[string][][]byte
	handlers    map[string]messagequeue.Handler
	reqHandlers map[string]messagequeue.RequestHandler
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		published:   make(map[string][][]byte),
		ephemeral:   make(map[string][][]byte),
		handlers:    make(map[string]messagequeue.Handler),
		reqHandlers: make(map[string]messagequeue.RequestHandler),
	}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *mockQueue) PublishEphemeral(subject string, data []byte) error {
	q.mu.Lock()
	q.ephemeral[subject] = append(q.ephemeral[subject], data)
	var matched []messagequeue.Handler
	for pattern, h := range q.handlers {
		if subjectMatches(pattern, subject) {
			matched = append(matched, h)
		}
	}
	q.mu.Unlock()
	for _, h := range matched {
		_ = h(context.Background(), subject, data)
	}
	return nil
}

func (q *mockQueue) SubscribeEphemeral(subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *mockQueue) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	q.mu.Lock()
	h, ok := q.reqHandlers[subject]
	q.mu.Unlock()
	if !ok {
		// No responder: block until the caller's deadline fires.
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var reply []byte
	respond := func(data []byte) error {
		reply = data
		return nil
	}
	if err := h(ctx, subject, data, respond); err != nil {
		return nil, err
	}
	return reply, nil
}

func (q *mockQueue) SubscribeRequest(subject string, handler messagequeue.RequestHandler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqHandlers[subject] = handler
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) publishedTo(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

// subjectMatches implements NATS-style suffix wildcard matching for the
// patterns the tests use ("presence.status.>" and exact subjects).
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".>"); ok {
		return strings.HasPrefix(subject, prefix+".")
	}
	return false
}
