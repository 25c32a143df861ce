package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	chihttp "github.com/chimera-factory/chimera/internal/adapter/http"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/presence"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/database"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
	"github.com/chimera-factory/chimera/internal/service"
)

// testStore implements the subset of database.Store the HTTP facade
// exercises. The embedded interface panics on anything unimplemented,
// which is exactly what a handler test should do when it strays.
type testStore struct {
	database.Store

	mu        sync.Mutex
	seq       int
	agents    map[string]*agent.Agent
	campaigns map[string]*campaign.Campaign
	tasks     map[string]*task.Task
	results   map[string][]task.Result
	approvals map[string]*approval.Approval
}

func newTestStore() *testStore {
	return &testStore{
		agents:    make(map[string]*agent.Agent),
		campaigns: make(map[string]*campaign.Campaign),
		tasks:     make(map[string]*task.Task),
		results:   make(map[string][]task.Result),
		approvals: make(map[string]*approval.Approval),
	}
}

func (s *testStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *testStore) RegisterAgent(_ context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &agent.Agent{
		ID:           s.nextID("agent"),
		Name:         req.Name,
		Status:       agent.StatusIdle,
		Capabilities: req.Capabilities,
		Resources:    agent.Resources{MaxSlots: req.MaxSlots, AvailableSlots: req.MaxSlots},
		Reputation:   0.5,
		Active:       true,
		Version:      1,
	}
	s.agents[a.ID] = a
	cp := *a
	return &cp, nil
}

func (s *testStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *testStore) ListAgents(_ context.Context, activeOnly bool) ([]agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []agent.Agent
	for _, a := range s.agents {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *testStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Status = status
	return nil
}

func (s *testStore) UpdateAgentResources(_ context.Context, id string, res agent.Resources) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Resources = res
	return nil
}

func (s *testStore) UpdateAgentReputation(_ context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Reputation = score
	return nil
}

func (s *testStore) DeactivateAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Active = false
	a.Status = agent.StatusSleeping
	return nil
}

func (s *testStore) CreateCampaign(_ context.Context, goal string, agentIDs []string, plan campaign.Plan) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &campaign.Campaign{
		ID:       s.nextID("campaign"),
		Goal:     goal,
		Status:   campaign.StatusActive,
		AgentIDs: agentIDs,
		Plan:     plan,
		Version:  1,
	}
	s.campaigns[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *testStore) GetCampaign(_ context.Context, id string) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *testStore) ListCampaigns(_ context.Context) ([]campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []campaign.Campaign
	for _, c := range s.campaigns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *testStore) UpdateCampaignPlan(_ context.Context, id string, version int, plan campaign.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if c.Version != version {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrConflict)
	}
	c.Plan = plan
	c.Version++
	return nil
}

func (s *testStore) UpdateCampaignStatus(_ context.Context, id string, status campaign.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.Status = status
	c.Version++
	return nil
}

func (s *testStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task.Task{
		ID:         s.nextID("task"),
		CampaignID: req.CampaignID,
		AgentID:    req.AgentID,
		Type:       req.Type,
		Priority:   req.Priority,
		Status:     task.StatusPending,
		Context:    req.Context,
		MaxRetries: req.MaxRetries,
		Version:    1,
	}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *testStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *testStore) ListTasksByCampaign(_ context.Context, campaignID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *testStore) ListResults(_ context.Context, taskID string) ([]task.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Result(nil), s.results[taskID]...), nil
}

func (s *testStore) CommitTask(_ context.Context, taskID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if t.Version != version {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrConflict)
	}
	t.Status = task.StatusCommitted
	t.Version++
	return nil
}

func (s *testStore) FailTask(_ context.Context, taskID string, version int, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if t.Version != version {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrConflict)
	}
	t.Status = task.StatusFailed
	t.FailureCause = cause
	t.Version++
	return nil
}

func (s *testStore) FailCampaignTasks(_ context.Context, campaignID, cause string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		if t.Status == task.StatusPending || t.Status == task.StatusAwaitingApproval {
			t.Status = task.StatusFailed
			t.FailureCause = cause
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (s *testStore) CreateApproval(_ context.Context, a *approval.Approval) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	stored.ID = s.nextID("approval")
	stored.Status = approval.StatusPending
	stored.SubmittedAt = time.Now()
	s.approvals[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (s *testStore) GetApproval(_ context.Context, id string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *testStore) ListPendingApprovals(_ context.Context, f approval.Filter) ([]approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Approval
	for _, a := range s.approvals {
		if a.Status != approval.StatusPending {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *testStore) DecideApproval(_ context.Context, id string, status approval.Status, decidedBy string, auto bool, feedback string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
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

// testQueue is a no-op queue for handler tests.
type testQueue struct{ connected bool }

func (q *testQueue) Publish(context.Context, string, []byte) error { return nil }
func (q *testQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *testQueue) PublishEphemeral(string, []byte) error { return nil }
func (q *testQueue) SubscribeEphemeral(string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *testQueue) Request(ctx context.Context, _ string, _ []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (q *testQueue) SubscribeRequest(string, messagequeue.RequestHandler) (func(), error) {
	return func() {}, nil
}
func (q *testQueue) Drain() error      { return nil }
func (q *testQueue) Close() error      { return nil }
func (q *testQueue) IsConnected() bool { return q.connected }

func newTestServer(t *testing.T) (*httptest.Server, *testStore) {
	t.Helper()
	store := newTestStore()
	queue := &testQueue{connected: true}

	tasks := service.NewTaskService(store, queue, config.Worker{}, 3, nil)
	agents := service.NewAgentService(store)
	judge := service.NewJudgeService(store, queue, config.Judge{
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}, time.Hour)
	planner := service.NewPlannerService(store, tasks, config.Planner{
		DefaultPriority: "medium",
		OnBranchFailure: "block",
	})
	judge.SetPlanner(planner)
	approvals := service.NewApprovalService(store, judge, config.Approval{
		Expiry:        time.Hour,
		SweepInterval: time.Minute,
		OnExpiry:      "reject",
	})
	pres := service.NewPresenceService(store, tasks, queue, nil, config.Presence{
		HeartbeatInterval:  time.Minute,
		FullStatusInterval: time.Hour,
		TTL:                time.Minute,
		PublishPerMinute:   60,
	}, "")

	h := &chihttp.Handlers{
		Planner:   planner,
		Tasks:     tasks,
		Agents:    agents,
		Approvals: approvals,
		Presence:  pres,
		Queue:     queue,
	}
	srv := httptest.NewServer(chihttp.NewRouter(h, "chimera-test", "*", nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", resp.StatusCode, body)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed["status"] != "ok" || parsed["nats"] != true {
		t.Fatalf("health = %v", parsed)
	}
}

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", agent.RegisterRequest{
		Name:     "maker",
		MaxSlots: 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register agent: %d (%s)", resp.StatusCode, body)
	}
	var a agent.Agent
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/campaigns", campaign.CreateRequest{
		Goal:     "grow the newsletter",
		AgentIDs: []string{a.ID},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create campaign: %d (%s)", resp.StatusCode, body)
	}
	var c campaign.Campaign
	if err := json.Unmarshal(body, &c); err != nil {
		t.Fatalf("unmarshal campaign: %v", err)
	}
	if len(c.Plan.Specs) != 5 {
		t.Fatalf("plan specs = %d, want 5", len(c.Plan.Specs))
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/campaigns/"+c.ID+"/tasks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d", resp.StatusCode)
	}
	var tasks []task.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type != task.TypeTrendResearch {
		t.Fatalf("tasks = %v, want one trend_research task", tasks)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/campaigns/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown campaign: %d, want 404", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/campaigns/"+c.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d (%s)", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &c); err != nil {
		t.Fatalf("unmarshal cancelled campaign: %v", err)
	}
	if c.Status != campaign.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", c.Status)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/campaigns/"+c.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double cancel: %d, want 409", resp.StatusCode)
	}
}

func TestCampaignValidationOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/campaigns", campaign.CreateRequest{
		AgentIDs: []string{"agent-1"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing goal: %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/campaigns", campaign.CreateRequest{
		Goal: "no agents",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no agents: %d, want 400", resp.StatusCode)
	}
}

func TestApprovalDecisionOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	// Seed a parked task with its pending approval.
	parked, err := store.CreateTask(ctx, task.CreateRequest{
		AgentID:    "agent-1",
		Type:       task.TypeContentGen,
		Priority:   task.PriorityHigh,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	store.tasks[parked.ID].Status = task.StatusAwaitingApproval
	a, err := store.CreateApproval(ctx, &approval.Approval{
		TaskID:     parked.ID,
		Type:       approval.TypeContent,
		Priority:   task.PriorityHigh,
		Confidence: 0.8,
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed approval: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/approvals", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list approvals: %d", resp.StatusCode)
	}
	var pending []approval.Approval
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	// Decision without identity is rejected.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/approvals/"+a.ID+"/decision",
		approval.Decision{Approve: true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("anonymous decision: %d, want 400", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/approvals/"+a.ID+"/decision",
		approval.Decision{Approve: true, DecidedBy: "reviewer@ops"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision: %d (%s)", resp.StatusCode, body)
	}
	var decided approval.Approval
	if err := json.Unmarshal(body, &decided); err != nil {
		t.Fatalf("unmarshal decided: %v", err)
	}
	if decided.Status != approval.StatusApproved {
		t.Fatalf("status = %s, want approved", decided.Status)
	}

	got, _ := store.GetTask(ctx, parked.ID)
	if got.Status != task.StatusCommitted {
		t.Fatalf("task = %s, want committed", got.Status)
	}

	// Deciding twice conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/approvals/"+a.ID+"/decision",
		approval.Decision{Approve: false, DecidedBy: "other@ops"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second decision: %d, want 409", resp.StatusCode)
	}
}

func TestAgentEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", agent.RegisterRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("nameless agent: %d, want 400", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", agent.RegisterRequest{Name: "solo"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d", resp.StatusCode)
	}
	var a agent.Agent
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/agents/"+a.ID+"/status",
		map[string]string{"status": "dancing"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status: %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/agents/"+a.ID+"/status",
		map[string]string{"status": "researching"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("valid status: %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/v1/agents/"+a.ID+"/reputation",
		map[string]float64{"score": 1.5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range reputation: %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+a.ID+"/deactivate", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate: %d, want 204", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var active []agent.Agent
	if err := json.Unmarshal(body, &active); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active agents = %d, want 0", len(active))
	}

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents?all=true", nil)
	var all []agent.Agent
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("all agents = %d, want 1", len(all))
	}
}

func TestPresenceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/presence/discover",
		presence.DiscoveryQuery{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("discover: %d", resp.StatusCode)
	}
	var peers []presence.StatusPublication
	if err := json.Unmarshal(body, &peers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("peers = %d, want empty list", len(peers))
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/presence/collaborate",
		presence.CollaborationRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("collaborate without target: %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/presence/trends",
		presence.TrendShare{Title: "ai-agents"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("share trend: %d, want 202", resp.StatusCode)
	}
}
