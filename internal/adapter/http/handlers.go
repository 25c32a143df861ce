package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/presence"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
	"github.com/chimera-factory/chimera/internal/service"
)

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Planner   *service.PlannerService
	Tasks     *service.TaskService
	Agents    *service.AgentService
	Approvals *service.ApprovalService
	Presence  *service.PresenceService
	Queue     messagequeue.Queue
	DB        Pinger
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{"status": "ok"}

	if h.Queue != nil {
		connected := h.Queue.IsConnected()
		resp["nats"] = connected
		if !connected {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
		}
	}
	if h.DB != nil {
		err := h.DB.Ping(r.Context())
		resp["postgres"] = err == nil
		if err != nil {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
		}
	}

	writeJSON(w, status, resp)
}

// --- Campaigns ---

// CreateCampaign handles POST /api/v1/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[campaign.CreateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Goal, "goal") {
		return
	}

	c, err := h.Planner.CreateCampaign(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCampaigns handles GET /api/v1/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.Planner.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []campaign.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// GetCampaign handles GET /api/v1/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Planner.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Planner.CancelCampaign(r.Context(), id); err != nil {
		writeDomainError(w, err, "campaign not found")
		return
	}
	c, err := h.Planner.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListCampaignTasks handles GET /api/v1/campaigns/{id}/tasks
func (h *Handlers) ListCampaignTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListByCampaign(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- Tasks ---

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTaskResults handles GET /api/v1/tasks/{id}/results
func (h *Handlers) ListTaskResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Tasks.Results(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if results == nil {
		results = []task.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Approvals ---

// ListApprovals handles GET /api/v1/approvals
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	f := approval.Filter{
		Type:     approval.Type(r.URL.Query().Get("type")),
		Priority: task.Priority(r.URL.Query().Get("priority")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	approvals, err := h.Approvals.ListPending(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if approvals == nil {
		approvals = []approval.Approval{}
	}
	writeJSON(w, http.StatusOK, approvals)
}

// GetApproval handles GET /api/v1/approvals/{id}
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.Approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DecideApproval handles POST /api/v1/approvals/{id}/decision
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	d, ok := readJSON[approval.Decision](w, r)
	if !ok {
		return
	}
	if !requireField(w, d.DecidedBy, "decided_by") {
		return
	}

	id := urlParam(r, "id")
	if err := h.Approvals.Decide(r.Context(), id, d); err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	a, err := h.Approvals.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Agents ---

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.RegisterRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") {
		return
	}

	a, err := h.Agents.Register(r.Context(), req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAgents handles GET /api/v1/agents. Pass ?all=true to include
// deactivated agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	agents, err := h.Agents.List(r.Context(), activeOnly)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAgentStatus handles PUT /api/v1/agents/{id}/status
func (h *Handlers) UpdateAgentStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Status agent.Status `json:"status"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Agents.UpdateStatus(r.Context(), urlParam(r, "id"), body.Status); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAgentResources handles PUT /api/v1/agents/{id}/resources
func (h *Handlers) UpdateAgentResources(w http.ResponseWriter, r *http.Request) {
	res, ok := readJSON[agent.Resources](w, r)
	if !ok {
		return
	}
	if err := h.Agents.UpdateResources(r.Context(), urlParam(r, "id"), res); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAgentReputation handles PUT /api/v1/agents/{id}/reputation
func (h *Handlers) UpdateAgentReputation(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Score float64 `json:"score"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Agents.UpdateReputation(r.Context(), urlParam(r, "id"), body.Score); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateAgent handles POST /api/v1/agents/{id}/deactivate
func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Agents.Deactivate(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Presence ---

// DiscoverPeers handles POST /api/v1/presence/discover
func (h *Handlers) DiscoverPeers(w http.ResponseWriter, r *http.Request) {
	q, ok := readJSON[presence.DiscoveryQuery](w, r)
	if !ok {
		return
	}
	peers := h.Presence.Discover(q)
	if peers == nil {
		peers = []presence.StatusPublication{}
	}
	writeJSON(w, http.StatusOK, peers)
}

// RequestCollaboration handles POST /api/v1/presence/collaborate
func (h *Handlers) RequestCollaboration(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[presence.CollaborationRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.TargetAgentID, "target_agent_id") {
		return
	}

	resp, err := h.Presence.RequestCollaboration(r.Context(), req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ShareTrend handles POST /api/v1/presence/trends
func (h *Handlers) ShareTrend(w http.ResponseWriter, r *http.Request) {
	share, ok := readJSON[presence.TrendShare](w, r)
	if !ok {
		return
	}
	if !requireField(w, share.Title, "title") {
		return
	}

	if err := h.Presence.ShareTrend(share); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListPeers handles GET /api/v1/presence/peers
func (h *Handlers) ListPeers(w http.ResponseWriter, _ *http.Request) {
	peers := h.Presence.Peers()
	if peers == nil {
		peers = []presence.StatusPublication{}
	}
	writeJSON(w, http.StatusOK, peers)
}
