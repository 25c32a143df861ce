package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain/presence"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/middleware"
	"github.com/chimera-factory/chimera/internal/port/cache"
	"github.com/chimera-factory/chimera/internal/port/database"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
)

// PresenceService publishes this agent's status on the peer network and
// tracks peers from their publications. The peer table is plain memory:
// every reader checks the publication's ExpiresAt, so a dead peer
// disappears as soon as its TTL lapses, whether or not anything evicts
// the entry.
type PresenceService struct {
	store   database.Store
	tasks   *TaskService
	queue   messagequeue.Queue
	cache   cache.Cache
	cfg     config.Presence
	agentID string
	limiter *middleware.RateLimiter
	metrics *otel.Metrics

	mu    sync.RWMutex
	peers map[string]presence.StatusPublication
}

// NewPresenceService creates a presence service for one agent instance.
// Accepted collaboration requests turn into tasks via the task service.
func NewPresenceService(store database.Store, tasks *TaskService, queue messagequeue.Queue, c cache.Cache, cfg config.Presence, agentID string) *PresenceService {
	perSecond := cfg.PublishPerMinute / 60
	burst := int(cfg.PublishPerMinute)
	if burst < 1 {
		burst = 1
	}
	return &PresenceService{
		store:   store,
		tasks:   tasks,
		queue:   queue,
		cache:   c,
		cfg:     cfg,
		agentID: agentID,
		limiter: middleware.NewRateLimiter(perSecond, burst),
		peers:   make(map[string]presence.StatusPublication),
	}
}

// SetMetrics attaches metric instruments.
func (s *PresenceService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// Run subscribes to the peer network and publishes status until the
// context is cancelled. Heartbeats carry status and availability only;
// the slower full publication adds capabilities, resources, and
// reputation.
func (s *PresenceService) Run(ctx context.Context) error {
	stopStatus, err := s.queue.SubscribeEphemeral(messagequeue.PresenceWildcard, s.handlePeerStatus)
	if err != nil {
		return fmt.Errorf("presence: subscribe status: %w", err)
	}
	defer stopStatus()

	stopTrends, err := s.queue.SubscribeEphemeral(messagequeue.SubjectPresenceTrend, s.handleTrendShare)
	if err != nil {
		return fmt.Errorf("presence: subscribe trends: %w", err)
	}
	defer stopTrends()

	stopCollab, err := s.queue.SubscribeRequest(messagequeue.CollabSubject(s.agentID), s.handleCollabRequest)
	if err != nil {
		return fmt.Errorf("presence: subscribe collab: %w", err)
	}
	defer stopCollab()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	full := time.NewTicker(s.cfg.FullStatusInterval)
	defer full.Stop()

	// Announce ourselves immediately instead of waiting a full interval.
	s.publish(ctx, true)

	slog.Info("presence service started", "agent_id", s.agentID,
		"heartbeat", s.cfg.HeartbeatInterval, "full_status", s.cfg.FullStatusInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("presence service stopped")
			return nil
		case <-heartbeat.C:
			s.publish(ctx, false)
		case <-full.C:
			s.publish(ctx, true)
		}
	}
}

// publish sends one status publication, subject to the per-agent rate
// limit.
func (s *PresenceService) publish(ctx context.Context, full bool) {
	if !s.limiter.Allow(s.agentID) {
		slog.Warn("presence publication rate limited", "agent_id", s.agentID)
		return
	}

	a, err := s.store.GetAgent(ctx, s.agentID)
	if err != nil {
		slog.Error("presence: load own agent failed", "error", err)
		return
	}

	now := time.Now()
	pub := presence.StatusPublication{
		AgentID:      a.ID,
		AgentName:    a.Name,
		Status:       a.Status,
		Availability: presence.DeriveAvailability(a.Resources, a.Resources.MaxSlots),
		Full:         full,
		PublishedAt:  now,
		ExpiresAt:    now.Add(s.cfg.TTL),
	}
	if full {
		pub.Capabilities = a.Capabilities
		res := a.Resources
		pub.Resources = &res
		pub.Reputation = &presence.Reputation{Score: a.Reputation}
	}

	data, err := json.Marshal(pub)
	if err != nil {
		slog.Error("presence: marshal publication failed", "error", err)
		return
	}
	if err := s.queue.PublishEphemeral(messagequeue.PresenceSubject(a.ID), data); err != nil {
		slog.Error("presence: publish failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.PresenceBeats.Add(ctx, 1)
	}
}

// handlePeerStatus records a peer's publication in the peer table.
func (s *PresenceService) handlePeerStatus(_ context.Context, _ string, data []byte) error {
	var pub presence.StatusPublication
	if err := json.Unmarshal(data, &pub); err != nil {
		return fmt.Errorf("presence: unmarshal peer status: %w", err)
	}
	if pub.AgentID == "" || pub.AgentID == s.agentID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.peers[pub.AgentID]
	if ok && !pub.Full {
		// Heartbeats refresh liveness but must not erase the richer
		// fields from the last full publication.
		prev.Status = pub.Status
		prev.Availability = pub.Availability
		prev.PublishedAt = pub.PublishedAt
		prev.ExpiresAt = pub.ExpiresAt
		s.peers[pub.AgentID] = prev
		return nil
	}
	s.peers[pub.AgentID] = pub
	return nil
}

// Discover returns live peers matching the query, best reputation first.
func (s *PresenceService) Discover(q presence.DiscoveryQuery) []presence.StatusPublication {
	now := time.Now()

	s.mu.RLock()
	var out []presence.StatusPublication
	for _, pub := range s.peers {
		if pub.Stale(now) {
			continue
		}
		if q.Matches(&pub) {
			out = append(out, pub)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := 0.0, 0.0
		if out[i].Reputation != nil {
			ri = out[i].Reputation.Score
		}
		if out[j].Reputation != nil {
			rj = out[j].Reputation.Score
		}
		if ri != rj {
			return ri > rj
		}
		return out[i].AgentID < out[j].AgentID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// RequestCollaboration asks a peer to take on a task spec. No answer by
// the deadline means rejected.
func (s *PresenceService) RequestCollaboration(ctx context.Context, req presence.CollaborationRequest) (*presence.CollaborationResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	req.FromAgentID = s.agentID

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("presence: marshal collab request: %w", err)
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	reply, err := s.queue.Request(ctx, messagequeue.CollabSubject(req.TargetAgentID), data)
	if err != nil {
		// Deadline exceeded, no responder, or transport failure: all
		// collapse to a rejection for the caller.
		slog.Warn("collaboration request unanswered",
			"request_id", req.RequestID, "target", req.TargetAgentID, "error", err)
		return &presence.CollaborationResponse{
			RequestID: req.RequestID,
			Accepted:  false,
			Reason:    "no response before deadline",
		}, nil
	}

	var resp presence.CollaborationResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("presence: unmarshal collab response: %w", err)
	}
	return &resp, nil
}

// handleCollabRequest answers an incoming collaboration request. We
// accept when not overloaded, creating a collaboration task bound to
// this agent.
func (s *PresenceService) handleCollabRequest(ctx context.Context, _ string, data []byte, respond messagequeue.Responder) error {
	var req presence.CollaborationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("presence: unmarshal collab request: %w", err)
	}

	resp := presence.CollaborationResponse{RequestID: req.RequestID}

	a, err := s.store.GetAgent(ctx, s.agentID)
	if err != nil {
		resp.Reason = "agent unavailable"
		return s.reply(respond, &resp)
	}
	if presence.DeriveAvailability(a.Resources, a.Resources.MaxSlots) == presence.Unavailable {
		resp.Reason = "overloaded"
		return s.reply(respond, &resp)
	}

	t, err := s.tasks.Create(ctx, task.CreateRequest{
		AgentID:  s.agentID,
		Type:     task.TypeCollaboration,
		Priority: req.Spec.Priority,
		Context:  req.Spec.Context,
	})
	if err != nil {
		slog.Error("presence: create collaboration task failed", "error", err)
		resp.Reason = "task creation failed"
		return s.reply(respond, &resp)
	}

	resp.Accepted = true
	resp.TaskID = t.ID
	slog.Info("collaboration accepted", "request_id", req.RequestID, "from", req.FromAgentID, "task_id", t.ID)
	return s.reply(respond, &resp)
}

func (s *PresenceService) reply(respond messagequeue.Responder, resp *presence.CollaborationResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("presence: marshal collab response: %w", err)
	}
	return respond(data)
}

// ShareTrend broadcasts a notable trend to the peer network.
func (s *PresenceService) ShareTrend(share presence.TrendShare) error {
	share.AgentID = s.agentID
	if share.SharedAt.IsZero() {
		share.SharedAt = time.Now()
	}
	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("presence: marshal trend share: %w", err)
	}
	return s.queue.PublishEphemeral(messagequeue.SubjectPresenceTrend, data)
}

// handleTrendShare caches trends shared by peers so local research can
// reuse them.
func (s *PresenceService) handleTrendShare(ctx context.Context, _ string, data []byte) error {
	if s.cache == nil {
		return nil
	}
	var share presence.TrendShare
	if err := json.Unmarshal(data, &share); err != nil {
		return fmt.Errorf("presence: unmarshal trend share: %w", err)
	}
	if share.AgentID == s.agentID || share.Title == "" {
		return nil
	}
	key := "trends:shared:" + share.Title
	if err := s.cache.Set(ctx, key, data, s.cfg.TTL); err != nil {
		slog.Warn("presence: cache shared trend failed", "error", err)
	}
	return nil
}

// Peers returns a snapshot of the peer table for diagnostics, stale
// entries included.
func (s *PresenceService) Peers() []presence.StatusPublication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]presence.StatusPublication, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}
