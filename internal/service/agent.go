package service

import (
	"context"
	"fmt"

	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/port/database"
)

// AgentService manages agent registration and runtime state.
type AgentService struct {
	store database.Store
}

// NewAgentService creates a new AgentService.
func NewAgentService(store database.Store) *AgentService {
	return &AgentService{store: store}
}

// Register creates a new agent record.
func (s *AgentService) Register(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: agent name is required", domain.ErrValidation)
	}
	if req.MaxSlots <= 0 {
		req.MaxSlots = 1
	}
	return s.store.RegisterAgent(ctx, req)
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// List returns agents, optionally only active ones.
func (s *AgentService) List(ctx context.Context, activeOnly bool) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx, activeOnly)
}

// UpdateStatus records a new operational status for an agent.
func (s *AgentService) UpdateStatus(ctx context.Context, id string, status agent.Status) error {
	if !agent.ValidStatus(status) {
		return fmt.Errorf("%w: unknown agent status %q", domain.ErrValidation, status)
	}
	return s.store.UpdateAgentStatus(ctx, id, status)
}

// UpdateResources records a fresh resource snapshot. Only the agent's
// own runtime should call this.
func (s *AgentService) UpdateResources(ctx context.Context, id string, res agent.Resources) error {
	return s.store.UpdateAgentResources(ctx, id, res)
}

// UpdateReputation records a new reputation score for an agent.
func (s *AgentService) UpdateReputation(ctx context.Context, id string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: reputation must be in [0,1], got %v", domain.ErrValidation, score)
	}
	return s.store.UpdateAgentReputation(ctx, id, score)
}

// Deactivate takes an agent off rotation. Agents are never deleted.
func (s *AgentService) Deactivate(ctx context.Context, id string) error {
	return s.store.DeactivateAgent(ctx, id)
}
