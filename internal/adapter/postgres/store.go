package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

func (s *Store) RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	res := agent.Resources{
		MaxSlots:       req.MaxSlots,
		AvailableSlots: req.MaxSlots,
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal resources: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, persona, capabilities, resources)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, persona, status, capabilities, resources, reputation, active, version, created_at, updated_at`,
		req.Name, req.Persona, pgTextArray(req.Capabilities), resJSON)

	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, persona, status, capabilities, resources, reputation, active, version, created_at, updated_at
		 FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, persona, status, capabilities, resources, reputation, active, version, created_at, updated_at
		 FROM agents WHERE active OR NOT $1 ORDER BY created_at ASC`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, string(status))
	return execExpectOne(tag, err, domain.ErrNotFound, "update agent status %s", id)
}

func (s *Store) UpdateAgentResources(ctx context.Context, id string, res agent.Resources) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET resources = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, resJSON)
	return execExpectOne(tag, err, domain.ErrNotFound, "update agent resources %s", id)
}

func (s *Store) UpdateAgentReputation(ctx context.Context, id string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET reputation = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, score)
	return execExpectOne(tag, err, domain.ErrNotFound, "update agent reputation %s", id)
}

func (s *Store) DeactivateAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET active = false, status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, string(agent.StatusSleeping))
	return execExpectOne(tag, err, domain.ErrNotFound, "deactivate agent %s", id)
}

// --- Campaigns ---

func (s *Store) CreateCampaign(ctx context.Context, goal string, agentIDs []string, plan campaign.Plan) (*campaign.Campaign, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO campaigns (goal, agent_ids, plan)
		 VALUES ($1, $2, $3)
		 RETURNING id, goal, status, agent_ids, plan, version, created_at, updated_at`,
		goal, pgTextArray(agentIDs), planJSON)

	c, err := scanCampaign(row)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return &c, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, goal, status, agent_ids, plan, version, created_at, updated_at
		 FROM campaigns WHERE id = $1`, id)

	c, err := scanCampaign(row)
	if err != nil {
		return nil, notFoundWrap(err, "get campaign %s", id)
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]campaign.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, goal, status, agent_ids, plan, version, created_at, updated_at
		 FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *Store) UpdateCampaignPlan(ctx context.Context, id string, version int, plan campaign.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET plan = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $3`,
		id, planJSON, version)
	return execExpectOne(tag, err, domain.ErrConflict, "update campaign plan %s", id)
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status campaign.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, string(status))
	return execExpectOne(tag, err, domain.ErrNotFound, "update campaign status %s", id)
}

// --- Scanners ---

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var resJSON []byte
	err := row.Scan(&a.ID, &a.Name, &a.Persona, &a.Status, &a.Capabilities, &resJSON,
		&a.Reputation, &a.Active, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if resJSON != nil {
		if err := json.Unmarshal(resJSON, &a.Resources); err != nil {
			return a, fmt.Errorf("unmarshal agent resources: %w", err)
		}
	}
	return a, nil
}

func scanCampaign(row scannable) (campaign.Campaign, error) {
	var c campaign.Campaign
	var planJSON []byte
	err := row.Scan(&c.ID, &c.Goal, &c.Status, &c.AgentIDs, &planJSON,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if planJSON != nil {
		if err := json.Unmarshal(planJSON, &c.Plan); err != nil {
			return c, fmt.Errorf("unmarshal campaign plan: %w", err)
		}
	}
	return c, nil
}
