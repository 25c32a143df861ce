package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/database"
)

// contentPlatforms are the surfaces a campaign's content branch fans
// out to, one generation task per platform.
var contentPlatforms = []string{"twitter", "linkedin", "instagram"}

// PlannerService decomposes campaign goals into task graphs and advances
// them as tasks resolve. The persisted plan is mutated under optimistic
// concurrency; a per-campaign mutex keeps this process's own writers
// from spinning on each other.
type PlannerService struct {
	store database.Store
	tasks *TaskService
	cfg   config.Planner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPlannerService creates a new PlannerService.
func NewPlannerService(store database.Store, tasks *TaskService, cfg config.Planner) *PlannerService {
	return &PlannerService{
		store: store,
		tasks: tasks,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

// CreateCampaign decomposes the goal, persists the campaign with its
// plan, and materializes the first wave of tasks.
func (s *PlannerService) CreateCampaign(ctx context.Context, req campaign.CreateRequest) (*campaign.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	for _, id := range req.AgentIDs {
		a, err := s.store.GetAgent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("planner: agent %s: %w", id, err)
		}
		if !a.Active {
			return nil, fmt.Errorf("%w: agent %s is deactivated", domain.ErrValidation, id)
		}
	}

	plan := campaign.Plan{Specs: s.decompose(req.Goal)}

	c, err := s.store.CreateCampaign(ctx, req.Goal, req.AgentIDs, plan)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartDecomposeSpan(ctx, c.ID)
	defer span.End()

	if err := s.materialize(ctx, c.ID); err != nil {
		return nil, err
	}

	slog.Info("campaign created", "campaign_id", c.ID, "specs", len(plan.Specs))
	return s.store.GetCampaign(ctx, c.ID)
}

// decompose turns a goal into the standard campaign shape: one trend
// research task feeding per-platform content generation, all feeding a
// final engagement task.
func (s *PlannerService) decompose(goal string) []campaign.SpecState {
	prio := task.Priority(s.cfg.DefaultPriority)
	if prio.Rank() == 0 {
		prio = task.PriorityMedium
	}

	specs := []campaign.SpecState{
		{Spec: campaign.TaskSpec{
			Type:     task.TypeTrendResearch,
			Priority: task.PriorityHigh,
			Context:  specContext(goal, ""),
		}},
	}

	var contentIdx []int
	for _, platform := range contentPlatforms {
		contentIdx = append(contentIdx, len(specs))
		specs = append(specs, campaign.SpecState{Spec: campaign.TaskSpec{
			Type:      task.TypeContentGen,
			Priority:  prio,
			Context:   specContext(goal, platform),
			DependsOn: []int{0},
		}})
	}

	specs = append(specs, campaign.SpecState{Spec: campaign.TaskSpec{
		Type:      task.TypeEngagement,
		Priority:  prio,
		Context:   specContext(goal, ""),
		DependsOn: contentIdx,
	}})

	return specs
}

func specContext(goal, platform string) json.RawMessage {
	m := map[string]string{"goal": goal}
	if platform != "" {
		m["platform"] = platform
	}
	data, _ := json.Marshal(m)
	return data
}

// OnTaskResolved records a task's outcome in its campaign plan and
// materializes any specs that became ready. Idempotent: an outcome that
// is already recorded is a no-op, so duplicate events are harmless.
func (s *PlannerService) OnTaskResolved(ctx context.Context, t *task.Task, outcome campaign.SpecOutcome) error {
	if t.CampaignID == "" {
		// Collaboration tasks resolve outside any plan.
		return nil
	}

	unlock := s.lockCampaign(t.CampaignID)
	defer unlock()

	for {
		c, err := s.store.GetCampaign(ctx, t.CampaignID)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return nil
		}

		idx := c.Plan.SpecByTaskID(t.ID)
		if idx < 0 {
			// Collaboration tasks and other out-of-plan work resolve
			// without touching the graph.
			return nil
		}
		if c.Plan.Specs[idx].Outcome != campaign.OutcomeNone {
			return nil
		}

		c.Plan.Specs[idx].Outcome = outcome
		if outcome == campaign.OutcomeFailed {
			// Descendants of a dead branch can never become ready; they
			// block in either failure mode so the campaign still settles.
			if n := c.Plan.BlockDescendants(idx); n > 0 {
				slog.Warn("blocked downstream specs", "campaign_id", c.ID, "count", n)
			}
			// "block" additionally halts everything not yet started;
			// "continue" lets independent branches keep materializing.
			if s.cfg.OnBranchFailure != "continue" {
				if n := c.Plan.BlockUnstarted(); n > 0 {
					slog.Warn("halted unstarted specs", "campaign_id", c.ID, "count", n)
				}
			}
		}

		err = s.store.UpdateCampaignPlan(ctx, c.ID, c.Version, c.Plan)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	if err := s.materializeLocked(ctx, t.CampaignID); err != nil {
		return err
	}
	return s.settle(ctx, t.CampaignID)
}

// CancelCampaign stops a campaign: queued and parked tasks fail
// immediately, in-flight tasks keep their lease but their results will
// be discarded by the judge.
func (s *PlannerService) CancelCampaign(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		return fmt.Errorf("cancel campaign %s: already %s: %w", id, c.Status, domain.ErrConflict)
	}

	if err := s.store.UpdateCampaignStatus(ctx, id, campaign.StatusCancelled); err != nil {
		return err
	}

	ids, err := s.store.FailCampaignTasks(ctx, id, task.CauseCampaignCancelled)
	if err != nil {
		return err
	}

	slog.Info("campaign cancelled", "campaign_id", id, "tasks_failed", len(ids))
	return nil
}

// Get returns a campaign by ID.
func (s *PlannerService) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// List returns all campaigns.
func (s *PlannerService) List(ctx context.Context) ([]campaign.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// materialize creates tasks for every spec whose dependencies have
// committed, binding each spec to its task under optimistic concurrency.
func (s *PlannerService) materialize(ctx context.Context, campaignID string) error {
	unlock := s.lockCampaign(campaignID)
	defer unlock()
	return s.materializeLocked(ctx, campaignID)
}

func (s *PlannerService) materializeLocked(ctx context.Context, campaignID string) error {
	// taskFor survives OCC retries so a spec never gets two tasks.
	taskFor := make(map[int]string)

	for {
		c, err := s.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if c.Status != campaign.StatusActive {
			return nil
		}

		ready := c.Plan.Ready()
		if len(ready) == 0 {
			return nil
		}

		for n, idx := range ready {
			id, ok := taskFor[idx]
			if !ok {
				spec := c.Plan.Specs[idx].Spec
				t, err := s.tasks.Create(ctx, task.CreateRequest{
					CampaignID: campaignID,
					AgentID:    c.AgentIDs[n%len(c.AgentIDs)],
					Type:       spec.Type,
					Priority:   spec.Priority,
					Context:    spec.Context,
				})
				if err != nil {
					return fmt.Errorf("planner: create task for spec %d: %w", idx, err)
				}
				id = t.ID
				taskFor[idx] = id
			}
			c.Plan.Specs[idx].TaskID = id
		}

		err = s.store.UpdateCampaignPlan(ctx, c.ID, c.Version, c.Plan)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		return err
	}
}

// settle marks the campaign completed or blocked once every spec has
// resolved.
func (s *PlannerService) settle(ctx context.Context, campaignID string) error {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != campaign.StatusActive || !c.Plan.Settled() {
		return nil
	}

	status := campaign.StatusBlocked
	if c.Plan.AllCommitted() {
		status = campaign.StatusCompleted
	}
	if err := s.store.UpdateCampaignStatus(ctx, c.ID, status); err != nil {
		return err
	}
	slog.Info("campaign settled", "campaign_id", c.ID, "status", status)
	return nil
}

func (s *PlannerService) lockCampaign(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}
