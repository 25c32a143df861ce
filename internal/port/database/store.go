// Package database defines the persistence port for the orchestration core.
package database

import (
	"context"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/task"
)

// Store is the port interface for durable task, campaign, agent, and
// approval state. Implementations must provide atomic claim-and-transition
// semantics and map optimistic-concurrency misses to domain.ErrConflict.
// Tasks, results, and approvals remain queryable by identifier
// indefinitely after reaching a terminal state.
type Store interface {
	// --- Tasks ---

	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByCampaign(ctx context.Context, campaignID string) ([]task.Task, error)

	// ClaimNextTask atomically transitions the next eligible pending task
	// to claimed and attaches a lease. Eligibility: task type within the
	// capability set and any backoff delay elapsed. Ordering: highest
	// priority band first, then oldest created_at, ties broken by ID.
	// Returns domain.ErrNotFound when no task is eligible. Safe under
	// concurrent callers: no two callers receive the same task.
	ClaimNextTask(ctx context.Context, workerID string, capabilities []task.Type, lease time.Duration) (*task.Task, error)

	// AttachResult records a worker's result for the task at the given
	// version, superseding any prior result. Returns domain.ErrConflict
	// when the version has moved (e.g. the lease was reaped meanwhile).
	AttachResult(ctx context.Context, taskID string, version int, res *task.Result) (*task.Result, error)

	// GetActiveResult returns the single non-superseded result for a task.
	GetActiveResult(ctx context.Context, taskID string) (*task.Result, error)
	ListResults(ctx context.Context, taskID string) ([]task.Result, error)

	// Version-guarded transitions. Each returns domain.ErrConflict on a
	// version mismatch and domain.ErrNotFound for an unknown task.
	CommitTask(ctx context.Context, taskID string, version int) error
	RequeueTask(ctx context.Context, taskID string, version int, notBefore time.Time) error
	FailTask(ctx context.Context, taskID string, version int, cause string) error
	MarkAwaitingApproval(ctx context.Context, taskID string, version int) error
	// ReleaseTask returns a claimed task to pending without recording a
	// disposition (transient capability failure), with a retry delay.
	ReleaseTask(ctx context.Context, taskID string, version int, notBefore time.Time) error

	// ReapExpiredLeases returns expired claimed tasks to pending,
	// incrementing their retry count, and reports how many were reaped.
	ReapExpiredLeases(ctx context.Context, now time.Time) (int, error)

	// FailCampaignTasks fails every pending or awaiting-approval task of
	// a campaign with the given cause and returns the affected task IDs.
	FailCampaignTasks(ctx context.Context, campaignID, cause string) ([]string, error)

	// --- Approvals ---

	CreateApproval(ctx context.Context, a *approval.Approval) (*approval.Approval, error)
	GetApproval(ctx context.Context, id string) (*approval.Approval, error)
	ListPendingApprovals(ctx context.Context, f approval.Filter) ([]approval.Approval, error)
	// DecideApproval applies a decision exactly once. A second call on an
	// already-decided approval returns domain.ErrDecided.
	DecideApproval(ctx context.Context, id string, status approval.Status, decidedBy string, auto bool, feedback string) (*approval.Approval, error)
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]approval.Approval, error)

	// --- Agents ---

	RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
	UpdateAgentResources(ctx context.Context, id string, res agent.Resources) error
	UpdateAgentReputation(ctx context.Context, id string, score float64) error
	DeactivateAgent(ctx context.Context, id string) error

	// --- Campaigns ---

	CreateCampaign(ctx context.Context, goal string, agentIDs []string, plan campaign.Plan) (*campaign.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	ListCampaigns(ctx context.Context) ([]campaign.Campaign, error)
	// UpdateCampaignPlan persists plan mutations under optimistic
	// concurrency; domain.ErrConflict means reload and retry.
	UpdateCampaignPlan(ctx context.Context, id string, version int, plan campaign.Plan) error
	UpdateCampaignStatus(ctx context.Context, id string, status campaign.Status) error
}
