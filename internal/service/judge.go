package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
	"github.com/chimera-factory/chimera/internal/domain/policy"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/database"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
)

// PlanAdvancer receives task resolutions so the campaign graph can move.
type PlanAdvancer interface {
	OnTaskResolved(ctx context.Context, t *task.Task, outcome campaign.SpecOutcome) error
}

// JudgeService validates worker results against the confidence policy
// and is the sole writer of approval-related task transitions.
type JudgeService struct {
	store       database.Store
	queue       messagequeue.Queue
	cfg         config.Judge
	approvalTTL time.Duration
	planner     PlanAdvancer
	metrics     *otel.Metrics
}

// NewJudgeService creates a new JudgeService.
func NewJudgeService(store database.Store, queue messagequeue.Queue, cfg config.Judge, approvalTTL time.Duration) *JudgeService {
	return &JudgeService{store: store, queue: queue, cfg: cfg, approvalTTL: approvalTTL}
}

// SetPlanner wires in the planner after construction (the planner also
// depends on the judge-owned subjects, so one side is set late).
func (s *JudgeService) SetPlanner(p PlanAdvancer) {
	s.planner = p
}

// SetMetrics attaches metric instruments.
func (s *JudgeService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// HandleResult validates the active result of a task and dispatches it
// per the confidence policy. Safe to call more than once for the same
// event: a task that already moved on produces a logged no-op.
func (s *JudgeService) HandleResult(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("judge: load task: %w", err)
	}

	log := slog.With("task_id", t.ID, "task_type", t.Type)

	if t.Status != task.StatusClaimed {
		// Reaped, already judged, or cancelled while the event was in flight.
		log.Debug("skipping result for task no longer claimed", "status", t.Status)
		return nil
	}

	// Collaboration tasks have no campaign to check against.
	if t.CampaignID != "" {
		c, err := s.store.GetCampaign(ctx, t.CampaignID)
		if err != nil {
			return fmt.Errorf("judge: load campaign: %w", err)
		}
		if c.Status == campaign.StatusCancelled {
			// The result of a cancelled campaign is discarded, never committed.
			log.Info("discarding result of cancelled campaign")
			return s.failTask(ctx, t, task.CauseCampaignCancelled, false)
		}
	}

	res, err := s.store.GetActiveResult(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("judge: load result: %w", err)
	}
	if res.TaskVersion != t.Version {
		// The claim that produced this result is dead: the lease was
		// reaped and another worker holds the task now. Judging it would
		// commit stale work over the live lease.
		log.Warn("dropping result from superseded claim",
			"result_version", res.TaskVersion, "task_version", t.Version)
		return nil
	}

	ctx, span := otel.StartValidateSpan(ctx, t.ID, res.Confidence)
	defer span.End()

	if !policy.ValidConfidence(res.Confidence) {
		log.Error("result confidence out of range", "confidence", res.Confidence)
		return s.failTask(ctx, t, task.CauseInvalidResult, true)
	}

	switch policy.Evaluate(res.Confidence, policy.AnySensitive(res.SensitiveCategories)) {
	case policy.DispositionAutoApprove:
		return s.autoApprove(ctx, t, res)
	case policy.DispositionQueue:
		return s.queueForReview(ctx, t, res)
	default:
		return s.reject(ctx, t, res)
	}
}

// autoApprove commits the task directly. No approval row is written:
// the queue is for results a human still has to look at, auto-approvals
// only leave a log line.
func (s *JudgeService) autoApprove(ctx context.Context, t *task.Task, res *task.Result) error {
	if err := s.store.CommitTask(ctx, t.ID, t.Version); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("commit lost version race, dropping", "task_id", t.ID)
			return nil
		}
		return fmt.Errorf("judge: commit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TasksCommitted.Add(ctx, 1)
	}
	slog.Info("task auto-approved", "task_id", t.ID, "confidence", res.Confidence)

	return s.notifyPlanner(ctx, t, campaign.OutcomeCommitted)
}

// queueForReview parks the task and creates a pending approval.
func (s *JudgeService) queueForReview(ctx context.Context, t *task.Task, res *task.Result) error {
	if err := s.store.MarkAwaitingApproval(ctx, t.ID, t.Version); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("queue-for-review lost version race, dropping", "task_id", t.ID)
			return nil
		}
		return fmt.Errorf("judge: mark awaiting approval: %w", err)
	}

	if _, err := s.store.CreateApproval(ctx, &approval.Approval{
		TaskID:     t.ID,
		Type:       approval.TypeForTask(t.Type),
		Priority:   t.Priority,
		Confidence: res.Confidence,
		ExpiresAt:  time.Now().Add(s.approvalTTL),
	}); err != nil {
		return fmt.Errorf("judge: create approval: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ApprovalsQueued.Add(ctx, 1)
	}
	slog.Info("task queued for review",
		"task_id", t.ID, "confidence", res.Confidence,
		"sensitive", policy.AnySensitive(res.SensitiveCategories))
	return nil
}

// reject sends the task back for retry with exponential backoff, or
// fails it when the budget is spent.
func (s *JudgeService) reject(ctx context.Context, t *task.Task, res *task.Result) error {
	if t.RetryCount+1 >= s.retryBudget(t) {
		slog.Warn("retries exhausted", "task_id", t.ID, "confidence", res.Confidence)
		return s.failTask(ctx, t, task.CauseRetriesExhausted, true)
	}

	delay := s.backoff(t.RetryCount)
	if err := s.store.RequeueTask(ctx, t.ID, t.Version, time.Now().Add(delay)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("requeue lost version race, dropping", "task_id", t.ID)
			return nil
		}
		return fmt.Errorf("judge: requeue: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TasksRequeued.Add(ctx, 1)
	}
	slog.Info("task requeued", "task_id", t.ID, "confidence", res.Confidence, "delay", delay)
	return nil
}

// ResolveApproval applies a decision to a pending approval and performs
// the matching task transition. Decisions are exactly-once: a second
// call returns domain.ErrDecided untouched.
func (s *JudgeService) ResolveApproval(ctx context.Context, a *approval.Approval, approve bool, decidedBy string, auto bool, feedback string) error {
	status := approval.StatusRejected
	switch {
	case approve && auto:
		status = approval.StatusAutoApproved
	case approve:
		status = approval.StatusApproved
	}

	decided, err := s.store.DecideApproval(ctx, a.ID, status, decidedBy, auto, feedback)
	if err != nil {
		return err
	}

	t, err := s.store.GetTask(ctx, decided.TaskID)
	if err != nil {
		return fmt.Errorf("judge: load approved task: %w", err)
	}
	if t.Status != task.StatusAwaitingApproval {
		slog.Warn("approval decided but task moved on", "task_id", t.ID, "status", t.Status)
		return nil
	}

	if approve {
		if err := s.store.CommitTask(ctx, t.ID, t.Version); err != nil {
			return fmt.Errorf("judge: commit approved task: %w", err)
		}
		if s.metrics != nil {
			s.metrics.TasksCommitted.Add(ctx, 1)
		}
		slog.Info("task committed via approval", "task_id", t.ID, "decided_by", decidedBy, "auto", auto)
		return s.notifyPlanner(ctx, t, campaign.OutcomeCommitted)
	}

	cause := task.CauseHumanRejected
	if auto {
		cause = task.CauseExpiryRejected
	}
	return s.failTask(ctx, t, cause, true)
}

// failTask fails the task, publishes the escalation event, and advances
// the plan. notify=false skips plan advancement (cancellation already
// settled the plan).
func (s *JudgeService) failTask(ctx context.Context, t *task.Task, cause string, notify bool) error {
	if err := s.store.FailTask(ctx, t.ID, t.Version, cause); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("fail lost version race, dropping", "task_id", t.ID)
			return nil
		}
		return fmt.Errorf("judge: fail task: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TasksFailed.Add(ctx, 1)
	}
	slog.Warn("task failed", "task_id", t.ID, "cause", cause)

	data, err := json.Marshal(map[string]string{"task_id": t.ID, "cause": cause})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectTaskFailed, data); err != nil {
			slog.Error("publish failed event failed", "task_id", t.ID, "error", err)
		}
	}

	if !notify {
		return nil
	}
	return s.notifyPlanner(ctx, t, campaign.OutcomeFailed)
}

func (s *JudgeService) notifyPlanner(ctx context.Context, t *task.Task, outcome campaign.SpecOutcome) error {
	if s.planner == nil {
		return nil
	}
	if err := s.planner.OnTaskResolved(ctx, t, outcome); err != nil {
		return fmt.Errorf("judge: advance plan: %w", err)
	}
	return nil
}

// retryBudget returns the task's retry budget, falling back to the
// configured default for tasks created without one.
func (s *JudgeService) retryBudget(t *task.Task) int {
	if t.MaxRetries > 0 {
		return t.MaxRetries
	}
	return s.cfg.MaxRetries
}

// backoff returns base*2^retry capped at the configured maximum.
func (s *JudgeService) backoff(retry int) time.Duration {
	d := time.Duration(float64(s.cfg.BackoffBase) * math.Pow(2, float64(retry)))
	if d > s.cfg.BackoffCap || d <= 0 {
		return s.cfg.BackoffCap
	}
	return d
}
