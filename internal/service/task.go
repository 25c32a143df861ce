// Package service implements the orchestration core: planning, claiming,
// validation, human review, and peer presence.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/database"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
)

// TaskService handles task intake, lookups, and the lease reaper.
type TaskService struct {
	store   database.Store
	queue   messagequeue.Queue
	cfg     config.Worker
	retries int
	metrics *otel.Metrics
}

// NewTaskService creates a new TaskService. retries is the default retry
// budget stamped on tasks created without one.
func NewTaskService(store database.Store, queue messagequeue.Queue, cfg config.Worker, retries int, metrics *otel.Metrics) *TaskService {
	return &TaskService{store: store, queue: queue, cfg: cfg, retries: retries, metrics: metrics}
}

// Get returns a task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListByCampaign returns all tasks of a campaign.
func (s *TaskService) ListByCampaign(ctx context.Context, campaignID string) ([]task.Task, error) {
	return s.store.ListTasksByCampaign(ctx, campaignID)
}

// Results returns every recorded result for a task, superseded included.
func (s *TaskService) Results(ctx context.Context, taskID string) ([]task.Result, error) {
	return s.store.ListResults(ctx, taskID)
}

// Create persists a task and announces it to workers.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if !task.ValidType(req.Type) {
		return nil, fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, req.Type)
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = s.retries
	}

	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return t, fmt.Errorf("marshal task for queue: %w", err)
	}

	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskCreated, data); err != nil {
		// Task is saved; workers will pick it up on their next poll.
		slog.Error("failed to publish task created", "task_id", t.ID, "error", err)
	}

	return t, nil
}

// RunLeaseReaper sweeps expired leases until the context is cancelled.
// Reaped tasks return to pending with their retry count incremented; the
// version bump turns any late write from the original worker into a
// conflict.
func (s *TaskService) RunLeaseReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	slog.Info("lease reaper started", "interval", s.cfg.ReapInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("lease reaper stopped")
			return
		case <-ticker.C:
			n, err := s.store.ReapExpiredLeases(ctx, time.Now())
			if err != nil {
				slog.Error("lease reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("reaped expired leases", "count", n)
				if s.metrics != nil {
					s.metrics.LeasesReaped.Add(ctx, int64(n))
				}
			}
		}
	}
}
