package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/capability"
	"github.com/chimera-factory/chimera/internal/port/database"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
)

// WorkerPool claims pending tasks and executes them against the
// registered capability services. Concurrency is bounded by a weighted
// semaphore; claiming stops while the agent's own resource snapshot is
// above the admission thresholds.
type WorkerPool struct {
	store    database.Store
	queue    messagequeue.Queue
	registry *capability.Registry
	cfg      config.Worker
	agentID  string
	workerID string
	metrics  *otel.Metrics
}

// NewWorkerPool creates a worker pool for one agent instance.
func NewWorkerPool(store database.Store, queue messagequeue.Queue, registry *capability.Registry, cfg config.Worker, agentID, workerID string) *WorkerPool {
	return &WorkerPool{
		store:    store,
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		agentID:  agentID,
		workerID: workerID,
	}
}

// SetMetrics attaches metric instruments to the pool.
func (w *WorkerPool) SetMetrics(m *otel.Metrics) {
	w.metrics = m
}

// Run claims and executes tasks until the context is cancelled. It
// returns once all in-flight tasks have finished.
func (w *WorkerPool) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(w.cfg.PoolSize))

	slog.Info("worker pool started", "pool_size", w.cfg.PoolSize, "worker_id", w.workerID)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		if !w.admit(ctx) {
			sem.Release(1)
			if !sleepCtx(ctx, w.cfg.ClaimInterval) {
				break
			}
			continue
		}

		t, err := w.store.ClaimNextTask(ctx, w.workerID, w.registry.Types(), w.cfg.LeaseTimeout)
		if err != nil {
			sem.Release(1)
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("claim failed", "error", err)
			}
			if !sleepCtx(ctx, w.cfg.ClaimInterval) {
				break
			}
			continue
		}

		if w.metrics != nil {
			w.metrics.TasksClaimed.Add(ctx, 1)
		}

		go func() {
			defer sem.Release(1)
			w.execute(ctx, t)
		}()
	}

	// Wait for in-flight tasks. Acquiring the full weight only succeeds
	// once every slot has been released.
	_ = sem.Acquire(context.Background(), int64(w.cfg.PoolSize))
	slog.Info("worker pool stopped")
}

// admit reports whether the agent's resource snapshot allows claiming
// more work.
func (w *WorkerPool) admit(ctx context.Context) bool {
	if w.agentID == "" {
		return true
	}
	a, err := w.store.GetAgent(ctx, w.agentID)
	if err != nil {
		slog.Warn("admission check failed, claiming anyway", "error", err)
		return true
	}
	if a.Resources.CPUPercent > w.cfg.AdmissionCPUMax || a.Resources.MemoryPercent > w.cfg.AdmissionMemMax {
		slog.Debug("admission check rejected claim",
			"cpu", a.Resources.CPUPercent, "memory", a.Resources.MemoryPercent)
		return false
	}
	return true
}

// execute runs one claimed task through its capability and records the
// outcome. Transient failures release the task without burning a retry;
// permanent failures count against the retry budget.
func (w *WorkerPool) execute(ctx context.Context, t *task.Task) {
	ctx, span := otel.StartTaskSpan(ctx, t.ID, string(t.Type), t.CampaignID)
	defer span.End()
	start := time.Now()

	log := slog.With("task_id", t.ID, "task_type", t.Type, "worker_id", w.workerID)

	inv, err := w.registry.Get(t.Type)
	if err != nil {
		// Claim eligibility is capability-filtered, so this is a wiring bug.
		log.Error("no invoker for claimed task", "error", err)
		w.release(ctx, t, w.cfg.TransientBackoff)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CapabilityTimeout)
	res, err := inv.Invoke(callCtx, t)
	cancel()

	if w.metrics != nil {
		w.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
	}

	if err != nil {
		if capability.IsTransient(err) {
			log.Warn("transient capability failure, releasing task", "error", err)
			w.release(ctx, t, w.cfg.TransientBackoff)
			return
		}
		log.Error("capability failure", "error", err)
		w.failAttempt(ctx, t)
		return
	}

	stored, err := w.store.AttachResult(ctx, t.ID, t.Version, res)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// The lease was reaped while we worked; the task has moved on.
			log.Warn("result arrived after lease expiry, dropping")
			return
		}
		log.Error("attach result failed", "error", err)
		return
	}

	if w.metrics != nil {
		w.metrics.ResultConfidence.Record(ctx, stored.Confidence)
	}

	data, err := json.Marshal(map[string]any{"task_id": t.ID, "result_id": stored.ID})
	if err != nil {
		log.Error("marshal result event failed", "error", err)
		return
	}
	if err := w.queue.Publish(ctx, messagequeue.SubjectTaskResult, data); err != nil {
		log.Error("publish result event failed", "error", err)
	}
}

// release returns the task to pending with a short delay and no retry
// charge.
func (w *WorkerPool) release(ctx context.Context, t *task.Task, delay time.Duration) {
	if err := w.store.ReleaseTask(ctx, t.ID, t.Version, time.Now().Add(delay)); err != nil {
		slog.Error("release task failed", "task_id", t.ID, "error", err)
	}
}

// failAttempt charges a permanent capability failure against the retry
// budget, failing the task once the budget is spent.
func (w *WorkerPool) failAttempt(ctx context.Context, t *task.Task) {
	if t.RetryCount+1 >= t.MaxRetries {
		if err := w.store.FailTask(ctx, t.ID, t.Version, task.CauseRetriesExhausted); err != nil {
			slog.Error("fail task failed", "task_id", t.ID, "error", err)
			return
		}
		if w.metrics != nil {
			w.metrics.TasksFailed.Add(ctx, 1)
		}
		w.publishFailed(ctx, t.ID, task.CauseRetriesExhausted)
		return
	}
	if err := w.store.RequeueTask(ctx, t.ID, t.Version, time.Now().Add(w.cfg.TransientBackoff)); err != nil {
		slog.Error("requeue task failed", "task_id", t.ID, "error", err)
	}
}

func (w *WorkerPool) publishFailed(ctx context.Context, taskID, cause string) {
	data, err := json.Marshal(map[string]string{"task_id": taskID, "cause": cause})
	if err != nil {
		return
	}
	if err := w.queue.Publish(ctx, messagequeue.SubjectTaskFailed, data); err != nil {
		slog.Error("publish failed event failed", "task_id", taskID, "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is done; it reports whether the
// context is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
