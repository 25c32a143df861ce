package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/task"
)

const taskColumns = `id, COALESCE(campaign_id::text, ''), agent_id, task_type, priority, status, context,
	COALESCE(worker_id, ''), lease_expires_at, not_before, retry_count, max_retries,
	COALESCE(failure_cause, ''), version, created_at, updated_at`

// priorityRank maps priority bands to claim-ordering ranks in SQL,
// mirroring task.Priority.Rank.
const priorityRank = `CASE priority
	WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (campaign_id, agent_id, task_type, priority, context, max_retries)
		 VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5, $6)
		 RETURNING `+taskColumns,
		req.CampaignID, req.AgentID, string(req.Type), string(req.Priority), req.Context, req.MaxRetries)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksByCampaign(ctx context.Context, campaignID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE campaign_id = $1 ORDER BY created_at ASC, id ASC`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by campaign: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimNextTask picks the highest-ranked eligible pending task and
// transitions it to claimed in a single statement. SKIP LOCKED makes
// concurrent claimers pass over rows another transaction is claiming,
// so no task is handed out twice.
func (s *Store) ClaimNextTask(ctx context.Context, workerID string, capabilities []task.Type, lease time.Duration) (*task.Task, error) {
	types := make([]string, len(capabilities))
	for i, c := range capabilities {
		types[i] = string(c)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status = 'claimed', worker_id = $1, lease_expires_at = $2,
		        version = version + 1, updated_at = now()
		 WHERE id = (
		   SELECT id FROM tasks
		   WHERE status = 'pending'
		     AND task_type = ANY($3)
		     AND (not_before IS NULL OR not_before <= now())
		   ORDER BY `+priorityRank+` DESC, created_at ASC, id ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		workerID, time.Now().Add(lease), types)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("claim next task: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return &t, nil
}

// AttachResult records a result for the task at the given version.
// Any prior active result is superseded in the same transaction, and the
// task's version is bumped so the result stays tied to the claim that
// produced it: a reap or reclaim after attach leaves the stored
// task_version behind the task's.
func (s *Store) AttachResult(ctx context.Context, taskID string, version int, res *task.Result) (*task.Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var current int
	err = tx.QueryRow(ctx, `SELECT version FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&current)
	if err != nil {
		return nil, notFoundWrap(err, "attach result: lock task %s", taskID)
	}
	if current != version {
		return nil, fmt.Errorf("attach result: task %s at version %d, expected %d: %w",
			taskID, current, version, domain.ErrConflict)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE results SET superseded = true WHERE task_id = $1 AND NOT superseded`, taskID); err != nil {
		return nil, fmt.Errorf("supersede prior results: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET version = version + 1, updated_at = now() WHERE id = $1`, taskID); err != nil {
		return nil, fmt.Errorf("attach result: bump task version: %w", err)
	}

	out := *res
	out.TaskID = taskID
	out.TaskVersion = version + 1
	err = tx.QueryRow(ctx,
		`INSERT INTO results (task_id, task_version, payload, confidence, sensitive_categories)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, superseded, created_at`,
		taskID, out.TaskVersion, res.Payload, res.Confidence, pgTextArray(res.SensitiveCategories),
	).Scan(&out.ID, &out.Superseded, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit result: %w", err)
	}
	return &out, nil
}

func (s *Store) GetActiveResult(ctx context.Context, taskID string) (*task.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_id, task_version, payload, confidence, sensitive_categories, superseded, created_at
		 FROM results WHERE task_id = $1 AND NOT superseded`, taskID)

	r, err := scanResult(row)
	if err != nil {
		return nil, notFoundWrap(err, "get active result for task %s", taskID)
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, taskID string) ([]task.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, task_version, payload, confidence, sensitive_categories, superseded, created_at
		 FROM results WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []task.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Version-guarded transitions ---

func (s *Store) CommitTask(ctx context.Context, taskID string, version int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'committed', worker_id = NULL, lease_expires_at = NULL,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status IN ('claimed', 'awaiting_approval')`,
		taskID, version)
	if err != nil {
		return fmt.Errorf("commit task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.taskMissOrConflict(ctx, taskID, "commit task")
	}
	return nil
}

func (s *Store) RequeueTask(ctx context.Context, taskID string, version int, notBefore time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', worker_id = NULL, lease_expires_at = NULL,
		        not_before = $3, retry_count = retry_count + 1, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status = 'claimed'`,
		taskID, version, nullTime(notBefore))
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.taskMissOrConflict(ctx, taskID, "requeue task")
	}
	return nil
}

func (s *Store) FailTask(ctx context.Context, taskID string, version int, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', failure_cause = $3, worker_id = NULL, lease_expires_at = NULL,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status IN ('pending', 'claimed', 'awaiting_approval')`,
		taskID, version, cause)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.taskMissOrConflict(ctx, taskID, "fail task")
	}
	return nil
}

func (s *Store) MarkAwaitingApproval(ctx context.Context, taskID string, version int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'awaiting_approval', worker_id = NULL, lease_expires_at = NULL,
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status = 'claimed'`,
		taskID, version)
	if err != nil {
		return fmt.Errorf("mark awaiting approval %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.taskMissOrConflict(ctx, taskID, "mark awaiting approval")
	}
	return nil
}

// ReleaseTask returns a claimed task to pending without touching its
// retry count. Used for transient capability failures where the attempt
// should not count against the retry budget.
func (s *Store) ReleaseTask(ctx context.Context, taskID string, version int, notBefore time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', worker_id = NULL, lease_expires_at = NULL,
		        not_before = $3, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2 AND status = 'claimed'`,
		taskID, version, nullTime(notBefore))
	if err != nil {
		return fmt.Errorf("release task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.taskMissOrConflict(ctx, taskID, "release task")
	}
	return nil
}

// ReapExpiredLeases returns claimed tasks whose lease has expired to
// pending, counting the miss against the retry budget. Version bumps
// make any late write from the original worker a conflict.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending', worker_id = NULL, lease_expires_at = NULL,
		        retry_count = retry_count + 1, version = version + 1, updated_at = now()
		 WHERE status = 'claimed' AND lease_expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) FailCampaignTasks(ctx context.Context, campaignID, cause string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE tasks SET status = 'failed', failure_cause = $2, worker_id = NULL, lease_expires_at = NULL,
		        version = version + 1, updated_at = now()
		 WHERE campaign_id = $1 AND status IN ('pending', 'awaiting_approval')
		 RETURNING id`,
		campaignID, cause)
	if err != nil {
		return nil, fmt.Errorf("fail campaign tasks %s: %w", campaignID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// taskMissOrConflict distinguishes a stale version from a missing task
// after a zero-row guarded update.
func (s *Store) taskMissOrConflict(ctx context.Context, taskID, op string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("%s %s: %w", op, taskID, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", op, taskID, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, taskID, domain.ErrConflict)
}

// --- Scanners ---

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var lease, notBefore *time.Time
	err := row.Scan(&t.ID, &t.CampaignID, &t.AgentID, &t.Type, &t.Priority, &t.Status, &t.Context,
		&t.WorkerID, &lease, &notBefore, &t.RetryCount, &t.MaxRetries,
		&t.FailureCause, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if lease != nil {
		t.LeaseExpiresAt = *lease
	}
	if notBefore != nil {
		t.NotBefore = *notBefore
	}
	return t, nil
}

func scanResult(row scannable) (task.Result, error) {
	var r task.Result
	err := row.Scan(&r.ID, &r.TaskID, &r.TaskVersion, &r.Payload, &r.Confidence,
		&r.SensitiveCategories, &r.Superseded, &r.CreatedAt)
	return r, err
}
