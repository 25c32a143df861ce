package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/approval"
)

const approvalColumns = `id, task_id, approval_type, status, priority, confidence,
	submitted_at, expires_at, decided_at, COALESCE(decided_by, ''), auto,
	COALESCE(feedback, ''), requested_modifications`

func (s *Store) CreateApproval(ctx context.Context, a *approval.Approval) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO approvals (task_id, approval_type, priority, confidence, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+approvalColumns,
		a.TaskID, string(a.Type), string(a.Priority), a.Confidence, a.ExpiresAt)

	out, err := scanApproval(row)
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return &out, nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)

	a, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &a, nil
}

func (s *Store) ListPendingApprovals(ctx context.Context, f approval.Filter) ([]approval.Approval, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	// Empty filter fields match everything.
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE status = 'pending'
		   AND ($1 = '' OR approval_type = $1)
		   AND ($2 = '' OR priority = $2)
		 ORDER BY `+approvalPriorityRank+` DESC, submitted_at ASC
		 LIMIT $3`,
		string(f.Type), string(f.Priority), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

const approvalPriorityRank = `CASE priority
	WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

// DecideApproval applies a decision exactly once. The status guard in
// the UPDATE makes a second decision lose the race regardless of which
// connection got there first.
func (s *Store) DecideApproval(ctx context.Context, id string, status approval.Status, decidedBy string, auto bool, feedback string) (*approval.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE approvals SET status = $2, decided_by = $3, auto = $4, feedback = $5, decided_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, string(status), decidedBy, auto, feedback)

	a, err := scanApproval(row)
	if err == nil {
		return &a, nil
	}

	// Zero rows: either the approval does not exist or it was already
	// decided. Look again to report the right error.
	existing, getErr := s.GetApproval(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Decided() {
		return nil, fmt.Errorf("decide approval %s: %w", id, domain.ErrDecided)
	}
	return nil, fmt.Errorf("decide approval %s: %w", id, err)
}

func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time) ([]approval.Approval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals
		 WHERE status = 'pending' AND expires_at <= $1
		 ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	defer rows.Close()

	var approvals []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func scanApproval(row scannable) (approval.Approval, error) {
	var a approval.Approval
	var decidedAt *time.Time
	err := row.Scan(&a.ID, &a.TaskID, &a.Type, &a.Status, &a.Priority, &a.Confidence,
		&a.SubmittedAt, &a.ExpiresAt, &decidedAt, &a.DecidedBy, &a.Auto,
		&a.Feedback, &a.Modifications)
	if err != nil {
		return a, err
	}
	if decidedAt != nil {
		a.DecidedAt = *decidedAt
	}
	return a, nil
}
