package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain"
	"github.com/chimera-factory/chimera/internal/domain/approval"
	"github.com/chimera-factory/chimera/internal/port/database"
)

// ApprovalService fronts the human review queue. Task transitions that
// follow a decision belong to the judge; this service owns listing,
// decision intake, and the expiry sweep.
type ApprovalService struct {
	store database.Store
	judge *JudgeService
	cfg   config.Approval
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(store database.Store, judge *JudgeService, cfg config.Approval) *ApprovalService {
	return &ApprovalService{store: store, judge: judge, cfg: cfg}
}

// Get returns an approval by ID.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Approval, error) {
	return s.store.GetApproval(ctx, id)
}

// ListPending returns pending approvals matching the filter, most
// urgent first.
func (s *ApprovalService) ListPending(ctx context.Context, f approval.Filter) ([]approval.Approval, error) {
	return s.store.ListPendingApprovals(ctx, f)
}

// Decide applies a reviewer's verdict. A second decision on the same
// approval returns domain.ErrDecided.
func (s *ApprovalService) Decide(ctx context.Context, id string, d approval.Decision) error {
	if d.DecidedBy == "" {
		return fmt.Errorf("%w: decided_by is required", domain.ErrValidation)
	}

	a, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return err
	}

	return s.judge.ResolveApproval(ctx, a, d.Approve, d.DecidedBy, false, d.Feedback)
}

// RunExpirySweep resolves overdue approvals with the configured default
// disposition until the context is cancelled. Sweep decisions carry the
// auto flag and the sweep's decider identity so reviewers can tell them
// from human decisions.
func (s *ApprovalService) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("approval expiry sweep started",
		"interval", s.cfg.SweepInterval, "on_expiry", s.cfg.OnExpiry)
	for {
		select {
		case <-ctx.Done():
			slog.Info("approval expiry sweep stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *ApprovalService) sweepOnce(ctx context.Context) {
	expired, err := s.store.ListExpiredApprovals(ctx, time.Now())
	if err != nil {
		slog.Error("list expired approvals failed", "error", err)
		return
	}

	approve := s.cfg.OnExpiry == "approve"
	for i := range expired {
		a := &expired[i]
		err := s.judge.ResolveApproval(ctx, a, approve, approval.DeciderExpirySweep, true, "approval expired")
		if err != nil {
			if errors.Is(err, domain.ErrDecided) {
				// A human decided between the list and the sweep.
				continue
			}
			slog.Error("expiry resolution failed", "approval_id", a.ID, "error", err)
			continue
		}
		slog.Info("approval expired", "approval_id", a.ID, "task_id", a.TaskID, "approved", approve)
	}
}
