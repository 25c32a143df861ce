// Package approval defines the human-review record for low-confidence results.
package approval

import (
	"encoding/json"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/task"
)

// Type distinguishes what is being reviewed.
type Type string

const (
	TypePlan    Type = "plan"
	TypeContent Type = "content"
)

// Status represents the lifecycle state of an approval.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
)

// DeciderExpirySweep is recorded as the decider identity when the
// expiry sweep, not a human, resolves an approval.
const DeciderExpirySweep = "expiry-sweep"

// Approval is created by the Judge when the confidence policy returns
// "queue for review". It receives exactly one decision: from a human,
// or from the expiry sweep's configured default disposition.
type Approval struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	Type          Type            `json:"approval_type"`
	Status        Status          `json:"status"`
	Priority      task.Priority   `json:"priority"`
	Confidence    float64         `json:"confidence"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DecidedAt     time.Time       `json:"decided_at,omitzero"`
	DecidedBy     string          `json:"decided_by,omitempty"`
	Auto          bool            `json:"auto"` // true when resolved by the expiry sweep
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"requested_modifications,omitempty"`
}

// Decided reports whether the approval has received its decision.
func (a *Approval) Decided() bool {
	return a.Status != StatusPending
}

// Expired reports whether the approval is past its expiry at the given time.
func (a *Approval) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// TypeForTask maps a task type to the kind of review its artifacts need.
func TypeForTask(t task.Type) Type {
	if t == task.TypeTrendResearch {
		return TypePlan
	}
	return TypeContent
}

// Filter narrows ListPending results.
type Filter struct {
	Type     Type          `json:"approval_type,omitempty"`
	Priority task.Priority `json:"priority,omitempty"`
	Limit    int           `json:"limit,omitempty"`
}

// Decision is a reviewer's verdict on a pending approval.
type Decision struct {
	Approve       bool            `json:"approve"`
	DecidedBy     string          `json:"decided_by"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"requested_modifications,omitempty"`
}
