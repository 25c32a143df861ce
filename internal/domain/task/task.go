// Package task defines the Task domain entity and its state machine.
package task

import (
	"encoding/json"
	"time"
)

// Type identifies which external capability a task invokes.
type Type string

const (
	TypeTrendResearch Type = "trend_research"
	TypeContentGen    Type = "content_generation"
	TypeEngagement    Type = "engagement_management"
	TypeCollaboration Type = "collaboration"
)

// ValidType reports whether t is a known task type.
func ValidType(t Type) bool {
	switch t {
	case TypeTrendResearch, TypeContentGen, TypeEngagement, TypeCollaboration:
		return true
	}
	return false
}

// Priority orders tasks across bands: urgent always preempts high, and so on.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric claim-ordering rank of a priority band.
// Higher rank is claimed first. Unknown priorities rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Status represents the current state of a task.
type Status string

const (
	StatusPending          Status = "pending"
	StatusClaimed          Status = "claimed"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCommitted        Status = "committed"
	StatusFailed           Status = "failed"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal
// state-machine edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		// pending -> failed covers campaign cancellation.
		return next == StatusClaimed || next == StatusFailed
	case StatusClaimed:
		return next == StatusPending || next == StatusCommitted ||
			next == StatusFailed || next == StatusAwaitingApproval
	case StatusAwaitingApproval:
		return next == StatusCommitted || next == StatusFailed
	}
	return false
}

// Failure causes recorded on failed tasks.
const (
	CauseCampaignCancelled = "campaign_cancelled"
	CauseRetriesExhausted  = "retries_exhausted"
	CauseInvalidResult     = "invalid_result"
	CauseHumanRejected     = "human_rejected"
	CauseExpiryRejected    = "approval_expired"
)

// Task is the unit the Planner emits and the Worker Pool executes.
type Task struct {
	ID             string          `json:"id"`
	CampaignID     string          `json:"campaign_id"`
	AgentID        string          `json:"agent_id"`
	Type           Type            `json:"task_type"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	Context        json.RawMessage `json:"context,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	LeaseExpiresAt time.Time       `json:"lease_expires_at,omitzero"`
	NotBefore      time.Time       `json:"not_before,omitzero"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	FailureCause   string          `json:"failure_cause,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Result holds a worker's output for one attempt at a task. Results are
// immutable once attached; a retry supersedes the prior row instead of
// mutating it.
type Result struct {
	ID                  string          `json:"id"`
	TaskID              string          `json:"task_id"`
	TaskVersion         int             `json:"task_version"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Confidence          float64         `json:"confidence"`
	SensitiveCategories []string        `json:"sensitive_categories,omitempty"`
	Superseded          bool            `json:"superseded"`
	CreatedAt           time.Time       `json:"created_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	CampaignID string          `json:"campaign_id"`
	AgentID    string          `json:"agent_id"`
	Type       Type            `json:"task_type"`
	Priority   Priority        `json:"priority"`
	Context    json.RawMessage `json:"context,omitempty"`
	MaxRetries int             `json:"max_retries"`
}
