// Package campaign defines the Campaign entity and its persisted task graph.
package campaign

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/task"
)

// Status represents the lifecycle state of a campaign.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	// StatusBlocked means the campaign cannot make progress without human
	// attention. A campaign whose tasks all failed goes blocked, never
	// completed.
	StatusBlocked Status = "blocked"
)

// IsTerminal returns true if the campaign is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Campaign is a goal plus the agents assigned to pursue it.
type Campaign struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Status    Status    `json:"status"`
	AgentIDs  []string  `json:"agent_ids"`
	Plan      Plan      `json:"plan"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskSpec is one node of a decomposed campaign goal. DependsOn holds
// indices into the plan's spec slice.
type TaskSpec struct {
	Type      task.Type       `json:"task_type"`
	Priority  task.Priority   `json:"priority"`
	Context   json.RawMessage `json:"context,omitempty"`
	DependsOn []int           `json:"depends_on,omitempty"`
}

// SpecOutcome records how a spec's task resolved.
type SpecOutcome string

const (
	OutcomeNone      SpecOutcome = ""
	OutcomeCommitted SpecOutcome = "committed"
	OutcomeFailed    SpecOutcome = "failed"
	// OutcomeBlocked marks specs downstream of a permanently failed branch.
	OutcomeBlocked SpecOutcome = "blocked"
)

// SpecState tracks one spec's binding to a created task and its outcome.
type SpecState struct {
	Spec    TaskSpec    `json:"spec"`
	TaskID  string      `json:"task_id,omitempty"`
	Outcome SpecOutcome `json:"outcome,omitempty"`
}

// Plan is the persisted task graph for a campaign. The Planner mutates it
// under optimistic concurrency as tasks resolve, tolerating out-of-order
// resolution of parallel branches.
type Plan struct {
	Specs []SpecState `json:"specs"`
}

// Ready returns the indices of specs whose dependencies have all
// committed and which have not yet been bound to a task.
func (p *Plan) Ready() []int {
	var ready []int
	for i := range p.Specs {
		st := &p.Specs[i]
		if st.TaskID != "" || st.Outcome != OutcomeNone {
			continue
		}
		ok := true
		for _, dep := range st.Spec.DependsOn {
			if dep < 0 || dep >= len(p.Specs) || p.Specs[dep].Outcome != OutcomeCommitted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, i)
		}
	}
	return ready
}

// SpecByTaskID returns the index of the spec bound to the given task,
// or -1 if no spec is bound to it.
func (p *Plan) SpecByTaskID(taskID string) int {
	for i := range p.Specs {
		if p.Specs[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

// BlockDescendants marks every unresolved spec reachable from index root
// as blocked, and returns how many were marked.
func (p *Plan) BlockDescendants(root int) int {
	blocked := 0
	// Transitive closure over DependsOn edges. The graph is small enough
	// that repeated passes until fixpoint are fine.
	affected := make([]bool, len(p.Specs))
	affected[root] = true
	for changed := true; changed; {
		changed = false
		for i := range p.Specs {
			if affected[i] {
				continue
			}
			for _, dep := range p.Specs[i].Spec.DependsOn {
				if dep >= 0 && dep < len(p.Specs) && affected[dep] {
					affected[i] = true
					changed = true
					break
				}
			}
		}
	}
	for i := range p.Specs {
		if i == root || !affected[i] {
			continue
		}
		if p.Specs[i].Outcome == OutcomeNone && p.Specs[i].TaskID == "" {
			p.Specs[i].Outcome = OutcomeBlocked
			blocked++
		}
	}
	return blocked
}

// BlockUnstarted marks every spec not yet bound to a task and not yet
// resolved as blocked, and returns how many were marked. In-flight tasks
// are untouched and still resolve on their own.
func (p *Plan) BlockUnstarted() int {
	blocked := 0
	for i := range p.Specs {
		if p.Specs[i].Outcome == OutcomeNone && p.Specs[i].TaskID == "" {
			p.Specs[i].Outcome = OutcomeBlocked
			blocked++
		}
	}
	return blocked
}

// Settled reports whether every spec has resolved one way or another.
func (p *Plan) Settled() bool {
	for i := range p.Specs {
		if p.Specs[i].Outcome == OutcomeNone {
			return false
		}
	}
	return true
}

// AllCommitted reports whether every spec committed.
func (p *Plan) AllCommitted() bool {
	for i := range p.Specs {
		if p.Specs[i].Outcome != OutcomeCommitted {
			return false
		}
	}
	return true
}

// CreateRequest holds the fields needed to create a campaign.
type CreateRequest struct {
	Goal     string   `json:"goal"`
	AgentIDs []string `json:"agent_ids"`
}

// Validate checks that the create request is well-formed.
func (r *CreateRequest) Validate() error {
	if r.Goal == "" {
		return errors.New("goal is required")
	}
	if len(r.AgentIDs) == 0 {
		return errors.New("at least one agent is required")
	}
	return nil
}
