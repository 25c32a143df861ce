// Package presence defines the payloads agents exchange on the peer
// network: status publications with explicit TTL expiry, discovery
// queries, and collaboration requests.
package presence

import (
	"encoding/json"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/domain/campaign"
)

// Availability is derived from the resource snapshot, never stored.
type Availability string

const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

// Derivation thresholds (percent).
const (
	busyThreshold        = 80
	unavailableThreshold = 95
)

// DeriveAvailability maps a resource snapshot to an availability.
// CPU or memory above 95% means unavailable; above 80%, or a queue at
// the concurrency ceiling, means busy; otherwise available.
func DeriveAvailability(res agent.Resources, ceiling int) Availability {
	if res.CPUPercent > unavailableThreshold || res.MemoryPercent > unavailableThreshold {
		return Unavailable
	}
	if res.CPUPercent > busyThreshold || res.MemoryPercent > busyThreshold {
		return Busy
	}
	if ceiling > 0 && res.QueueDepth >= ceiling {
		return Busy
	}
	return Available
}

// Reputation summarizes an agent's collaboration track record.
type Reputation struct {
	Score               float64 `json:"score"` // 0-1
	TotalCollaborations int     `json:"total_collaborations"`
	SuccessRate         float64 `json:"success_rate,omitempty"`
}

// StatusPublication is one agent's published presence. Heartbeats carry
// only status and availability; the full push every few minutes adds
// capabilities, resources, and reputation. ExpiresAt is the explicit
// TTL boundary: readers must treat anything past it as stale.
type StatusPublication struct {
	AgentID      string           `json:"agent_id"`
	AgentName    string           `json:"agent_name"`
	Status       agent.Status     `json:"status"`
	Availability Availability     `json:"availability"`
	Capabilities []string         `json:"capabilities,omitempty"`
	Resources    *agent.Resources `json:"resources,omitempty"`
	Reputation   *Reputation      `json:"reputation,omitempty"`
	Full         bool             `json:"full"`
	PublishedAt  time.Time        `json:"published_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// Stale reports whether the publication's TTL has lapsed at the given time.
func (s *StatusPublication) Stale(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// DiscoveryQuery filters peers during discovery.
type DiscoveryQuery struct {
	Capabilities  []string     `json:"capabilities,omitempty"`
	Status        agent.Status `json:"status,omitempty"`
	MinReputation float64      `json:"min_reputation,omitempty"`
	Limit         int          `json:"limit,omitempty"`
}

// Matches reports whether a publication satisfies the query filters.
// Staleness is checked separately by the caller.
func (q *DiscoveryQuery) Matches(s *StatusPublication) bool {
	if q.Status != "" && s.Status != q.Status {
		return false
	}
	if q.MinReputation > 0 {
		if s.Reputation == nil || s.Reputation.Score < q.MinReputation {
			return false
		}
	}
	for _, want := range q.Capabilities {
		found := false
		for _, have := range s.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CollaborationRequest asks a peer to take on a task spec.
type CollaborationRequest struct {
	RequestID     string            `json:"request_id"`
	FromAgentID   string            `json:"from_agent_id"`
	TargetAgentID string            `json:"target_agent_id"`
	Spec          campaign.TaskSpec `json:"spec"`
	Deadline      time.Time         `json:"deadline"`
}

// CollaborationResponse is the peer's asynchronous accept/reject answer.
// A deadline exceeded without a response must be treated as rejected.
type CollaborationResponse struct {
	RequestID string `json:"request_id"`
	Accepted  bool   `json:"accepted"`
	TaskID    string `json:"task_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TrendShare publishes a notable trend to the peer network.
type TrendShare struct {
	AgentID   string          `json:"agent_id"`
	Title     string          `json:"title"`
	Source    string          `json:"source"`
	Relevance float64         `json:"relevance_score"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SharedAt  time.Time       `json:"shared_at"`
}
