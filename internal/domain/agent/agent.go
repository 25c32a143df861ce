// Package agent defines the Agent domain entity: an autonomous unit of
// work capacity with an advertised capability set and resource snapshot.
package agent

import "time"

// Status represents an agent's operational state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusResearching Status = "researching"
	StatusGenerating  Status = "generating"
	StatusEngaging    Status = "engaging"
	StatusSleeping    Status = "sleeping"
	StatusError       Status = "error"
)

// ValidStatus reports whether s is a known operational status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusIdle, StatusResearching, StatusGenerating, StatusEngaging, StatusSleeping, StatusError:
		return true
	}
	return false
}

// Resources is a snapshot of an agent's runtime load. It is written only
// by the agent's own runtime and read by the presence service and the
// worker pool's admission check.
type Resources struct {
	CPUPercent     float64 `json:"cpu_usage_percent"`
	MemoryPercent  float64 `json:"memory_usage_percent"`
	QueueDepth     int     `json:"queue_depth"`
	MaxSlots       int     `json:"max_concurrent_tasks"`
	AvailableSlots int     `json:"available_slots"`
}

// Agent is an autonomous unit of work capacity. Agents are never deleted,
// only deactivated.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Persona      string    `json:"persona,omitempty"`
	Status       Status    `json:"status"`
	Capabilities []string  `json:"capabilities"`
	Resources    Resources `json:"resources"`
	Reputation   float64   `json:"reputation"` // 0-1
	Active       bool      `json:"active"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RegisterRequest holds the fields needed to register a new agent.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Persona      string   `json:"persona,omitempty"`
	Capabilities []string `json:"capabilities"`
	MaxSlots     int      `json:"max_concurrent_tasks"`
}
