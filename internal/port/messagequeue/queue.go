// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Responder sends a reply to a request/reply message.
type Responder func(data []byte) error

// RequestHandler processes a request/reply message; respond sends the answer.
type RequestHandler func(ctx context.Context, subject string, data []byte, respond Responder) error

// Queue is the port interface for publishing and subscribing to messages.
//
// Durable methods ride the persistent stream (at-least-once, acked).
// Ephemeral methods are fire-and-forget: presence traffic carries its own
// TTL and peers must treat anything stale as dead, so losing a message is
// equivalent to it expiring early.
type Queue interface {
	// Publish sends a message to the durable stream.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a durable handler for messages on the subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// PublishEphemeral sends a fire-and-forget message (no persistence).
	PublishEphemeral(subject string, data []byte) error

	// SubscribeEphemeral registers a non-durable handler.
	SubscribeEphemeral(subject string, handler Handler) (cancel func(), err error)

	// Request sends a request and waits for a single reply until the
	// context deadline expires.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	// SubscribeRequest registers a handler that may reply to requests.
	SubscribeRequest(subject string, handler RequestHandler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the subjects used by Chimera.
const (
	SubjectTaskCreated = "tasks.created" // Planner -> workers: new work exists
	SubjectTaskResult  = "tasks.result"  // workers -> Judge: result attached
	SubjectTaskFailed  = "tasks.failed"  // Judge -> Planner escalations

	SubjectPresenceStatus = "presence.status" // presence.status.{agentID}
	SubjectPresenceTrend  = "presence.trends" // shared trend publications
	SubjectCollabRequest  = "collab.request"  // collab.request.{agentID}
)

// PresenceSubject returns the status subject for one agent.
func PresenceSubject(agentID string) string {
	return SubjectPresenceStatus + "." + agentID
}

// PresenceWildcard matches all peers' status publications.
const PresenceWildcard = SubjectPresenceStatus + ".>"

// CollabSubject returns the collaboration request subject for one agent.
func CollabSubject(agentID string) string {
	return SubjectCollabRequest + "." + agentID
}
