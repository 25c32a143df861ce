package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	campaignIDKey contextKey = "campaign_id"
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCampaignID returns a new context carrying the campaign being worked on.
func WithCampaignID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, campaignIDKey, id)
}

// CampaignID extracts the campaign ID from the context, if any.
func CampaignID(ctx context.Context) string {
	id, _ := ctx.Value(campaignIDKey).(string)
	return id
}
