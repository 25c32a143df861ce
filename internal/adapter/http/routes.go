package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Campaigns
		r.Post("/campaigns", h.CreateCampaign)
		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Post("/campaigns/{id}/cancel", h.CancelCampaign)
		r.Get("/campaigns/{id}/tasks", h.ListCampaignTasks)

		// Tasks
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/results", h.ListTaskResults)

		// Human review queue
		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decision", h.DecideApproval)

		// Agents
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Put("/agents/{id}/status", h.UpdateAgentStatus)
		r.Put("/agents/{id}/resources", h.UpdateAgentResources)
		r.Put("/agents/{id}/reputation", h.UpdateAgentReputation)
		r.Post("/agents/{id}/deactivate", h.DeactivateAgent)

		// Peer network
		r.Post("/presence/discover", h.DiscoverPeers)
		r.Post("/presence/collaborate", h.RequestCollaboration)
		r.Post("/presence/trends", h.ShareTrend)
		r.Get("/presence/peers", h.ListPeers)
	})
}

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(h *Handlers, serviceName, corsOrigin string, limiter *middleware.RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware(serviceName))
	r.Use(Logger)
	r.Use(CORS(corsOrigin))
	if limiter != nil {
		r.Use(limiter.Handler)
	}

	MountRoutes(r, h)
	return r
}
