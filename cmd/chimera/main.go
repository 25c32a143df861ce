package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chimera-factory/chimera/internal/adapter/contentapi"
	"github.com/chimera-factory/chimera/internal/adapter/engagementapi"
	chihttp "github.com/chimera-factory/chimera/internal/adapter/http"
	cfnats "github.com/chimera-factory/chimera/internal/adapter/nats"
	"github.com/chimera-factory/chimera/internal/adapter/otel"
	"github.com/chimera-factory/chimera/internal/adapter/postgres"
	"github.com/chimera-factory/chimera/internal/adapter/ristretto"
	"github.com/chimera-factory/chimera/internal/adapter/trendapi"
	"github.com/chimera-factory/chimera/internal/config"
	"github.com/chimera-factory/chimera/internal/domain/agent"
	"github.com/chimera-factory/chimera/internal/logger"
	"github.com/chimera-factory/chimera/internal/middleware"
	"github.com/chimera-factory/chimera/internal/port/capability"
	"github.com/chimera-factory/chimera/internal/port/messagequeue"
	"github.com/chimera-factory/chimera/internal/resilience"
	"github.com/chimera-factory/chimera/internal/service"
)

// trendCacheBytes bounds the in-process trend response cache.
const trendCacheBytes = 64 << 20

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLogger.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats_url", cfg.NATS.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain failed", "error", err)
		}
	}()

	trendCache, err := ristretto.New(trendCacheBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer trendCache.Close()

	// --- Capabilities ---

	registry := capability.NewRegistry()

	trend := trendapi.New(cfg.Capabilities.TrendURL, cfg.Worker.CapabilityTimeout, trendCache, cfg.Capabilities.TrendCacheTTL)
	trend.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	registry.Register(trend)

	content := contentapi.New(cfg.Capabilities.ContentURL, cfg.Worker.CapabilityTimeout)
	content.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	registry.Register(content)

	engagement := engagementapi.New(cfg.Capabilities.EngagementURL, cfg.Worker.CapabilityTimeout)
	engagement.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	registry.Register(engagement)

	// --- Services ---

	store := postgres.NewStore(pool)

	tasks := service.NewTaskService(store, queue, cfg.Worker, cfg.Judge.MaxRetries, metrics)
	agents := service.NewAgentService(store)
	judge := service.NewJudgeService(store, queue, cfg.Judge, cfg.Approval.Expiry)
	judge.SetMetrics(metrics)
	planner := service.NewPlannerService(store, tasks, cfg.Planner)
	judge.SetPlanner(planner)
	approvals := service.NewApprovalService(store, judge, cfg.Approval)

	agentID, err := ensureAgent(ctx, agents, cfg, registry)
	if err != nil {
		return fmt.Errorf("agent identity: %w", err)
	}
	workerID := agentID + "-" + uuid.NewString()[:8]

	presence := service.NewPresenceService(store, tasks, queue, trendCache, cfg.Presence, agentID)
	presence.SetMetrics(metrics)

	workers := service.NewWorkerPool(store, queue, registry, cfg.Worker, agentID, workerID)
	workers.SetMetrics(metrics)

	// The judge consumes result events from the durable stream. Events
	// are at-least-once; HandleResult tolerates replays.
	cancelResults, err := queue.Subscribe(ctx, messagequeue.SubjectTaskResult, func(ctx context.Context, _ string, data []byte) error {
		var ev struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal result event: %w", err)
		}
		return judge.HandleResult(ctx, ev.TaskID)
	})
	if err != nil {
		return fmt.Errorf("result subscriber: %w", err)
	}
	defer cancelResults()

	// --- Background loops ---

	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tasks.RunLeaseReaper(bgCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		approvals.RunExpirySweep(bgCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := presence.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("presence stopped", "error", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		workers.Run(bgCtx)
	}()

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &chihttp.Handlers{
		Planner:   planner,
		Tasks:     tasks,
		Agents:    agents,
		Approvals: approvals,
		Presence:  presence,
		Queue:     queue,
		DB:        pool,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           chihttp.NewRouter(handlers, cfg.Logging.Service, cfg.Server.CORSOrigin, limiter),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr, "agent_id", agentID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	cancelBg()
	wg.Wait()
	return nil
}

// ensureAgent resolves this instance's agent identity: a configured ID
// must already exist, otherwise a fresh agent is registered with the
// capability set the local registry can serve.
func ensureAgent(ctx context.Context, agents *service.AgentService, cfg *config.Config, registry *capability.Registry) (string, error) {
	if cfg.Agent.ID != "" {
		if _, err := agents.Get(ctx, cfg.Agent.ID); err != nil {
			return "", fmt.Errorf("configured agent %s: %w", cfg.Agent.ID, err)
		}
		return cfg.Agent.ID, nil
	}

	types := registry.Types()
	capabilities := make([]string, len(types))
	for i, t := range types {
		capabilities[i] = string(t)
	}

	a, err := agents.Register(ctx, agent.RegisterRequest{
		Name:         cfg.Agent.Name,
		Persona:      cfg.Agent.Persona,
		Capabilities: capabilities,
		MaxSlots:     cfg.Worker.PoolSize,
	})
	if err != nil {
		return "", err
	}
	slog.Info("agent registered", "agent_id", a.ID, "name", a.Name, "capabilities", capabilities)
	return a.ID, nil
}
