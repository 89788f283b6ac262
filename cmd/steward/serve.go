package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/database"
	"github.com/stewardhq/steward/internal/governance"
	"github.com/stewardhq/steward/internal/metrics"
	"github.com/stewardhq/steward/internal/notify"
	"github.com/stewardhq/steward/internal/presence"
	"github.com/stewardhq/steward/internal/state"
	"github.com/stewardhq/steward/internal/telemetry"
	"github.com/stewardhq/steward/internal/workflow"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the steward server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to steward.yaml")
	return cmd
}

func runServe(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTelemetry(ctx, "steward", cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("[Steward] Telemetry shutdown: %v", err)
			}
		}()
	}

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		agents       governance.AgentStore
		govStore     governance.Store
		audit        auditStore
		stateManager workflow.StateManager
	)
	if cfg.Database.DSN != "" {
		db, err := database.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		agents, govStore, audit, stateManager = db, db, db, db
		log.Printf("[Steward] Connected to PostgreSQL")
	} else {
		mem := governance.NewMemoryStore()
		agents, govStore, audit = mem, mem, mem
		stateManager = state.NewMemoryStore()
		log.Printf("[Steward] No database configured; using in-memory stores")
	}

	var cache governance.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache = governance.NewRedisCache(client)
		log.Printf("[Steward] Governance cache on Redis at %s", cfg.Redis.Addr)
	} else {
		cache = governance.NewMemoryCache(time.Minute)
	}

	tracker := presence.NewTracker()
	interceptor := governance.NewInterceptor(agents, govStore, cache, tracker, cfg.Governance.CacheTTL)

	hub := notify.NewHub()
	notifiers := []workflow.Notifier{hub}
	if cfg.NATS.URL != "" {
		bus, err := notify.NewNatsBus(notify.NatsConfig{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.Stream,
		})
		if err != nil {
			return err
		}
		defer bus.Close()
		notifiers = append(notifiers, bus)
	}

	actions := workflow.NewActionRegistry()
	engine := workflow.NewEngine(workflow.Config{
		MaxConcurrentSteps: cfg.Engine.MaxConcurrentSteps,
		DefaultStepTimeout: cfg.Engine.DefaultStepTimeout,
		Retry: workflow.RetryPolicy{
			MaxAttempts: cfg.Engine.Retry.MaxAttempts,
			BaseDelay:   cfg.Engine.Retry.BaseDelay,
			MaxDelay:    cfg.Engine.Retry.MaxDelay,
		},
	}, stateManager, notify.NewFanout(notifiers...), actions)

	library := workflow.NewLibrary()
	if cfg.Workflows.Dir != "" {
		if _, err := os.Stat(cfg.Workflows.Dir); err == nil {
			if err := library.LoadDir(cfg.Workflows.Dir); err != nil {
				return err
			}
			if cfg.Workflows.Watch {
				stopWatch, err := library.Watch(cfg.Workflows.Dir)
				if err != nil {
					return err
				}
				defer stopWatch()
			}
		} else {
			log.Printf("[Steward] Workflow directory %s not found; starting empty", cfg.Workflows.Dir)
		}
	}

	srv := newAPIServer(interceptor, engine, library, stateManager, tracker, hub, audit)

	apiServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.routes()}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("[Steward] API listening on %s", cfg.Server.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Printf("[Steward] Metrics listening on %s", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[Steward] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Steward] API shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Steward] Metrics shutdown: %v", err)
	}

	// let running executions settle before closing stores
	for len(engine.ActiveExecutions()) > 0 {
		select {
		case <-shutdownCtx.Done():
			log.Printf("[Steward] Shutdown timeout with %d execution(s) still active", len(engine.ActiveExecutions()))
			return nil
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil
}

// auditStore is the read side both governance store implementations carry
// beyond the interceptor's write interface.
type auditStore interface {
	ListBlockedTriggers(ctx context.Context, agentID string, unresolvedOnly bool) ([]*governance.BlockedTriggerContext, error)
	ListProposals(ctx context.Context, agentID string) ([]*governance.Proposal, error)
	ResolveBlockedTrigger(ctx context.Context, blockedID string) error
}

// apiServer exposes the trigger intake and execution endpoints.
type apiServer struct {
	interceptor *governance.Interceptor
	engine      *workflow.Engine
	library     *workflow.Library
	state       workflow.StateManager
	tracker     *presence.Tracker
	hub         *notify.Hub
	audit       auditStore
	prom        *metrics.Metrics
}

func newAPIServer(interceptor *governance.Interceptor, engine *workflow.Engine, library *workflow.Library, stateManager workflow.StateManager, tracker *presence.Tracker, hub *notify.Hub, audit auditStore) *apiServer {
	return &apiServer{
		interceptor: interceptor,
		engine:      engine,
		library:     library,
		state:       stateManager,
		tracker:     tracker,
		hub:         hub,
		audit:       audit,
		prom:        metrics.NewMetrics(),
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("POST /v1/triggers", s.handleTrigger)
	mux.HandleFunc("GET /v1/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /v1/executions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /v1/executions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /v1/executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/presence/{user}", s.handlePresence)
	mux.HandleFunc("GET /v1/audit/blocked", s.handleListBlocked)
	mux.HandleFunc("POST /v1/audit/blocked/{id}/resolve", s.handleResolveBlocked)
	mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	return mux
}

type triggerRequest struct {
	AgentID    string                 `json:"agent_id"`
	Source     string                 `json:"source"`
	UserID     string                 `json:"user_id,omitempty"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

type triggerResponse struct {
	Decision    *governance.RoutingDecision `json:"decision"`
	ExecutionID string                      `json:"execution_id,omitempty"`
}

// handleTrigger routes a trigger through governance and, when approved,
// starts the requested workflow.
func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	trigger := &governance.TriggerEvent{
		AgentID: req.AgentID,
		Source:  governance.TriggerSource(req.Source),
		Context: req.Context,
		UserID:  req.UserID,
	}

	decision, err := s.interceptor.InterceptTrigger(r.Context(), trigger)
	if err != nil {
		var notFound *governance.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.prom.RecordDecision(string(trigger.Source), string(decision.Decision), string(decision.AgentMaturity), !decision.Execute)

	resp := triggerResponse{Decision: decision}
	if decision.Execute && req.WorkflowID != "" {
		wf, ok := s.library.Get(req.WorkflowID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("workflow not found: %s", req.WorkflowID))
			return
		}
		exec, err := s.engine.Start(r.Context(), wf, req.Context)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.ExecutionID = exec.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	type workflowSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Steps       int    `json:"steps"`
	}
	workflows := s.library.List()
	out := make([]workflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, workflowSummary{ID: wf.ID, Name: wf.Name, Description: wf.Description, Steps: len(wf.Steps)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.state.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pausing"})
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	exec, err := s.state.GetExecution(r.Context(), executionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	wf, ok := s.library.Get(exec.WorkflowID)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("workflow %s no longer loaded", exec.WorkflowID))
		return
	}

	go func() {
		if _, err := s.engine.Resume(context.Background(), wf, executionID); err != nil {
			log.Printf("[Steward] Resume %s failed: %v", executionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *apiServer) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
	blocked, err := s.audit.ListBlockedTriggers(r.Context(), r.URL.Query().Get("agent_id"), unresolvedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if blocked == nil {
		blocked = []*governance.BlockedTriggerContext{}
	}
	writeJSON(w, http.StatusOK, blocked)
}

func (s *apiServer) handleResolveBlocked(w http.ResponseWriter, r *http.Request) {
	if err := s.audit.ResolveBlockedTrigger(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *apiServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.audit.ListProposals(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if proposals == nil {
		proposals = []*governance.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// handlePresence records user activity for supervision availability.
func (s *apiServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	s.tracker.RecordActivity(r.PathValue("user"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Steward] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
