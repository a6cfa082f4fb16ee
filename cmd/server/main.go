package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/liamcoop/automation/actions"
	"github.com/liamcoop/automation/engine"
	"github.com/liamcoop/automation/internal/config"
	"github.com/liamcoop/automation/internal/logger"
	"github.com/liamcoop/automation/parser"
	"github.com/liamcoop/automation/store"
)

type Server struct {
	db      *sql.DB
	engine  *engine.Engine
	rules   store.RuleStore
	schemas store.SchemaStore
	logs    store.LogStore
	router  *chi.Mux
}

func NewServer(cfg *config.Config) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ruleStore := store.NewPostgresRuleStore(db)
	schemaStore := store.NewPostgresSchemaStore(db)
	logStore := store.NewPostgresLogStore(db)

	var dedup engine.Deduplicator
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		dedup = engine.NewRedisDeduplicator(client, cfg.DedupTTL)
		logger.Info("using redis deduplicator")
	}

	eng, err := engine.New(engine.Config{
		DedupTTL:      cfg.DedupTTL,
		ActionTimeout: cfg.ActionTimeout,
		QueueCapacity: cfg.QueueCapacity,
		FlushInterval: cfg.FlushInterval,
	}, ruleStore, schemaStore, logStore, dedup)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	// Record and messaging backends are deployment-specific; only the
	// generic HTTP action ships enabled by default.
	actions.RegisterAll(eng.Registry(), nil, nil, &http.Client{Timeout: cfg.ActionTimeout})

	s := &Server{
		db:      db,
		engine:  eng,
		rules:   ruleStore,
		schemas: schemaStore,
		logs:    logStore,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/events", s.handleEvent)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	r.Route("/api/v1/schemas", func(r chi.Router) {
		r.Get("/{sourceId}", s.handleGetSchema)
		r.Put("/{sourceId}", s.handlePutSchema)
	})

	r.Get("/api/v1/logs", s.handleListLogs)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"action_types": s.engine.Registry().Types(),
	})
}

// handleEvent parses and processes a webhook payload. Processing is
// synchronous but action failures never fail the request; the caller gets a
// 202 once the event is accepted for dispatch.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	event, err := parser.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload", err)
		return
	}

	if err := s.engine.ProcessEvent(r.Context(), event); err != nil {
		respondError(w, http.StatusInternalServerError, "event processing failed", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"event_id": event.EventID,
		"status":   "accepted",
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule engine.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.OnFailure == "" {
		rule.OnFailure = engine.FailureContinue
	}

	if err := engine.ValidateRule(&rule, s.engine.Expressions()); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.rules.Create(r.Context(), &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rulesList, err := s.rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rulesList == nil {
		rulesList = []*engine.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rulesList})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule engine.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")
	if rule.OnFailure == "" {
		rule.OnFailure = engine.FailureContinue
	}

	if err := engine.ValidateRule(&rule, s.engine.Expressions()); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.rules.Update(r.Context(), &rule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update rule", err)
		return
	}

	// A changed expression must not be served from the compiled cache.
	s.engine.Expressions().Evict(rule.ID)

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if err := s.rules.Delete(r.Context(), ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	s.engine.Expressions().Evict(ruleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	fieldTypes, err := s.schemas.FieldTypesFor(r.Context(), sourceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get schema", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"source_id":   sourceID,
		"field_types": fieldTypes,
	})
}

func (s *Server) handlePutSchema(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")

	var req PutSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.FieldTypes) == 0 {
		respondError(w, http.StatusBadRequest, "field_types is required", nil)
		return
	}

	if err := s.schemas.Put(r.Context(), sourceID, req.FieldTypes); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store schema", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter := store.LogFilter{
		RuleID: r.URL.Query().Get("rule_id"),
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset", err)
			return
		}
		filter.Offset = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp", err)
			return
		}
		filter.Since = ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid until timestamp", err)
			return
		}
		filter.Until = ts
	}

	entries, err := s.logs.Find(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query logs", err)
		return
	}
	if entries == nil {
		entries = []engine.ExecutionLogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	server.engine.Start()
	defer server.engine.Close()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := server.logs.Purge(ctx, time.Now().Add(-cfg.LogRetention))
		if err != nil {
			logger.Error("log purge failed", "error", err)
			return
		}
		logger.Info("purged old execution logs", "removed", removed)
	})
	if err != nil {
		logger.Fatal("invalid purge schedule", "schedule", cfg.PurgeSchedule, "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
