package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fraudlab/riskrules/explain"
	"github.com/fraudlab/riskrules/generator"
	"github.com/fraudlab/riskrules/internal/logger"
	"github.com/fraudlab/riskrules/internal/metrics"
	"github.com/fraudlab/riskrules/rules"
	"github.com/fraudlab/riskrules/validator"
)

const defaultVersion = "v1"

type Server struct {
	store     *rules.Store
	explainer *explain.Explainer
	metrics   *metrics.Metrics
	log       *slog.Logger
	db        *sql.DB
	router    *chi.Mux
}

func NewServer(store *rules.Store, explainer *explain.Explainer, m *metrics.Metrics, log *slog.Logger, db *sql.DB) *Server {
	s := &Server{
		store:     store,
		explainer: explainer,
		metrics:   m,
		log:       log,
		db:        db,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/reorder", s.handleReorder)
			r.Post("/validate", s.handleValidateRule)
			r.Get("/metadata/next-id", s.handleNextRuleID)

			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})

		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/evaluate/batch", s.handleEvaluateBatch)
		r.Post("/explain", s.handleExplain)
		r.Post("/transactions/generate", s.handleGenerateTransactions)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// version reads the version query parameter, defaulting to v1.
func version(r *http.Request) string {
	if v := r.URL.Query().Get("version"); v != "" {
		return v
	}
	return defaultVersion
}

// traceEnabled reads the trace query parameter. Tracing is on by default.
func traceEnabled(r *http.Request) bool {
	v := r.URL.Query().Get("trace")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	versions, err := s.store.Versions()
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"versions":           versions,
		"explainerAvailable": s.explainer.Available(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.Load(version(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(version(r), chi.URLParam(r, "ruleId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ver := version(r)

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if rule.ID == "" {
		rs, err := s.store.Load(ver)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rule.ID = rules.NextRuleID(rs)
	}

	var position *int
	if p := r.URL.Query().Get("position"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid position", err)
			return
		}
		position = &n
	}

	if err := s.store.AddRule(ver, rule, position); err != nil {
		s.metrics.IncrementRuleMutation("add", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.IncrementRuleMutation("add", "ok")
	s.log.Info("rule added", "version", ver, "rule_id", rule.ID)

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ver := version(r)
	ruleID := chi.URLParam(r, "ruleId")

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := s.store.UpdateRule(ver, ruleID, rule); err != nil {
		s.metrics.IncrementRuleMutation("update", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.IncrementRuleMutation("update", "ok")
	s.log.Info("rule updated", "version", ver, "rule_id", ruleID)

	updated, err := s.store.GetRule(ver, ruleID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ver := version(r)
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.store.DeleteRule(ver, ruleID); err != nil {
		s.metrics.IncrementRuleMutation("delete", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.IncrementRuleMutation("delete", "ok")
	s.log.Info("rule deleted", "version", ver, "rule_id", ruleID)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	ver := version(r)

	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := s.store.Reorder(ver, req.RuleIDs); err != nil {
		s.metrics.IncrementRuleMutation("reorder", "error")
		s.writeError(w, err)
		return
	}
	s.metrics.IncrementRuleMutation("reorder", "ok")
	s.log.Info("rules reordered", "version", ver)

	rs, err := s.store.Load(ver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	errs := rules.ValidateRule(rule)
	if errs == nil {
		errs = []string{}
	}
	respondJSON(w, http.StatusOK, ValidateResponse{Valid: len(errs) == 0, Errors: errs})
}

func (s *Server) handleNextRuleID(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.Load(version(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"next_id": rules.NextRuleID(rs)})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var record rules.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.engine(version(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	record, repairs := validator.Sanitize(record)
	for _, repair := range repairs {
		s.log.Debug("sanitized transaction", "repair", repair)
	}

	start := time.Now()
	var resp EvaluateResponse
	if traceEnabled(r) {
		resp.Result, resp.Trace, err = engine.EvaluateWithTrace(record)
	} else {
		resp.Result, err = engine.Evaluate(record)
	}
	if err != nil {
		s.metrics.IncrementEvaluationError()
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveEvaluationLatency(time.Since(start))
	s.metrics.IncrementEvaluation(string(resp.Result.Decision))

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var records []rules.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.engine(version(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	records, repairs := validator.SanitizeBatch(records)
	for _, repair := range repairs {
		s.log.Debug("sanitized transaction", "repair", repair)
	}

	start := time.Now()
	resp := BatchEvaluateResponse{Count: len(records)}
	if traceEnabled(r) {
		items, err := engine.EvaluateBatchWithTrace(r.Context(), records)
		if err != nil {
			s.metrics.IncrementEvaluationError()
			s.writeError(w, err)
			return
		}
		resp.Results = make([]*rules.RuleResult, len(items))
		resp.Traces = make([]*rules.EvaluationTrace, len(items))
		for i, item := range items {
			resp.Results[i] = item.Result
			resp.Traces[i] = item.Trace
		}
	} else {
		resp.Results, err = engine.EvaluateBatch(r.Context(), records)
		if err != nil {
			s.metrics.IncrementEvaluationError()
			s.writeError(w, err)
			return
		}
	}
	s.metrics.ObserveEvaluationLatency(time.Since(start))
	for _, result := range resp.Results {
		s.metrics.IncrementEvaluation(string(result.Decision))
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Result.TransactionID == "" {
		respondError(w, http.StatusBadRequest, "result is required", nil)
		return
	}

	explanation, err := s.explainer.ExplainOrFallback(r.Context(), req.Transaction, req.Result)
	if err != nil {
		s.log.Warn("explanation fell back", "transaction_id", req.Result.TransactionID, "error", err)
	}

	respondJSON(w, http.StatusOK, FinalDecisionResponse{
		TransactionID:       req.Result.TransactionID,
		RiskScore:           req.Result.RiskScore,
		Decision:            req.Result.Decision,
		RuleMatched:         req.Result.MatchedRuleName,
		RuleReason:          req.Result.RuleReason,
		LLMExplanation:      explanation.HumanReadableExplanation,
		Confidence:          explanation.Confidence,
		NeedsHumanReview:    explanation.NeedsHumanReview,
		ClarifyingQuestions: explanation.ClarifyingQuestions,
	})
}

func (s *Server) handleGenerateTransactions(w http.ResponseWriter, r *http.Request) {
	count := 10
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 10000 {
			respondError(w, http.StatusBadRequest, "count must be between 1 and 10000", err)
			return
		}
		count = n
	}

	seed := time.Now().UnixNano()
	if v := r.URL.Query().Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid seed", err)
			return
		}
		seed = n
	}

	transactions := generator.New(seed).Generate(count)
	respondJSON(w, http.StatusOK, GenerateResponse{Transactions: transactions, Count: count})
}

// engine builds an engine over the current snapshot for a version.
func (s *Server) engine(version string) (*rules.Engine, error) {
	rs, err := s.store.Snapshot(version)
	if err != nil {
		return nil, err
	}
	return rules.NewEngine(rs), nil
}

// writeError maps the rules error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		notFound *rules.NotFoundError
		validErr *rules.ValidationError
		conflict *rules.ConflictError
		mismatch *rules.MismatchError
		orderErr *rules.OrderError
		opErr    *rules.UnknownOperatorError
		noMatch  *rules.NoMatchError
	)

	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &validErr):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "rule validation failed",
			"errors": validErr.Errors,
		})
	case errors.As(err, &mismatch):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   err.Error(),
			"missing": mismatch.Missing,
			"extra":   mismatch.Extra,
		})
	case errors.As(err, &orderErr), errors.Is(err, rules.ErrDeleteCatchAll):
		respondError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &opErr), errors.As(err, &noMatch):
		s.log.Error("rule set integrity failure", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error(), nil)
	default:
		s.log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// buildStore selects the backend from the environment: DATABASE_URL wins,
// otherwise versions live as YAML files under RULES_CONFIG_DIR.
func buildStore(log *slog.Logger) (*rules.Store, *rules.FileBackend, *sql.DB, error) {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info("using postgres backend")
		return rules.NewStore(rules.NewPostgresBackend(db)), nil, db, nil
	}

	dir := os.Getenv("RULES_CONFIG_DIR")
	if dir == "" {
		dir = "./config"
	}
	backend, err := rules.NewFileBackend(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("using file backend", "dir", backend.Dir())
	return rules.NewStore(backend), backend, nil, nil
}

func main() {
	log := logger.Setup()

	store, fileBackend, db, err := buildStore(log)
	if err != nil {
		log.Error("failed to build rule store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	explainer := explain.New(explain.ConfigFromEnv())
	server := NewServer(store, explainer, metrics.New(), log, db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fileBackend != nil {
		watcher := rules.NewConfigWatcher(fileBackend, store, log)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("config watcher stopped", "error", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		log.Error("logger shutdown error", "error", err)
	}
	log.Info("server stopped")
}
