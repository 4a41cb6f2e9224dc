// Package rest provides the HTTP/JSON surface of the credential service
package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/internal/delegation"
	"github.com/credential-engine/go-core/internal/metrics"
	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/internal/scope"
)

// Config configures the REST server
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool
	Version      string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		Version:      "1.0.0",
	}
}

// Server is the REST API server
type Server struct {
	config      Config
	engine      *credential.Engine
	manager     *delegation.Manager
	stepup      *delegation.StepUpService
	policyStore policy.Store
	evaluator   *policy.Evaluator
	registry    *scope.Registry
	auditor     *audit.Indexer
	metrics     *metrics.Metrics
	router      *mux.Router
	httpServer  *http.Server
	logger      *zap.Logger
	startTime   time.Time
}

// New creates a new REST server. metrics may be nil to disable the
// metrics endpoint.
func New(
	cfg Config,
	engine *credential.Engine,
	manager *delegation.Manager,
	stepup *delegation.StepUpService,
	policyStore policy.Store,
	evaluator *policy.Evaluator,
	registry *scope.Registry,
	auditor *audit.Indexer,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Server, error) {
	if engine == nil || auditor == nil {
		return nil, fmt.Errorf("engine and auditor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:      cfg,
		engine:      engine,
		manager:     manager,
		stepup:      stepup,
		policyStore: policyStore,
		evaluator:   evaluator,
		registry:    registry,
		auditor:     auditor,
		metrics:     m,
		router:      mux.NewRouter(),
		logger:      logger,
		startTime:   time.Now(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Credential lifecycle
	v1.HandleFunc("/credentials", s.issueCredentialHandler).Methods("POST")
	v1.HandleFunc("/credentials/verify", s.verifyCredentialHandler).Methods("POST")
	v1.HandleFunc("/credentials/{id}", s.introspectCredentialHandler).Methods("GET")
	v1.HandleFunc("/credentials/{id}/revoke", s.revokeCredentialHandler).Methods("POST")

	// Delegation
	if s.manager != nil {
		v1.HandleFunc("/grants", s.createGrantHandler).Methods("POST")
		v1.HandleFunc("/grants/{id}/revoke", s.revokeGrantHandler).Methods("POST")
		v1.HandleFunc("/delegations", s.requestDelegationHandler).Methods("POST")
	}
	if s.stepup != nil {
		v1.HandleFunc("/stepup/challenge", s.stepUpChallengeHandler).Methods("POST")
		v1.HandleFunc("/stepup/verify", s.stepUpVerifyHandler).Methods("POST")
	}

	// Policy management
	if s.policyStore != nil {
		policies := v1.PathPrefix("/policies").Subrouter()
		policies.HandleFunc("", s.listPoliciesHandler).Methods("GET")
		policies.HandleFunc("", s.createPolicyHandler).Methods("POST")
		if s.evaluator != nil {
			policies.HandleFunc("/check", s.checkPolicyHandler).Methods("POST")
		}
		policies.HandleFunc("/{id}", s.getPolicyHandler).Methods("GET")
		policies.HandleFunc("/{id}", s.updatePolicyHandler).Methods("PUT")
		policies.HandleFunc("/{id}", s.deletePolicyHandler).Methods("DELETE")
	}

	// Audit queries
	v1.HandleFunc("/audit/chain/{task_id}", s.auditChainHandler).Methods("GET")
	v1.HandleFunc("/audit/delegations/{principal_id}", s.delegationActivityHandler).Methods("GET")
	v1.HandleFunc("/audit/verify", s.auditVerifyHandler).Methods("GET")
}

// Start begins serving requests (blocking)
func (s *Server) Start() error {
	s.logger.Info("Starting REST server",
		zap.Int("port", s.config.Port),
		zap.Bool("cors_enabled", s.config.EnableCORS),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP serves a single request (tests)
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
		if s.metrics != nil {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			s.metrics.ObserveRequest(route, r.Method, strconv.Itoa(wrapped.statusCode), duration)
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:            "server_error",
					ErrorDescription: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.config.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "ok",
		Version:   s.config.Version,
		StartTime: s.startTime,
	}
	if s.policyStore != nil {
		resp.PolicyCount = s.policyStore.Count()
	}
	if s.registry != nil {
		stats := s.registry.GetStats()
		resp.ScopeCacheHits = stats.HitCount
		resp.ScopeCacheMiss = stats.MissCount
	}
	WriteJSON(w, http.StatusOK, resp)
}
