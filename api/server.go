// Package api serves the agent and the evaluation drivers over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/eval"
)

const DefaultListenAddr = ":8080"

// Runner answers one question. *agent.Agent implements it.
type Runner interface {
	Run(ctx context.Context, question string, opts ...agent.RunOption) (*agent.RunResult, error)
}

// Evaluations runs the offline evaluations. *eval.Suite implements it.
type Evaluations interface {
	Evaluate(ctx context.Context, split string, topK int) (*eval.Report, error)
	EvaluateDrift(ctx context.Context, split string, topK int) (*eval.DriftReport, error)
	EvaluateSafety(ctx context.Context) (*eval.SafetyReport, error)
}

type Server struct {
	runner         Runner
	evals          Evaluations
	log            *slog.Logger
	listenAddr     string
	allowedOrigins []string
	httpServer     *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithEvaluations enables the evaluation endpoints. Without it they answer 503.
func WithEvaluations(evals Evaluations) Option {
	return func(s *Server) {
		s.evals = evals
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(runner Runner, opts ...Option) (*Server, error) {
	s := &Server{
		runner:         runner,
		log:            slog.Default(),
		listenAddr:     DefaultListenAddr,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		return nil, errors.New("runner is required")
	}
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the router with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/agent", func(r chi.Router) {
		r.Post("/nl2sql", s.handleNL2SQL)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/schema_drift_eval", s.handleDriftEval)
		r.Post("/safety_eval", s.handleSafetyEval)
	})
	return r
}

// Run blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Run() error {
	s.log.Info("api: server starting", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api: shutting down server")
	return s.httpServer.Shutdown(ctx)
}
