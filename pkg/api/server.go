package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/config"
	"github.com/Beaconwise-Labs/tek/pkg/consensus"
	"github.com/Beaconwise-Labs/tek/pkg/governance"
	"github.com/Beaconwise-Labs/tek/pkg/ledger"
	"github.com/Beaconwise-Labs/tek/pkg/llm"
)

// Server wires kernel components into the HTTP surface.
type Server struct {
	settings     *config.Settings
	metrics      *governance.Metrics
	registry     *llm.Registry
	ledger       *ledger.Ledger
	orch         *consensus.Orchestrator
	policy       governance.Policy
	policyErrors []string
	verifier     *TokenVerifier
	limiter      *RateLimiter
	log          *slog.Logger
	clock        func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the structured logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithServerClock overrides wall-clock access for deterministic tests.
func WithServerClock(clock func() time.Time) ServerOption {
	return func(s *Server) { s.clock = clock }
}

// WithRegistry replaces the provider registry.
func WithRegistry(r *llm.Registry) ServerOption {
	return func(s *Server) { s.registry = r }
}

// WithMetrics shares a metrics instance with the turn engine.
func WithMetrics(m *governance.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter replaces the default per-IP limiter.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// NewServer assembles the API server. The policy file is loaded once at
// construction; the /policy endpoint re-reads it so operators can inspect
// edits before a restart picks them up.
func NewServer(settings *config.Settings, opts ...ServerOption) *Server {
	s := &Server{
		settings: settings,
		metrics:  governance.NewMetrics(),
		registry: llm.DefaultRegistry(),
		verifier: NewTokenVerifier(settings.APITokenSecret),
		limiter:  NewRateLimiter(20, 40),
		log:      slog.Default(),
		clock:    time.Now,
	}
	for _, fn := range opts {
		fn(s)
	}

	policy, err := governance.LoadPolicy(settings.PolicyPath)
	if err != nil {
		s.log.Warn("policy load failed, using defaults", slog.String("path", settings.PolicyPath), slog.Any("error", err))
		policy = governance.PolicyDefaults()
	}
	s.policy = policy
	s.policyErrors = governance.ValidatePolicy(policy)
	if len(s.policyErrors) > 0 {
		s.log.Warn("active policy has validation errors", slog.String("path", settings.PolicyPath), slog.Any("errors", s.policyErrors))
	}

	s.ledger = ledger.New(ledger.WithClock(s.clock))
	s.orch = consensus.NewOrchestrator(s.registry, s.ledger, consensus.WithClock(s.clock))
	return s
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /constitution", s.handleConstitution)
	mux.HandleFunc("GET /schemas", s.handleSchemas)
	mux.HandleFunc("GET /schema/{name}", s.handleSchema)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /manifest", s.handleManifest)
	mux.HandleFunc("GET /policy", s.handlePolicy)

	protected := RequireAuth(s.verifier)
	mux.Handle("POST /verify-chain", protected(http.HandlerFunc(s.handleVerifyChain)))
	mux.Handle("POST /replay", protected(http.HandlerFunc(s.handleReplay)))
	mux.Handle("POST /query", protected(http.HandlerFunc(s.handleQuery)))
	mux.Handle("POST /resilience/decide", protected(http.HandlerFunc(s.handleResilienceDecide)))

	var h http.Handler = mux
	h = s.limiter.Middleware(h)
	h = RecoverMiddleware(s.log)(h)
	h = LogMiddleware(s.log)(h)
	h = RequestIDMiddleware(h)
	return h
}
