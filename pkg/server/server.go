// Package server exposes stored merkle trees over HTTP: trees are created
// from leaves or allocations, persisted, and then serve single proofs,
// multiproofs and verification.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AnonJon/oz-merkle-go/pkg/hashers"
	"github.com/AnonJon/oz-merkle-go/pkg/leaf"
	"github.com/AnonJon/oz-merkle-go/pkg/merkle"
	"github.com/AnonJon/oz-merkle-go/pkg/persistence"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; large allocation lists fit comfortably.
const maxBodyBytes = 64 << 20

// Config holds the server settings.
type Config struct {
	Port int

	// Defaults for trees created without explicit options
	Scheme   merkle.Scheme
	Hash     string
	Encoding string

	// Per-client requests per second and burst; zero RateLimit disables limiting
	RateLimit float64
	RateBurst int

	// Rebuilt trees kept in memory; zero uses DefaultCacheSize
	CacheSize int
}

// Server serves proofs for trees held in an ITreePersistence.
type Server struct {
	config     Config
	store      persistence.ITreePersistence
	cache      *treeCache
	metrics    *metrics
	limiters   *clientLimiters
	logger     *zap.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg Config, store persistence.ITreePersistence, logger *zap.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server requires a persistence layer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = merkle.SchemeTagged
	}
	if _, err := merkle.ParseScheme(cfg.Scheme.String()); err != nil {
		return nil, err
	}
	if cfg.Hash == "" {
		cfg.Hash = hashers.Keccak256
	}
	if _, err := hashers.Get(cfg.Hash); err != nil {
		return nil, err
	}
	if cfg.Encoding == "" {
		cfg.Encoding = leaf.EncodingPacked
	}
	if _, err := leaf.EncoderByName(cfg.Encoding); err != nil {
		return nil, err
	}

	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache size cannot be negative: %d", cfg.CacheSize)
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	m := newMetrics()
	cache, err := newTreeCache(store, m, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:  cfg,
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		s.limiters = newClientLimiters(cfg.RateLimit, cfg.RateBurst)
	}

	mux := http.NewServeMux()

	// Tree endpoints
	s.route(mux, "POST /trees", s.handleCreateTree)
	s.route(mux, "GET /trees", s.handleListTrees)
	s.route(mux, "GET /trees/{root}", s.handleGetTree)
	s.route(mux, "DELETE /trees/{root}", s.handleDeleteTree)

	// Proof endpoints
	s.route(mux, "GET /trees/{root}/proof", s.handleGetProof)
	s.route(mux, "POST /trees/{root}/multiproof", s.handleGetMultiProof)

	// Stateless verification
	s.route(mux, "POST /verify", s.handleVerify)
	s.route(mux, "POST /verify/multi", s.handleVerifyMulti)

	// Operational endpoints are not rate limited
	ops := http.NewServeMux()
	ops.Handle("GET /healthz", s.instrument("GET /healthz", s.handleHealth))
	ops.Handle("GET /metrics", m.handler())
	ops.Handle("/", s.rateLimit(mux))

	s.handler = withRequestID(ops)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "addr", s.httpServer.Addr, "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.handler
}
