// Package api is the HTTP/JSON transport in front of the achievement gateway.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/achievements/internal/achievement"
	"github.com/FairForge/achievements/internal/config"
	"github.com/FairForge/achievements/internal/metrics"
	"github.com/FairForge/achievements/internal/objstore"
)

// Version is reported by /version and /health.
var Version = "0.1.0"

// Gateway is the set of operations the transport exposes.
type Gateway interface {
	ListArtifacts(ctx context.Context, ownerID string) ([]achievement.Meta, error)
	LookupArtifact(ctx context.Context, ownerID, name string) (achievement.Meta, error)
	RequestDownloadGrant(ctx context.Context, ownerID, name string) (objstore.AccessGrant, error)
	RequestUploadGrant(ctx context.Context, ownerID, name, fileName, fileType string) (objstore.AccessGrant, error)
	RegisterMeta(ctx context.Context, meta achievement.Meta) (achievement.Meta, error)
	DeleteArtifact(ctx context.Context, ownerID, name string) error
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	gateway    Gateway
	health     *HealthChecker
	metrics    *metrics.Metrics
	limiter    *rate.Limiter

	startTime time.Time
}

// NewServer wires the routes. health and m may be nil.
func NewServer(cfg *config.Config, logger *zap.Logger, gw Gateway, health *HealthChecker, m *metrics.Metrics) *Server {
	if health == nil {
		health = NewHealthChecker(logger)
	}
	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		gateway:   gw,
		health:    health,
		metrics:   m,
		startTime: time.Now(),
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = newLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	s.setupRoutes()
	// Wrapped outside the router so unrouted 404/405 answers are also
	// tagged, logged and counted.
	s.handler = gzhttp.GzipHandler(s.requestIDMiddleware(s.loggingMiddleware(s.router)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1/owners/{owner}/achievements").Subrouter()
	api.HandleFunc("", s.handleListArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/{name}", s.handleLookupArtifact).Methods(http.MethodGet)
	api.HandleFunc("/{name}", s.handleRegisterMeta).Methods(http.MethodPut)
	api.HandleFunc("/{name}", s.handleDeleteArtifact).Methods(http.MethodDelete)
	api.HandleFunc("/{name}/download-grant", s.handleDownloadGrant).Methods(http.MethodGet)
	api.HandleFunc("/{name}/upload-grant", s.handleUploadGrant).Methods(http.MethodPost)
	api.Use(s.rateLimitMiddleware, s.timeoutMiddleware)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, CodeNotFound, "no route for "+r.URL.Path)
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})
	s.router.NotFoundHandler = notFound
	s.router.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed
}

// Handler returns the full handler chain, including compression.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
