// Package server assembles the attestation API: store, middleware, routes and lifecycle.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/socialblocklabs/arp-agent/internal/attestation"
	"github.com/socialblocklabs/arp-agent/internal/auth"
	"github.com/socialblocklabs/arp-agent/internal/config"
	"github.com/socialblocklabs/arp-agent/internal/health"
	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
	"github.com/socialblocklabs/arp-agent/internal/ratelimit"
	"github.com/socialblocklabs/arp-agent/internal/realtime"
	"github.com/socialblocklabs/arp-agent/internal/traces"
)

const (
	defaultDrainDelay = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	dbPingTimeout     = 10 * time.Second
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	store   attestation.Store
	db      *sql.DB // nil for the in-memory store or an injected one
	service *attestation.Service
	auth    *auth.Authenticator
	health  *health.Registry
	hub     *realtime.Hub
	limiter *ratelimit.Limiter // nil when RATE_LIMIT_RPM is 0

	router  *gin.Engine
	httpSrv *http.Server

	cancelRun   context.CancelFunc // stops the hub started by Run
	stopTracing func(context.Context) error
	drainDelay  time.Duration
	ready       atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects the attestation store instead of opening DATABASE_URL.
func WithStore(store attestation.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithVersion sets the build version reported as the tracing service version.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds a server from cfg. The store is opened (and migrated) here so a
// bad DATABASE_URL fails before Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: defaultDrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		store, err := s.openStore(context.Background())
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.hub = realtime.NewHub(s.logger)
	s.service = attestation.NewService(s.store, attestation.WithEvents(s.hub))
	s.auth = auth.NewAuthenticator(cfg.APIKey)

	s.health = health.NewRegistry()
	s.health.Register("store", health.FromPing("store", s.service.HealthCheck))

	if cfg.RateLimitRPM > 0 {
		s.limiter = ratelimit.New(ratelimit.ForRPM(cfg.RateLimitRPM))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	// Route on the escaped path so an address holding '/' is reachable as %2F.
	s.router.UseRawPath = true
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// openStore builds the store named by DATABASE_URL.
func (s *Server) openStore(ctx context.Context) (attestation.Store, error) {
	if s.cfg.UseMemoryStore() {
		s.logger.Warn("using in-memory storage (data will not persist)")
		return attestation.NewMemoryStore(), nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := attestation.NewPostgresStore(db)
	if s.cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.logger.Info("database migrations applied")
	}

	if err := metrics.RegisterDBStats(db); err != nil {
		s.logger.Warn("failed to register pool metrics", "error", err)
	}

	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return store, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives, or the listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without traces", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	go s.hub.Run(runCtx)

	s.ready.Store(true)
	s.logger.Info("server ready")

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("server error: %w", err), s.Shutdown())
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}
	return s.Shutdown()
}

// Shutdown stops accepting traffic, drains in-flight requests and releases
// the hub, rate limiter, tracer and database pool.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRun != nil {
		s.cancelRun()
	}

	// Keep serving while /readyz reports 503 so load balancers stop routing here.
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Ready reports whether Run has started serving and Shutdown has not begun.
// GET /readyz serves the same answer.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}
