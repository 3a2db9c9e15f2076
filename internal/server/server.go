// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/meghal86/smart-stake-sub001/internal/alerts"
	"github.com/meghal86/smart-stake-sub001/internal/cache"
	"github.com/meghal86/smart-stake-sub001/internal/chain"
	"github.com/meghal86/smart-stake-sub001/internal/config"
	"github.com/meghal86/smart-stake-sub001/internal/health"
	"github.com/meghal86/smart-stake-sub001/internal/logging"
	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/probe"
	"github.com/meghal86/smart-stake-sub001/internal/ratelimit"
	"github.com/meghal86/smart-stake-sub001/internal/realtime"
	"github.com/meghal86/smart-stake-sub001/internal/revoke"
	"github.com/meghal86/smart-stake-sub001/internal/scan"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
	"github.com/meghal86/smart-stake-sub001/internal/security"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	chainSvc      chain.Service
	scanStore     scan.Store
	revokeStore   revoke.Store
	probeCache    cache.Cache
	table         *scoring.Table
	orchestrator  *scan.Orchestrator
	revokeService *revoke.Service
	revokeTimer   *revoke.Timer
	hub           *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	healthReg     *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChain sets a custom chain service (for testing)
func WithChain(svc chain.Service) Option {
	return func(s *Server) {
		s.chainSvc = svc
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set chain service/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.scanStore = scan.NewPostgresStore(db)
		s.revokeStore = revoke.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.scanStore = scan.NewMemoryStore()
		s.revokeStore = revoke.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Probe evidence cache (Redis if REDIS_URL set, otherwise in-memory)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.probeCache = rc
		s.logger.Info("using Redis evidence cache")
	} else {
		s.probeCache = cache.NewMemory(10000)
		s.logger.Info("using in-memory evidence cache")
	}

	// Create chain client if not injected
	if s.chainSvc == nil {
		c, err := chain.New(chain.Config{
			RPCURL:     cfg.RPCURL,
			PrivateKey: cfg.PrivateKey,
			ChainID:    cfg.ChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chain client: %w", err)
		}
		s.chainSvc = c
		if cfg.PrivateKey != "" {
			s.logger.Info("revoke execution enabled", "signer", c.Address())
		} else {
			s.logger.Info("revoke execution disabled (no signing key)")
		}
	}

	// Scoring table (versioned, YAML override optional)
	if cfg.ScoringTablePath != "" {
		table, err := scoring.LoadTable(cfg.ScoringTablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scoring table: %w", err)
		}
		s.table = table
		s.logger.Info("scoring table loaded", "path", cfg.ScoringTablePath, "version", table.Version)
	} else {
		s.table = scoring.DefaultTable()
		s.logger.Info("using built-in scoring table", "version", s.table.Version)
	}

	// Alert notifier (disabled without a webhook URL)
	var notifier alerts.Notifier
	if wh := alerts.NewWebhook(cfg.AlertWebhookURL, s.logger); wh != nil {
		notifier = wh
		s.logger.Info("risk alerts enabled")
	}

	// Evidence probes
	probes := s.buildProbes()
	s.logger.Info("probes configured", "count", len(probes))

	// Scan orchestrator
	s.orchestrator = scan.NewOrchestrator(probes, s.scanStore, s.probeCache, s.table, notifier, scan.Config{
		ProbeTimeout: cfg.ProbeTimeout,
		RetryBase:    cfg.ProbeRetryBase,
	}, s.logger)

	// Remediation service with TTL sweeper
	s.revokeService = revoke.NewService(s.revokeStore, s.chainSvc, revoke.Config{
		KeyWindow:        cfg.RevokeKeyWindow,
		TTL:              cfg.RevokeTTL,
		ConfirmationWait: cfg.ConfirmationWait,
	}, s.logger)
	s.revokeTimer = revoke.NewTimer(s.revokeStore, s.logger)

	// WebSocket hub for scan streaming
	s.hub = realtime.NewHub(s.orchestrator, s.logger)
	s.logger.Info("realtime streaming enabled")

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildProbes assembles the evidence probe set from configuration. The
// approvals and mixer probes are always on; reputation and honeypot need
// an upstream URL.
func (s *Server) buildProbes() []probe.Probe {
	probes := []probe.Probe{
		probe.NewApprovalsProbe(s.chainSvc, defaultWatchlist),
		probe.NewMixerProbe(defaultMixerRegistry, nil),
	}

	if s.cfg.ReputationAPIURL != "" {
		probes = append(probes, probe.NewReputationProbe(s.cfg.ReputationAPIURL))
	} else {
		s.logger.Warn("reputation probe disabled (REPUTATION_API_URL not set)")
	}

	if s.cfg.HoneypotAPIURL != "" {
		tokens := make([]string, 0, len(defaultWatchlist))
		seen := make(map[string]bool)
		for _, w := range defaultWatchlist {
			if !seen[w.Token] {
				seen[w.Token] = true
				tokens = append(tokens, w.Token)
			}
		}
		probes = append(probes, probe.NewHoneypotProbe(s.cfg.HoneypotAPIURL, tokens))
	} else {
		s.logger.Warn("honeypot probe disabled (HONEYPOT_API_URL not set)")
	}

	return probes
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.healthReg.Register("rpc", func(ctx context.Context) health.Status {
		if _, err := s.chainSvc.TransactionCountTo(ctx, common.Address{}); err != nil {
			return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "rpc", Healthy: true}
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limCfg := ratelimit.DefaultConfig()
	limCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	limCfg.ScansPerHour = s.cfg.ScanLimitPerHour
	s.rateLimiter = ratelimit.New(limCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time scan streaming
	s.router.GET("/ws/scans/:id", s.hub.HandleScanStream)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	scanHandler := scan.NewHandler(s.orchestrator, s.rateLimiter, s.cfg.DefaultChain)
	scanHandler.RegisterRoutes(v1)

	revokeHandler := revoke.NewHandler(s.revokeService)
	revokeHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok || !s.healthy.Load() {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Guardian",
		"description": "Wallet risk scanning and remediation",
		"version":     "0.1.0",
		"chain":       s.cfg.DefaultChain,
		"chainId":     s.cfg.ChainID,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // SSE and websocket streams outlive any fixed write budget
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start revoke TTL sweeper
	go s.revokeTimer.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop accepting new websocket streams
	if s.hub != nil {
		s.hub.Shutdown()
	}

	// Cancel the context for background goroutines (sweeper, running scans)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop revoke sweeper
	if s.revokeTimer != nil {
		s.revokeTimer.Stop()
		s.logger.Info("revoke sweeper stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close chain connection
	if s.chainSvc != nil {
		if err := s.chainSvc.Close(); err != nil {
			s.logger.Error("chain close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
