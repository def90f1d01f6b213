// Package api provides the HTTP REST API of the accounts service
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/pnocera/accounts/pkg/config"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/metrics"
	"github.com/pnocera/accounts/pkg/revocation"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/usecases"
)

// Options are the collaborators of the server
type Options struct {
	Config     *config.Config
	Mediator   *usecases.Mediator
	Tokens     *security.TokenService
	Revocation revocation.Store
	Logger     interfaces.Logger
	Metrics    interfaces.Metrics
	// Prometheus is served on /metrics when set
	Prometheus *metrics.PrometheusMetrics
	// Checks are pinged by /health
	Checks  map[string]interfaces.HealthChecker
	Version string
}

// Server represents the API server instance
type Server struct {
	config     *config.Config
	mediator   *usecases.Mediator
	tokens     *security.TokenService
	revocation revocation.Store
	logger     interfaces.Logger
	metrics    interfaces.Metrics
	prometheus *metrics.PrometheusMetrics
	checks     map[string]interfaces.HealthChecker
	version    string
	limiter    *RateLimiter
	started    time.Time

	router *gin.Engine
	server *http.Server
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	if opts.Config.Server.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoOpMetrics()
	}

	s := &Server{
		config:     opts.Config,
		mediator:   opts.Mediator,
		tokens:     opts.Tokens,
		revocation: opts.Revocation,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		prometheus: opts.Prometheus,
		checks:     opts.Checks,
		version:    opts.Version,
		limiter:    NewRateLimiter(opts.Config.API.RateLimit.RPS, opts.Config.API.RateLimit.Burst, opts.Logger),
		started:    time.Now(),
		router:     gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	if err := s.router.SetTrustedProxies(s.config.Server.TrustedProxies); err != nil {
		s.logger.Error("Invalid trusted proxies, trusting none", err)
		_ = s.router.SetTrustedProxies(nil)
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.config.Server.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	s.router.Use(cors.New(corsConfig))

	s.router.Use(s.metricsMiddleware())
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/openapi.json", s.getOpenAPISpec)
	s.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/openapi.json")))
	if s.prometheus != nil && s.config.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(s.prometheus.Handler()))
	}

	api := s.router.Group("/api")
	api.GET("/ping", s.ping)

	v1 := api.Group("/v1")

	auth := v1.Group("/auth")
	{
		limited := auth.Group("/actions", s.limiter.Middleware())
		limited.POST("/signin", s.signin)
		limited.POST("/signup", s.signup)
		limited.POST("/request-password-recovery", s.requestPasswordRecovery)
		limited.POST("/change-password/:token", s.changePassword)

		auth.POST("/actions/signout", s.preOTP(), s.signout)
	}

	otp := v1.Group("/auth/otp/actions")
	{
		otp.POST("/start-registration", s.preOTP(), s.startOTPRegistration)
		otp.POST("/finish-registration", s.preOTP(), s.finishOTPRegistration)
		otp.GET("/get-uri", s.preOTP(), s.getOTPURI)
		otp.POST("/validate", s.preOTP(), s.validateOTP)
		otp.POST("/disable", s.authenticated(), s.disableOTP)
	}

	users := v1.Group("/users", s.authenticated())
	{
		users.GET("", s.listUsers)
		users.POST("", s.createUser)
		users.GET("/:username", s.getUser)
		users.PATCH("/:username", s.updateUser)
		users.GET("/:username/histories", s.listUserHistoriesByUser)
	}

	v1.GET("/user-histories", s.authenticated(), s.listUserHistories)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", map[string]interface{}{
		"addr": s.server.Addr,
		"env":  s.config.Server.Env,
		"mode": gin.Mode(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	cleanupDone := make(chan struct{})
	defer close(cleanupDone)
	go s.limiter.StartCleanup(time.Minute, cleanupDone)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	return s.Stop()
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
