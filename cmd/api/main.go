// Command api serves read-only status of the batch worker over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/database"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/jobs"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/registry"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := &API{
		stateDir: cfg.Paths.JobStateDir,
		store:    jobs.NewStore(cfg.Paths.JobStateDir, logger),
		registry: registry.New(cfg.Paths.JobStateDir, logger),
		profiles: profileCatalog{
			Encoding: cfg.Profiles.Encoding,
			Repair:   cfg.Profiles.Repair,
		},
	}

	mon := monitoring.NewMonitor(logger)
	mon.Start(ctx, monitoring.DefaultInterval)
	api.system = mon

	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer c.Close()
		api.progress = c
	}

	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		api.history = database.NewJobArchive(db, logger)
	}

	if cfg.Storage.Enabled {
		stor, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize storage: %v", err)
		}
		api.outputs = stor
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.Cleanup(ctx, 10*time.Minute)
	}

	router := setupRouter(api, routerOptions{
		logger:    logger,
		jwtSecret: cfg.Server.JWTSecret,
		limiter:   limiter,
		metrics:   cfg.Metrics.Enabled,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}

type routerOptions struct {
	logger    *logging.Logger
	jwtSecret string
	limiter   *middleware.RateLimiter
	metrics   bool
}

func setupRouter(api *API, opts routerOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.logger != nil {
		router.Use(middleware.Logger(opts.logger))
	}

	// Health check
	router.GET("/health", api.healthCheck)
	if opts.metrics {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// API routes
	v1 := router.Group("/api/v1")
	if opts.jwtSecret != "" {
		v1.Use(middleware.JWTAuth(opts.jwtSecret))
	}
	if opts.limiter != nil {
		v1.Use(middleware.RateLimit(opts.limiter))
	}
	{
		// Current job
		v1.GET("/job", api.getCurrentJob)
		v1.GET("/job/progress", api.getProgress)

		// History
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/:id", api.getJob)
		v1.GET("/jobs/:id/outputs", api.getJobOutputs)

		v1.GET("/damaged", api.listDamaged)
		v1.GET("/profiles", api.listProfiles)
		v1.GET("/system", api.getSystem)
	}

	return router
}
