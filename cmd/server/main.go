package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/revprisma/gateway/internal/api/handlers"
	"github.com/revprisma/gateway/internal/config"
	"github.com/revprisma/gateway/internal/database"
	"github.com/revprisma/gateway/internal/health"
	"github.com/revprisma/gateway/internal/metrics"
	"github.com/revprisma/gateway/internal/middleware"
	"github.com/revprisma/gateway/internal/migration"
	"github.com/revprisma/gateway/internal/repository"
	"github.com/revprisma/gateway/internal/revprisma"
	"github.com/revprisma/gateway/internal/services"
	"github.com/revprisma/gateway/internal/state"
	"github.com/revprisma/gateway/pkg/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		// .env is optional in production
		logrus.Debug("No .env file found")
	}

	utils.InitLogger()
	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ValidateRevPrisma(); err != nil {
		logger.WithError(err).Fatal("Invalid backend configuration")
	}

	dbManager, err := database.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer dbManager.Close()

	migrationRunner := migration.NewRunner(dbManager, logger)
	if err := migrationRunner.RunMigrations("migrations"); err != nil {
		logger.WithError(err).Fatal("Migrations failed")
	}

	repos := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)

	backendClient := revprisma.NewClient(cfg.RevPrisma.BaseURL, cfg.RevPrisma.APIKey, logger)
	backendService := revprisma.NewService(backendClient, logger)

	// Verify backend connectivity at startup; the server still comes up if
	// the backend is down, reporting unhealthy via /health.
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := backendClient.HealthWithRetry(probeCtx); err != nil {
		logger.WithError(err).Warn("Compute backend unreachable at startup")
	}
	cancelProbe()

	stateStore := state.NewStore(24 * time.Hour)
	meter := metrics.NewCollector()
	backendClient.SetLatencyObserver(func(d time.Duration) {
		meter.BackendLatency.Observe(d.Seconds())
	})

	review := services.NewReviewService(backendService, repos, stateStore, cache, meter, logger)

	checker := health.NewHealthChecker(dbManager, repos.ServiceHealth, backendClient, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval, err := time.ParseDuration(cfg.Jobs.HealthCheckInterval)
	if err != nil {
		interval = 30 * time.Second
	}
	go checker.PeriodicHealthCheck(ctx, interval)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Jobs.CleanupSchedule, func() {
		review.CleanupStaleHealthRecords(7 * 24 * time.Hour)
	}); err != nil {
		logger.WithError(err).Fatal("Invalid cleanup schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := setupRouter(cfg, repos, review, checker, meter, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}

	logger.Info("Server stopped")
}

func setupRouter(
	cfg *config.Config,
	repos *repository.RepositoryManager,
	review *services.ReviewService,
	checker *health.HealthChecker,
	meter *metrics.Collector,
	logger *logrus.Logger,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	rateLimiter := middleware.NewRateLimiter(120, time.Minute)
	router.Use(rateLimiter.RateLimit())

	auth := middleware.NewAuthenticator(repos.UserProfile, repos.UserRole, logger)

	healthHandler := handlers.NewHealthHandler(checker, logger)
	searchHandler := handlers.NewSearchHandler(review, logger)
	projectHandler := handlers.NewProjectHandler(review, logger)
	adminHandler := handlers.NewAdminHandler(review, logger)

	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/metrics", meter.Handler())

	api := router.Group("/api")
	api.Use(auth.RequireAuth())
	{
		api.POST("/search", searchHandler.HandleSearch)
		api.GET("/searches/recent", searchHandler.HandleRecentSearches)

		api.GET("/projects", projectHandler.HandleList)
		api.POST("/projects/:id/deduplicate", projectHandler.HandleDeduplicate)
		api.POST("/projects/:id/screen/simple", projectHandler.HandleScreenSimple)
		api.POST("/projects/:id/screen/ml", projectHandler.HandleScreenML)
		api.GET("/projects/:id/metrics", projectHandler.HandleMetrics)
		api.POST("/projects/:id/prisma", projectHandler.HandlePrisma)
		api.GET("/projects/:id/export", projectHandler.HandleExport)
		api.GET("/projects/:id/status", projectHandler.HandleStatus)
		api.GET("/projects/:id/articles", projectHandler.HandleArticles)
		api.DELETE("/projects/:id", projectHandler.HandleDelete)

		api.PATCH("/articles/:id/screening", projectHandler.HandleUpdateScreening)

		admin := api.Group("/admin")
		admin.Use(auth.RequireRole("admin"))
		{
			admin.GET("/users", adminHandler.HandleListUsers)
			admin.POST("/users", adminHandler.HandleCreateUser)
			admin.GET("/searches", adminHandler.HandleListSearches)
		}
	}

	return router
}
