// Package main is the entry point for the Risk Service
// Risk Service scores authentication attempts and tracks device trust
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/config"
	"github.com/riskgate/riskgate/internal/common/database"
	"github.com/riskgate/riskgate/internal/common/logger"
	"github.com/riskgate/riskgate/internal/common/middleware"
	"github.com/riskgate/riskgate/internal/risk"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	// Initialize logger
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Risk Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	// Load configuration
	cfg, err := config.Load("risk-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Device tracker backend
	var tracker risk.DeviceTracker
	var db *database.PostgresDB
	if cfg.TrackerBackend == "postgres" {
		db, err = database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pgTracker := risk.NewPostgresTracker(db, cfg.Risk.LocationHistoryLimit, log)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgTracker.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatal("Failed to apply tracker schema", zap.Error(err))
		}
		cancel()
		tracker = pgTracker
	} else {
		tracker = risk.NewMemoryTracker(cfg.Risk.LocationHistoryLimit)
	}

	// Reputation provider, cached through Redis when available
	var reputation risk.ReputationChecker = risk.NewHeuristicChecker()
	var redisClient *database.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, reputation lookups run uncached", zap.Error(err))
		} else {
			defer redisClient.Close()
			reputation = risk.NewCachedReputation(reputation, redisClient.Client, risk.CachedReputationConfig{
				CacheTTL:      cfg.Risk.ReputationCacheTTL(),
				LookupTimeout: cfg.Risk.ReputationTimeout(),
				Policy:        risk.FailPolicy(cfg.Risk.ReputationFailPolicy),
				FallbackScore: cfg.Risk.ReputationFailScore,
			}, log)
		}
	}

	// Velocity checker backend
	var velocity risk.VelocityChecker
	if cfg.Risk.UseGeoVelocity {
		velocity = risk.NewGeoVelocityChecker(cfg.Risk.MaxTravelSpeedKmh)
	} else {
		velocity = risk.NewCityPairChecker(cfg.Risk.MaxTravelSpeedKmh)
	}

	scorerConfig := risk.DefaultScorerConfig()
	scorerConfig.Weights = risk.Weights{
		NewDevice:        cfg.Risk.WeightNewDevice,
		NewIP:            cfg.Risk.WeightNewIP,
		SuspiciousIP:     cfg.Risk.WeightSuspiciousIP,
		ImpossibleTravel: cfg.Risk.WeightImpossibleTravel,
		HighFailureRate:  cfg.Risk.WeightHighFailureRate,
		AnomalousTime:    cfg.Risk.WeightAnomalousTime,
	}
	scorerConfig.ChallengeThreshold = cfg.Risk.ChallengeThreshold
	scorerConfig.BlockThreshold = cfg.Risk.BlockThreshold
	scorerConfig.VelocityWindow = cfg.Risk.VelocityWindow()
	scorerConfig.FailureWindow = cfg.Risk.FailureWindow()
	scorerConfig.FailureThreshold = cfg.Risk.FailureThreshold
	scorerConfig.EnableTimeAnomaly = cfg.Risk.EnableTimeAnomaly

	scorer := risk.NewScorer(tracker, reputation, velocity, scorerConfig, log)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.PrometheusMetrics("risk-service"))

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsHandler())

	// Register routes
	risk.RegisterRoutes(router, risk.NewAPI(scorer, log))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "risk-service",
			"version": Version,
		})
	})

	// Readiness check endpoint
	router.GET("/ready", func(c *gin.Context) {
		status := gin.H{"status": "ready"}
		if db != nil {
			if err := db.Ping(); err != nil {
				status["status"] = "not ready"
				status["postgres"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, status)
				return
			}
			status["postgres"] = "ok"
		}
		if redisClient != nil {
			if err := redisClient.Ping(); err != nil {
				status["redis"] = "unhealthy"
			} else {
				status["redis"] = "ok"
			}
		}
		c.JSON(http.StatusOK, status)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
