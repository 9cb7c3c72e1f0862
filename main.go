package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coconiss/WalkTracker/cache"
	"github.com/coconiss/WalkTracker/config"
	"github.com/coconiss/WalkTracker/handler"
	appLogger "github.com/coconiss/WalkTracker/logger"
	"github.com/coconiss/WalkTracker/middleware"
	"github.com/coconiss/WalkTracker/ranker"
	redisClient "github.com/coconiss/WalkTracker/redis"
	"github.com/coconiss/WalkTracker/store"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize logger
	appLogger.Initialize()

	// Load .env before viper reads the environment
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	// Load configuration; missing or invalid configuration is fatal before
	// any period runs
	cfg := config.MustLoadConfig()
	log.Info().Msg("Configuration loaded successfully")

	// Initialize Redis client
	rdb := redisClient.NewClient(cfg.Redis)

	// Initialize display-name cache (if enabled)
	var names *cache.NameCache
	if cfg.Cache.Enabled {
		var err error
		names, err = cache.New(cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize name cache")
		}
	} else {
		log.Info().Msg("Name cache disabled in configuration")
	}

	// Wire the pipeline with dependency injection
	activities := store.NewActivityStore(rdb)
	profiles := store.NewProfileStore(rdb)
	rankings := store.NewRankingStore(rdb)
	pipeline := ranker.New(activities, profiles, rankings, names, cfg.Ranking)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Scheduler.Timezone).Msg("Unknown timezone, falling back to KST")
		location = ranker.KST()
	}

	// One-shot mode: recompute the default periods and exit
	if !cfg.Scheduler.Enabled {
		failed := pipeline.RunAll(context.Background(), ranker.DefaultPeriods(time.Now().In(location)))
		if failed > 0 {
			log.Warn().Int("failed_periods", failed).Msg("Run finished with failed periods")
		}
		closeAll(names, rdb)
		return
	}

	// Scheduled mode: cron recomputes, HTTP serves reads
	scheduler := cron.New(cron.WithLocation(location))
	_, err = scheduler.AddFunc(cfg.Scheduler.CronSpec, func() {
		pipeline.RunAll(context.Background(), ranker.DefaultPeriods(time.Now().In(location)))
	})
	if err != nil {
		log.Fatal().Err(err).Str("cron_spec", cfg.Scheduler.CronSpec).Msg("Invalid cron spec")
	}
	scheduler.Start()
	log.Info().
		Str("cron_spec", cfg.Scheduler.CronSpec).
		Str("timezone", cfg.Scheduler.Timezone).
		Msg("Scheduler started")

	if cfg.Scheduler.RunOnStart {
		go pipeline.RunAll(context.Background(), ranker.DefaultPeriods(time.Now().In(location)))
	}

	// Create handler with dependency injection
	leaderboardHandler := handler.NewLeaderboardHandler(rdb, rankings, pipeline, names, cfg)

	// Set up router
	r := mux.NewRouter()

	// Apply global middleware
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger)
	r.Use(rateLimiter.Limit)

	// Register routes
	r.HandleFunc("/health", leaderboardHandler.HealthCheck).Methods("GET")
	r.HandleFunc("/cache/metrics", leaderboardHandler.CacheMetrics).Methods("GET")
	r.HandleFunc("/leaderboard/{periodType}/{periodKey}", leaderboardHandler.GetLeaderboard).Methods("GET")
	r.HandleFunc("/recompute/{periodType}/{periodKey}", leaderboardHandler.Recompute).Methods("POST")

	// Configure HTTP server
	serverAddress := fmt.Sprintf("%s:%s", cfg.WebServer.IP, cfg.WebServer.Port)
	server := &http.Server{
		Addr:         serverAddress,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.WebServer.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WebServer.WriteTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("address", serverAddress).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.WebServer.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Let an in-flight cron run finish before closing connections
	<-scheduler.Stop().Done()

	closeAll(names, rdb)
	log.Info().Msg("Stopped gracefully")
}

func closeAll(names *cache.NameCache, rdb interface{ Close() error }) {
	if names != nil {
		names.Close()
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Redis connection")
	}
}
