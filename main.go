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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"menutrack/api/config"
	"menutrack/api/database"
	"menutrack/api/handlers"
	"menutrack/api/middleware"
	"menutrack/api/store"
	"menutrack/api/utils"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Logger = utils.SetupLogger(!cfg.Release)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}

	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL (restaurants) ---
	dbClient, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL database")
	}
	defer dbClient.Close()

	// --- ClickHouse (analytics events) ---
	chClient, err := database.NewClickHouseDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ClickHouse database")
	}
	defer chClient.Close()

	restaurantStore := store.NewRestaurantStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient)

	limiter := utils.NewRateLimiter(utils.RateLimiterConfig{
		Limit:           cfg.RateLimit,
		Window:          cfg.RateLimitWindow,
		CleanupInterval: 5 * time.Minute,
	})
	defer limiter.Stop()

	analyticsHandlers := handlers.NewAnalyticsHandlers(analyticsStore, restaurantStore, limiter, utils.NewAnonymizer(cfg.IPSalt))
	statsHandlers := handlers.NewStatsHandlers(analyticsStore, restaurantStore)

	r, err := NewRouter(cfg, analyticsHandlers, statsHandlers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}

// NewRouter wires the public ingestion routes and the owner stats routes.
// Forwarding headers are only believed from cfg.TrustedProxies, since the
// client IP keys the ingestion rate limit.
func NewRouter(cfg *config.Config, analytics *handlers.AnalyticsHandlers, stats *handlers.StatsHandlers) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// public menu pages post here without credentials
	track := r.Group("/analytics")
	{
		track.POST("/track", analytics.TrackEvent)
		track.POST("/track/batch", analytics.TrackBatch)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	protected.Use(middleware.AuthRequired(cfg.JWTSecret, cfg.APIKey))
	{
		protected.GET("/profile", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"user_id":    c.GetInt("user_id"),
				"user_email": c.GetString("user_email"),
			})
		})

		statsGroup := protected.Group("/stats")
		{
			statsGroup.GET("/event-counts", stats.GetEventCountsOverTime)
			statsGroup.GET("/average-time-spent", stats.GetAverageTimeSpent)
			statsGroup.GET("/unique-sessions", stats.GetUniqueSessionsOverTime)
			statsGroup.GET("/top-items", stats.GetTopItems)
			statsGroup.GET("/devices", stats.GetDeviceBreakdown)
		}
	}

	return r, nil
}
