package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/config"
	"github.com/unbound/trust-relay-go/internal/database"
	"github.com/unbound/trust-relay-go/internal/handler"
	"github.com/unbound/trust-relay-go/internal/jobs"
	"github.com/unbound/trust-relay-go/internal/middleware"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/redis"
	"github.com/unbound/trust-relay-go/internal/repository"
	"github.com/unbound/trust-relay-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)
	trustGraphRepo := repository.NewTrustGraphRepository(db.DB)
	pairwiseRepo := repository.NewPairwiseSecretRepository(db.DB)
	runRepo := repository.NewRunRepository(db.DB)
	viewerRepo := repository.NewViewerRepository(db.DB)
	webSessionRepo := repository.NewWebSessionRepository(db.DB)

	broker := realtime.NewBroker(redisClient)
	defer broker.Close()
	presence := realtime.NewPresence(redisClient)

	trustService := service.NewTrustService(db, deviceRepo, trustGraphRepo, pairwiseRepo, broker)
	deviceService := service.NewDeviceService(deviceRepo, broker)
	pairwiseService := service.NewPairwiseService(deviceRepo, pairwiseRepo, trustService)
	pairingService := service.NewPairingService(
		db, deviceRepo, trustGraphRepo, trustService, pairwiseService, broker, cfg.PairingTTLSeconds,
	)
	webSessionService := service.NewWebSessionService(
		webSessionRepo, deviceRepo, trustService, broker,
		cfg.SessionTTLSeconds, cfg.SessionMaxIdleSeconds,
	)
	runService := service.NewRunService(
		runRepo, viewerRepo, webSessionRepo, trustService, presence, broker,
	)

	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	deviceHandler := handler.NewDeviceHandler(deviceService, trustService)
	trustHandler := handler.NewTrustHandler(trustService, pairwiseService)
	pairingHandler := handler.NewPairingHandler(pairingService)
	webSessionHandler := handler.NewWebSessionHandler(webSessionService)
	runHandler := handler.NewRunHandler(runService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/devices", deviceHandler.Routes())
		r.Mount("/trust", trustHandler.Routes())
		r.Mount("/pairing", pairingHandler.Routes())
		r.Mount("/web-sessions", webSessionHandler.Routes())
		r.Mount("/runs", runHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(
		trustService, webSessionService, runService,
		cfg.RunStaleThreshold(), config.SweepJobInterval,
	)
	sweepJob.Start()
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
