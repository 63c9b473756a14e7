package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic/queue-service/internal/board"
	"clinic/queue-service/internal/config"
	"clinic/queue-service/internal/httpapi"
	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/queue"
	"clinic/queue-service/internal/store/memory"
	"clinic/queue-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName    = "queue-service"
	requestTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	var demoPatients int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), demoPatients)
		},
	}
	cmd.Flags().IntVar(&demoPatients, "demo-patients", 0, "register N demo patients (memory driver only)")
	return cmd
}

func runServer(parent context.Context, demoPatients int) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer closeStore()

	if mem, ok := st.(*memory.Store); ok && demoPatients > 0 {
		seedDemoPatients(mem, demoPatients, logger)
	}

	hub := board.New(logger)
	manager, err := newManager(cfg, st, logger, hub)
	if err != nil {
		return err
	}

	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	defer closeLimiter()

	var api http.Handler = httpapi.NewHandler(manager).Routes()
	if cfg.AuthJWTSecret != "" {
		api = httpapi.AuthMiddleware([]byte(cfg.AuthJWTSecret), api)
	} else {
		logger.Warn().Msg("AUTH_JWT_SECRET not set, staff endpoints are unauthenticated")
	}

	// Only the API runs under the request timeout; board sessions stay open.
	root := http.NewServeMux()
	root.Handle("/board/", hub.Handler("/board"))
	root.Handle("/", httpapi.TimeoutMiddleware(requestTimeout, api))

	var handler http.Handler = httpapi.NewRateLimiter(limiter, logger).Middleware(root)
	handler = httpapi.LoggingMiddleware(logger, handler)
	handler = otelhttp.NewHandler(handler, serviceName)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if interval := cfg.AutoResetInterval(); interval > 0 {
		go runAutoReset(ctx, manager, interval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("queue-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("queue-service stopped")
	return nil
}

// runAutoReset purges prior days on every tick until ctx ends. Ticks inside
// the same day delete nothing.
func runAutoReset(ctx context.Context, manager *queue.Manager, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resetCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := manager.Reset(resetCtx)
			cancel()
			if err != nil {
				logger.Error().Err(err).Msg("auto reset error")
				continue
			}
			if deleted > 0 {
				logger.Info().Int64("deleted", deleted).Msg("auto reset removed old tickets")
			}
		}
	}
}

// newLimiter prefers a Redis-backed limiter shared across replicas and falls
// back to per-process buckets.
func newLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (httpapi.Limiter, func()) {
	rlCfg := httpapi.RateLimitConfig{PerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}
	if cfg.RedisURL == "" {
		return httpapi.NewLocalLimiter(rlCfg), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error().Err(err).Msg("invalid REDIS_URL, using in-process rate limiter")
		return httpapi.NewLocalLimiter(rlCfg), func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, rate limiting fails open until it recovers")
	}
	return httpapi.NewRedisLimiter(client, rlCfg), func() { _ = client.Close() }
}

func seedDemoPatients(mem *memory.Store, n int, logger zerolog.Logger) {
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		patient := mem.AddPatient(models.Patient{
			PatientID: id,
			Name:      "Demo Patient " + id[:8],
			Email:     id[:8] + "@demo.clinic",
		})
		logger.Info().Str("patient_id", patient.PatientID).Str("name", patient.Name).Msg("demo patient registered")
	}
}
