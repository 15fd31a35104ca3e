package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/api"
	"github.com/ltfpqrr/mailroom/internal/campaign"
	"github.com/ltfpqrr/mailroom/internal/circuitbreaker"
	"github.com/ltfpqrr/mailroom/internal/config"
	"github.com/ltfpqrr/mailroom/internal/engine"
	"github.com/ltfpqrr/mailroom/internal/mailer"
	"github.com/ltfpqrr/mailroom/internal/metrics"
	"github.com/ltfpqrr/mailroom/internal/observ"
	"github.com/ltfpqrr/mailroom/internal/petmail"
	"github.com/ltfpqrr/mailroom/internal/redis"
	"github.com/ltfpqrr/mailroom/internal/render"
	"github.com/ltfpqrr/mailroom/internal/scheduler"
	"github.com/ltfpqrr/mailroom/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mailroom",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("mailer_driver", cfg.MailerDriver),
	)

	ctx := context.Background()

	db, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	queueStore := store.NewQueueStore(db, cfg.QueueTTL(), cfg.MaxRetries, logger)
	templateStore := store.NewTemplateStore(db, logger)
	logStore := store.NewLogStore(db, logger)
	campaignStore := store.NewCampaignStore(db, logger)

	// Redis is optional: without it the API runs unthrottled and campaign
	// resume dedup only survives within the process.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	var guard campaign.Guard = campaign.NewMemoryGuard()
	if redisClient != nil {
		defer redisClient.Close()
		guard = redis.NewFanoutGuard(redisClient, logger)
		if cfg.RateLimitPerMinute > 0 {
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitPerMinute,
				Window: time.Minute,
			})
		}
	}

	m, err := buildMailer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(cfg.MailerDriver), logger)
	protected := circuitbreaker.NewProtectedMailer(m, breaker, logger)

	renderer := render.New(render.SystemVars{
		SiteURL:      cfg.SiteURL,
		AppName:      cfg.AppName,
		SupportEmail: cfg.SupportEmail,
	})

	petService := petmail.NewService(petmail.NewPGResolver(db), logger)

	eng := engine.New(
		queueStore, logStore, templateStore,
		renderer, protected, petService.Handlers(),
		engine.Config{SendTimeout: cfg.SendTimeout},
		logger,
	)

	sched := scheduler.New(queueStore, logStore, eng, scheduler.Config{
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		RetentionDays: cfg.RetentionDays,
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go sched.Start(schedCtx)

	fanout := campaign.NewFanout(
		campaignStore, queueStore, templateStore,
		campaign.NewPGAudience(db), guard, logger,
	)

	handler := api.NewHandler(logger, queueStore, logStore, sched, fanout, campaignStore)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/emails", handler.EnqueueEmail)
		r.Get("/emails/{id}", handler.GetEmail)
		r.Get("/emails/{id}/logs", handler.GetEmailLogs)
		r.Post("/emails/{id}/requeue", handler.RequeueEmail)

		r.Get("/status", handler.GetStatus)
		r.Post("/process", handler.ProcessQueue)
		r.Post("/cleanup", handler.CleanupQueue)

		r.Post("/campaigns", handler.CreateCampaign)
		r.Get("/campaigns", handler.ListCampaigns)
		r.Get("/campaigns/{id}", handler.GetCampaign)
		r.Post("/campaigns/{id}/send", handler.SendCampaign)
		r.Post("/campaigns/{id}/resume", handler.ResumeCampaign)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

func buildMailer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mailer.Mailer, error) {
	switch cfg.MailerDriver {
	case "ses":
		m, err := mailer.NewSESMailer(ctx, mailer.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES mailer: %w", err)
		}
		return m, nil
	case "log":
		return mailer.NewLogMailer(logger), nil
	default:
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			FromEmail: cfg.FromEmail,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			TLSMode:   cfg.SMTPTLSMode,
		}, logger), nil
	}
}
