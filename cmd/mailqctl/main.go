// mailqctl is the operator surface for the email queue: manual drains,
// retention sweeps, and queue inspection without going through the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/circuitbreaker"
	"github.com/ltfpqrr/mailroom/internal/config"
	"github.com/ltfpqrr/mailroom/internal/engine"
	"github.com/ltfpqrr/mailroom/internal/mailer"
	"github.com/ltfpqrr/mailroom/internal/observ"
	"github.com/ltfpqrr/mailroom/internal/petmail"
	"github.com/ltfpqrr/mailroom/internal/render"
	"github.com/ltfpqrr/mailroom/internal/scheduler"
	"github.com/ltfpqrr/mailroom/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "mailqctl",
		Short: "Operate the mailroom email queue",
	}

	root.AddCommand(processCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles everything a command needs against a live database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *store.DB
	queues *store.QueueStore
	logs   *store.LogStore
	sched  *scheduler.Scheduler
}

func setup(ctx context.Context, withEngine bool) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := store.New(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		db:     db,
		queues: store.NewQueueStore(db, cfg.QueueTTL(), cfg.MaxRetries, logger),
		logs:   store.NewLogStore(db, logger),
	}

	var eng scheduler.Processor
	if withEngine {
		m, err := buildMailer(ctx, cfg, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(cfg.MailerDriver), logger)
		protected := circuitbreaker.NewProtectedMailer(m, breaker, logger)

		renderer := render.New(render.SystemVars{
			SiteURL:      cfg.SiteURL,
			AppName:      cfg.AppName,
			SupportEmail: cfg.SupportEmail,
		})
		petService := petmail.NewService(petmail.NewPGResolver(db), logger)

		eng = engine.New(
			e.queues, e.logs, store.NewTemplateStore(db, logger),
			renderer, protected, petService.Handlers(),
			engine.Config{SendTimeout: cfg.SendTimeout},
			logger,
		)
	}
	e.sched = scheduler.New(e.queues, e.logs, eng, scheduler.Config{
		BatchSize:     cfg.BatchSize,
		RetentionDays: cfg.RetentionDays,
	}, logger)

	return e, nil
}

func (e *env) close() {
	e.db.Close()
	_ = e.logger.Sync()
}

func processCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Drain due queue items once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer e.close()

			stats := e.sched.ProcessLimit(ctx, limit)
			fmt.Printf("processed=%d sent=%d retried=%d failed=%d expired=%d\n",
				stats.Processed, stats.Sent, stats.Retried, stats.Failed, stats.Expired)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items to process")
	return cmd
}

func cleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete settled items and logs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer e.close()

			queueDeleted, logsDeleted := e.sched.Cleanup(ctx, days)
			fmt.Printf("queue_deleted=%d logs_deleted=%d\n", queueDeleted, logsDeleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (0 uses RETENTION_DAYS)")
	return cmd
}

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and last-24h delivery activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer e.close()

			counts, err := e.queues.CountByStatus(ctx)
			if err != nil {
				return err
			}
			activity, err := e.logs.ActivitySince(ctx, time.Now().UTC().Add(-24*time.Hour))
			if err != nil {
				return err
			}

			if asJSON {
				out := map[string]any{"queue": counts, "last_24h": activity}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Println("queue:")
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Printf("  %-12s %d\n", s, counts[s])
			}
			fmt.Println("last 24h:")
			fmt.Printf("  total        %d\n", activity.Total)
			for s, n := range activity.ByStatus {
				fmt.Printf("  %-12s %d\n", s, n)
			}
			fmt.Printf("  failure rate %.1f%%\n", activity.FailureRate*100)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}

func buildMailer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mailer.Mailer, error) {
	switch cfg.MailerDriver {
	case "ses":
		m, err := mailer.NewSESMailer(ctx, mailer.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create SES mailer: %w", err)
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
