package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/mohammad-safakhou/quizrunner/config"
	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
	"github.com/mohammad-safakhou/quizrunner/internal/telemetry"
	"github.com/mohammad-safakhou/quizrunner/internal/worker"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued runs from the Redis jobs stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Storage.Redis.Enabled() {
				return failure.ConfigError{Field: "storage.redis", Reason: "worker requires REDIS_URL or storage.redis.host"}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.Telemetry.Enabled {
				a.metrics.Serve(ctx, cfg.Telemetry.MetricsPort, a.orchLog)
			}

			rc := cfg.Storage.Redis
			if err := streams.EnsureGroup(ctx, a.rdb, rc.JobsStream, rc.Group); err != nil {
				return err
			}
			if name == "" {
				name = "worker-" + uuid.NewString()[:8]
			}
			logger := newLogger(os.Stderr, "[WORKER] ", cfg.General.Debug)
			consumer := streams.NewConsumer(a.rdb, rc.Group, name, logger)
			if lag, err := streams.GroupLag(ctx, a.rdb, rc.JobsStream, rc.Group); err == nil {
				logger.Printf("consumer %s joining group %s: %s", name, rc.Group, lag)
			}

			p := worker.NewProcessor(logger, consumer, rc.JobsStream, a, otel.Meter("quizrunner/worker"), telemetry.Tracer(),
				worker.WithSecrets(streams.NewSecretStore(a.rdb, 0)))
			return p.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default worker-<random>)")
	return cmd
}
