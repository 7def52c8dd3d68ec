package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/quizrunner/config"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
	"github.com/mohammad-safakhou/quizrunner/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /start and run sessions on demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			logger := newLogger(os.Stderr, "[HTTP] ", cfg.General.Debug)
			opts := []server.Option{server.WithMetrics(a.metrics), server.WithLogger(logger)}
			if a.rdb != nil {
				rc := cfg.Storage.Redis
				if err := streams.EnsureGroup(ctx, a.rdb, rc.JobsStream, rc.Group); err != nil {
					return err
				}
				queue := streams.NewJobQueue(streams.NewPublisher(a.rdb), streams.NewSecretStore(a.rdb, 0), rc.JobsStream, 0)
				opts = append(opts, server.WithQueue(queue, func(ctx context.Context) (streams.LagMetrics, error) {
					return streams.GroupLag(ctx, a.rdb, rc.JobsStream, rc.Group)
				}))
				logger.Printf("async runs enabled on stream %s", rc.JobsStream)
			}

			srv, err := server.New(a, opts...)
			if err != nil {
				return err
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Server.Address) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Printf("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides server.address and PORT)")
	return cmd
}
