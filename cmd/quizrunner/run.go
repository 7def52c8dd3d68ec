package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/quizrunner/config"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
)

func runCMD(cfgPath *string) *cobra.Command {
	var startURL, email string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one quiz session from a start URL and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if startURL != "" {
				cfg.Quiz.StartURL = startURL
			}
			if email != "" {
				cfg.Quiz.Email = email
			}
			if err := cfg.RequireCredentials(); err != nil {
				return err
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

			res := a.RunJob(ctx, streams.Job{
				RunID:  uuid.NewString(),
				Email:  cfg.Quiz.Email,
				Secret: cfg.Quiz.Secret,
				URL:    cfg.Quiz.StartURL,
			})
			fmt.Fprint(cmd.OutOrStdout(), res.Summary())
			if code := res.ExitCode(); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&startURL, "url", "u", "", "start URL (overrides QUIZ_URL)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "participant email (overrides QUIZ_EMAIL)")
	return cmd
}
