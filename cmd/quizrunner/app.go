package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/quizrunner/config"
	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/inference"
	"github.com/mohammad-safakhou/quizrunner/internal/media"
	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/internal/ratelimit"
	"github.com/mohammad-safakhou/quizrunner/internal/telemetry"
	"github.com/mohammad-safakhou/quizrunner/internal/watchdog"
	"github.com/mohammad-safakhou/quizrunner/provider"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch"
)

// app holds the collaborators shared by every session of the process. The
// rate limiter inside inferrer is shared too, so consecutive sessions never
// exceed the call budget together.
type app struct {
	cfg      *config.Config
	metrics  *telemetry.Metrics
	inferrer *inference.Client
	pages    web_fetch.WebFetcher
	renderer web_fetch.WebFetcher
	media    *media.Fetcher
	watchdog *watchdog.Watchdog
	recorder orchestrator.Recorder
	rdb      *redis.Client

	orchLog  *log.Logger
	fetchLog *log.Logger
}

func newLogger(w io.Writer, prefix string, debug bool) *log.Logger {
	flags := log.LstdFlags
	if debug {
		flags |= log.Lmicroseconds | log.Lshortfile
	}
	return log.New(w, prefix, flags)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	debug := cfg.General.Debug
	a := &app{
		cfg:      cfg,
		metrics:  telemetry.NewMetrics(),
		orchLog:  newLogger(os.Stderr, "[ORCH] ", debug),
		fetchLog: newLogger(os.Stderr, "[MEDIA] ", debug),
	}
	inferLog := newLogger(os.Stderr, "[INFER] ", debug)

	limiter := ratelimit.New(cfg.Limits.CallsPerWindow, cfg.Limits.Window, ratelimit.WithWaitObserver(a.metrics.RateLimitWait))

	primary, err := buildProvider(cfg, cfg.LLM.Primary)
	if err != nil {
		return nil, err
	}
	opts := []inference.Option{
		inference.WithRetryPolicy(cfg.Limits.MaxRetries, cfg.Limits.InitialBackoff, cfg.Limits.MaxBackoff),
		inference.WithAttemptObserver(a.metrics.InferenceAttempt),
		inference.WithLogger(inferLog),
	}
	if cfg.LLM.Fallback != "" {
		fallback, err := buildProvider(cfg, cfg.LLM.Fallback)
		if err != nil {
			return nil, err
		}
		opts = append(opts, inference.WithFallback(fallback))
		inferLog.Printf("primary provider %s, fallback %s", primary.Name(), fallback.Name())
	}
	if a.inferrer, err = inference.New(primary, limiter, opts...); err != nil {
		return nil, err
	}

	fetchOpts := web_fetch.Options{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		MaxChars:  cfg.Fetch.MaxChars,
		UserAgent: cfg.Fetch.UserAgent,
	}
	if a.pages, err = web_fetch.NewWebFetcher(web_fetch.StaticFetcherType, fetchOpts); err != nil {
		return nil, err
	}
	mediaOpts := []media.Option{
		media.WithPageFetcher(a.pages),
		media.WithRate(cfg.Fetch.RequestsPerSecond),
		media.WithMaxChars(cfg.Fetch.MaxChars),
		media.WithLogger(a.fetchLog),
	}
	if quiz.RenderMode(cfg.Fetch.RenderJS) != quiz.RenderNever {
		if a.renderer, err = web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, fetchOpts); err != nil {
			return nil, err
		}
		mediaOpts = append(mediaOpts, media.WithRenderer(a.renderer))
	}
	a.media = media.New(mediaOpts...)
	a.watchdog = watchdog.New(cfg.Quiz.TaskTimeout, a.orchLog)
	a.recorder = orchestrator.NewNoopRecorder()

	if cfg.Storage.Redis.Enabled() {
		if a.rdb, err = connectRedis(ctx, cfg.Storage.Redis); err != nil {
			return nil, err
		}
		a.recorder = streams.NewJournal(streams.NewPublisher(a.rdb), cfg.Storage.Redis.EventsStream, 0)
	}
	return a, nil
}

func buildProvider(cfg *config.Config, name string) (provider.Provider, error) {
	p, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, failure.ConfigError{Field: "llm.providers." + name, Reason: "not configured"}
	}
	prov, err := provider.NewProvider(name, provider.Config{
		Type:        provider.Client(p.Type),
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     p.Timeout,
	})
	if err != nil {
		return nil, failure.ConfigError{Field: "llm.providers." + name, Reason: err.Error()}
	}
	return prov, nil
}

func connectRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{Addr: rc.Addr(), Password: rc.Password, DB: rc.DB}
	if rc.URL != "" {
		parsed, err := redis.ParseURL(rc.URL)
		if err != nil {
			return nil, failure.ConfigError{Field: "storage.redis.url", Reason: err.Error()}
		}
		opts = parsed
	}
	if rc.Timeout > 0 {
		opts.DialTimeout = rc.Timeout
		opts.ReadTimeout = rc.Timeout
		opts.WriteTimeout = rc.Timeout
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, rc.Timeout+time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", opts.Addr, err)
	}
	return rdb, nil
}

// RunJob runs one session with the job's credentials.
func (a *app) RunJob(ctx context.Context, job streams.Job) orchestrator.Result {
	clientOpts := []quiz.Option{
		quiz.WithPageFetcher(a.pages),
		quiz.WithLogger(a.fetchLog),
	}
	if a.renderer != nil {
		clientOpts = append(clientOpts, quiz.WithRenderer(a.renderer, quiz.RenderMode(a.cfg.Fetch.RenderJS)))
	}
	client := quiz.NewClient(job.Email, job.Secret, clientOpts...)

	loop, err := orchestrator.New(client, client, a.media, a.inferrer,
		orchestrator.WithWatchdog(a.watchdog),
		orchestrator.WithRecorder(a.recorder),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(telemetry.Tracer()),
		orchestrator.WithLogger(a.orchLog),
		orchestrator.WithTaskBudget(a.cfg.Quiz.MaxTaskAttempts, a.cfg.Quiz.MaxTasks),
	)
	if err != nil {
		return orchestrator.Result{RunID: job.RunID, State: orchestrator.Failed, StartURL: job.URL, Err: err, Reason: err.Error()}
	}
	return loop.Run(ctx, job.RunID, job.URL)
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
