package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"msgwatch/internal/browser"
	"msgwatch/internal/capture"
	"msgwatch/internal/config"
	"msgwatch/internal/extract"
	"msgwatch/internal/job"
	"msgwatch/internal/metrics"
	"msgwatch/internal/notify"
	"msgwatch/internal/store"
	"msgwatch/internal/targets"
)

type pipelineOptions struct {
	limit    int // overrides targets.limit when > 0
	schedule bool
}

// runPipeline wires the browser, store and runner and either runs once or
// hands the runner to the scheduler. Everything that can fail because of
// configuration is opened before the first run.
func runPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) error {
	limit := cfg.Targets.Limit
	if opts.limit > 0 {
		limit = opts.limit
	}
	ts, err := targets.Load(cfg.Targets.Path, cfg.Targets.Sheet)
	if err != nil {
		return err
	}
	ts = targets.Limit(ts, limit)

	adapter, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer adapter.Close()

	alerter, err := newAlerter(cfg.Notify)
	if err != nil {
		return err
	}

	// The browser outlives the signal context so a run interrupted by
	// Ctrl+C can still finish its current target.
	session, err := browser.Open(context.Background(), browser.Config{
		ProfileDir:      cfg.Browser.ProfileDir,
		Headless:        cfg.Browser.Headless,
		ExecPath:        cfg.Browser.ExecPath,
		NavigateTimeout: time.Duration(cfg.Browser.NavigateTimeoutSeconds) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	extractor := extract.New()
	extractor.SuffixSingleEmbed = cfg.Extract.SuffixSingleEmbed

	runner := job.NewRunner(job.RunnerConfig{
		Interceptor: capture.NewInterceptor(session, capture.Config{
			ListenPath:  cfg.Capture.ListenPath,
			PageWait:    cfg.Capture.PageWait(),
			WaitTimeout: cfg.Capture.WaitTimeout(),
			Retries:     cfg.Capture.Retries,
			RetryDelay:  cfg.Capture.RetryDelay(),
			Logger:      logger,
		}),
		Extractor: extractor,
		Persister: store.NewWriter(store.WriterConfig{
			Adapter: adapter,
			Table:   cfg.Store.Table,
			Policy:  store.Policy(cfg.Store.Policy),
			Logger:  logger,
		}),
		Alerter: alerter,
		Logger:  logger,
	})

	logger.Info("monitor ready",
		"targets", len(ts),
		"source", cfg.Targets.Path,
		"store", cfg.Store.Driver,
		"table", cfg.Store.Table,
		"listen", cfg.Capture.ListenPath,
	)

	if !opts.schedule {
		stats := runner.RunOnce(ctx, ts)
		if stats.OK == 0 && stats.Fail > 0 {
			return fmt.Errorf("all %d visited targets failed", stats.Fail)
		}
		return nil
	}

	if cfg.Status.Enabled {
		startStatusServer(ctx, cfg)
	}

	sched := job.NewScheduler(job.SchedulerConfig{
		Run: func(ctx context.Context) job.RunStats {
			return runner.RunOnce(ctx, ts)
		},
		Interval:   cfg.Schedule.Interval(),
		RunOnStart: cfg.Schedule.RunOnStart,
		Heartbeat:  cfg.Schedule.Heartbeat(),
		Logger:     logger,
	})
	logger.Info("press Ctrl+C to stop")
	sched.Start(ctx)
	return nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Adapter, error) {
	switch sc.Driver {
	case "postgrest":
		return store.NewPostgREST(store.PostgRESTConfig{
			URL:     sc.URL,
			Key:     sc.Key,
			Table:   sc.Table,
			Headers: sc.Headers,
		})
	case "postgres":
		return store.NewPostgres(ctx, sc.DSN, sc.Table)
	case "sqlite":
		return store.NewSQLite(sc.SQLitePath, sc.Table)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

func newAlerter(nc config.NotifyConfig) (notify.Alerter, error) {
	if !nc.Telegram.Enabled {
		return notify.Nop{}, nil
	}
	tg, err := notify.NewTelegram(notify.TelegramConfig{
		Token:  nc.Telegram.Token,
		ChatID: nc.Telegram.ChatID,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("telegram alerts enabled")
	return tg, nil
}

func startStatusServer(ctx context.Context, cfg *config.Config) {
	// Heartbeats pause during a run; /healthz ignores staleness then.
	stale := 3 * cfg.Schedule.Heartbeat()
	srv := metrics.NewServer(metrics.ServerConfig{
		Addr:       cfg.Status.Addr,
		StaleAfter: stale,
		Logger:     logger,
	})
	go func() {
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("status server error", "err", err)
		}
	}()
}
