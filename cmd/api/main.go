package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotopt/internal/api"
	"slotopt/internal/auth"
	"slotopt/internal/config"
	"slotopt/internal/evaluation"
	"slotopt/internal/metrics"
	"slotopt/internal/oracle"
	"slotopt/internal/runs"
	"slotopt/internal/search"
	"slotopt/internal/store"
	"slotopt/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := newLogger(cfg)
	slog.SetDefault(log)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults, err := search.LoadDefaults(cfg.RunDefaultsFile)
	if err != nil {
		return err
	}

	var st store.Store = store.NewMemory()
	ready := func(context.Context) error { return nil }
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		st, ready = pg, pg.Ping
	}

	var broker api.EventBroker = api.NewBroker()
	if cfg.RedisURL != "" {
		rb, err := api.NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer func() { _ = rb.Close() }()
		broker = rb
		dbReady := ready
		ready = func(ctx context.Context) error {
			if err := dbReady(ctx); err != nil {
				return err
			}
			return rb.Ping(ctx)
		}
	}

	notifiers := []runs.Notifier{webhooks.NewPublisher(st, log)}
	if cfg.AMQP.URL != "" {
		q, closeQueue, err := webhooks.DialQueue(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.PublishTimeout, log)
		if err != nil {
			return err
		}
		defer closeQueue()
		notifiers = append(notifiers, q)
	}

	var oracles runs.OracleFactory
	if cfg.Oracle.URL != "" {
		oracles = func(optID string) evaluation.Oracle {
			return oracle.New(cfg.Oracle.URL, optID, cfg.Oracle.RPS, cfg.Oracle.Timeout)
		}
	}

	metrics.RegisterDefault()
	webhooks.NewWorker(st, cfg.Webhook.MaxAttempts, cfg.Webhook.Secret, log).Start(ctx)

	svc := runs.NewService(runs.Options{
		Store:       st,
		Defaults:    defaults,
		Oracle:      oracles,
		Notifiers:   notifiers,
		Events:      api.RunEvents(broker),
		Workers:     cfg.Workers,
		EvalWorkers: cfg.EvalWorkers,
		QueueSize:   cfg.QueueSize,
		Log:         log,
	})
	defer svc.Close()

	server := api.NewServer(svc, st, broker, auth.NewVerifier(cfg.AuthSecret), log)
	server.Ready = ready
	server.Info = map[string]any{
		"HTTP_ADDR":            cfg.HTTPAddr,
		"WORKERS":              cfg.Workers,
		"EVAL_WORKERS":         cfg.EvalWorkers,
		"RUN_QUEUE_SIZE":       cfg.QueueSize,
		"WEBHOOK_MAX_ATTEMPTS": cfg.Webhook.MaxAttempts,
		"HAS_DATABASE_URL":     cfg.DatabaseURL != "",
		"HAS_REDIS_URL":        cfg.RedisURL != "",
		"HAS_AMQP_URL":         cfg.AMQP.URL != "",
		"HAS_ORACLE_URL":       cfg.Oracle.URL != "",
		"ADMIN_AUTH":           cfg.AuthSecret != "",
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
