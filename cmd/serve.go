package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mstgnz/payflow/gateway"
	"github.com/mstgnz/payflow/handler"
	"github.com/mstgnz/payflow/idempotency"
	"github.com/mstgnz/payflow/infra/auth"
	"github.com/mstgnz/payflow/infra/config"
	"github.com/mstgnz/payflow/infra/lock"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/middle"
	"github.com/mstgnz/payflow/infra/validate"
	"github.com/mstgnz/payflow/orchestrator"
	"github.com/mstgnz/payflow/payment"
	"github.com/mstgnz/payflow/retry"
	"github.com/mstgnz/payflow/router"
	"github.com/mstgnz/payflow/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the webhook workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	cfg, log := e.cfg, e.log

	manager, err := configureGateways(cfg, log)
	if err != nil {
		return err
	}

	locker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}

	var sink payment.EventSink = payment.NopSink{}
	if e.audit != nil {
		sink = e.audit
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:          e.store,
		Gateways:       manager,
		Guard:          idempotency.NewGuard(e.store, log),
		Retry:          retry.NewEngine(e.store, log),
		Strategies:     retry.Scale(retry.DefaultStrategies(), cfg.RetryScale),
		Locker:         locker,
		Sink:           sink,
		Logger:         log,
		CommandTimeout: cfg.CommandTimeout,
	})
	reconciler := webhook.NewReconciler(e.store, manager, locker, sink, log)

	queue, closeQueue, err := newQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := webhook.NewWorker(queue, reconciler, log).Run(workerCtx); err != nil {
			log.Error("Webhook worker stopped with error", err)
		}
	}()

	routes := router.Config{
		Payments:       handler.NewPaymentHandler(orch, validate.New(), log),
		Webhooks:       handler.NewWebhookHandler(reconciler, queue, log),
		Health:         handler.NewHealthHandler(e.store, manager, Version),
		Logger:         log,
		RequestTimeout: cfg.CommandTimeout + 10*time.Second,
		AllowedOrigins: cfg.CORSOrigins,
	}
	if cfg.JWTSecret != "" {
		routes.Auth = auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry)
	}
	if cfg.WebhookRateLimit > 0 {
		routes.WebhookLimiter = middle.NewRateLimiter(ctx, cfg.WebhookRateLimit, time.Minute)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router.New(routes),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      routes.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API is running", logger.LogContext{Fields: map[string]any{"port": cfg.Port, "gateways": manager.Names()}})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stopWorkers()
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", err)
	}

	// intake is closed before workers stop; buffered deliveries are drained
	closeQueue()
	stopWorkers()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("Webhook workers did not stop in time")
	}
	return nil
}

func configureGateways(cfg *config.AppConfig, log *logger.SystemLogger) (*gateway.Manager, error) {
	manager := gateway.NewManager(gateway.DefaultRegistry, log)

	names := make([]string, 0, len(cfg.Gateways))
	for name := range cfg.Gateways {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := manager.Configure(name, cfg.Gateways[name]); err != nil {
			log.Error("Failed to configure payment gateway", err, logger.LogContext{Gateway: name})
		}
	}
	if len(manager.Names()) == 0 {
		return nil, errors.New("no payment gateway could be configured, check GATEWAYS and the gateway settings")
	}
	return manager, nil
}

func newLocker(ctx context.Context, cfg *config.AppConfig, log *logger.SystemLogger) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		log.Info("Using in-process payment locks")
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Info("Using Redis payment locks", logger.LogContext{Fields: map[string]any{"addr": cfg.RedisAddr}})
	return lock.NewRedis(client, lock.RedisOptions{}, log), nil
}

func newQueue(ctx context.Context, cfg *config.AppConfig, log *logger.SystemLogger) (webhook.Queue, func(), error) {
	switch cfg.Queue.Driver {
	case "sqs":
		client, err := webhook.NewSQSClient(ctx, webhook.SQSConfig{
			QueueURL:  cfg.Queue.SQSURL,
			Region:    cfg.Queue.SQSRegion,
			AccessKey: cfg.Queue.AWSAccessKey,
			SecretKey: cfg.Queue.AWSSecretKey,
			Endpoint:  cfg.Queue.SQSEndpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Webhook deliveries go through SQS", logger.LogContext{Fields: map[string]any{"queue_url": cfg.Queue.SQSURL}})
		return webhook.NewSQSQueue(client, cfg.Queue.SQSURL, log), func() {}, nil
	default:
		q := webhook.NewMemoryQueue(cfg.Queue.Size, cfg.Queue.Workers, log)
		return q, q.Close, nil
	}
}
