package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/notify"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "toko"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewTaskServer(cfg.RedisURL, cfg.TaskQueueName, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise task server")
	}

	worker := notify.Worker{Logger: logger}
	if cfg.AlertWebhookURL != "" {
		worker.Alerts = &notify.Alerter{
			URL:    cfg.AlertWebhookURL,
			Secret: cfg.AlertWebhookSecret,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{},
				Breaker:     resilience.NewBreaker(cfg.CircuitBackendMinReq, cfg.CircuitBackendFailureRate, cfg.CircuitBackendOpenFor).WithTarget("alert-webhook").WithLogger(logger),
				MaxAttempts: 1,
				Timeout:     cfg.OutboundTimeout,
				Target:      "alert-webhook",
				Logger:      &logger,
			},
		}
	}

	mux := asynq.NewServeMux()
	worker.Register(mux)

	logger.Info().Str("queue", cfg.TaskQueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
