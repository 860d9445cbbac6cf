package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/notify"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/security"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "toko")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-storefront",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	redisClient, err := app.NewRedis(startCtx, cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	transport := http.DefaultTransport
	if tracingEnabled {
		transport = otelhttp.NewTransport(transport)
	}
	outbound := &http.Client{Transport: transport}

	backendHTTP := resilience.HTTPClient{
		Client:      outbound,
		Breaker:     resilience.NewBreaker(cfg.CircuitBackendMinReq, cfg.CircuitBackendFailureRate, cfg.CircuitBackendOpenFor).WithTarget("store-backend").WithLogger(logger),
		MaxAttempts: 1,
		Timeout:     cfg.OutboundTimeout,
		Target:      "store-backend",
		Logger:      &logger,
	}
	sessions := session.Client{
		BaseURL:        cfg.BackendURL,
		PublishableKey: cfg.PublishableKey,
		HTTP:           backendHTTP,
	}

	scriptLoader := widget.NewLoader(widget.HTTPScript{
		URL:        cfg.ScriptURL,
		EntryPoint: cfg.ScriptEntryPoint,
		HTTP: resilience.HTTPClient{
			Client:      outbound,
			Breaker:     resilience.NewBreaker(cfg.CircuitBackendMinReq, cfg.CircuitBackendFailureRate, cfg.CircuitBackendOpenFor).WithTarget("checkout-script").WithLogger(logger),
			BaseBackoff: envDurationMillis("CHECKOUT_SCRIPT_RETRY_BASE_MS", 200),
			MaxAttempts: envInt("CHECKOUT_SCRIPT_RETRY_MAX_ATTEMPTS", 2),
			Jitter:      0.2,
			Timeout:     cfg.ScriptLoadTimeout,
			Target:      "checkout-script",
			Logger:      &logger,
		},
	}, widget.WithLoadTimeout(cfg.ScriptLoadTimeout), widget.WithLoaderLogger(logger))
	hosted := widget.NewHosted(widget.WithInvocationTTL(cfg.LeaseTTL))

	checkoutCfg := checkout.Config{
		StoreName:        cfg.StoreName,
		ThemeColor:       cfg.ThemeColor,
		ConfirmationPath: cfg.ConfirmationPath,
		SubmitTimeout:    cfg.SubmitTimeout,
		Logger:           logger,
	}
	if cfg.TaskQueueEnabled {
		taskClient, err := app.NewTaskClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task client")
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
		checkoutCfg.Observers = append(checkoutCfg.Observers, notify.Publisher{
			Client:   taskClient,
			Queue:    cfg.TaskQueueName,
			MaxRetry: envInt("TASK_MAX_RETRY", 10),
			Logger:   logger,
		})
	}

	manager := checkout.NewManager(checkout.ManagerDeps{
		Retriever: sessions,
		Loader:    scriptLoader,
		Widget:    hosted,
		Sessions:  sessions,
		Leaser:    lock.Leaser{R: redisClient, Prefix: "checkout:lease:", TTL: cfg.LeaseTTL},
		Config:    checkoutCfg,
		Retain:    envDurationMillis("CHECKOUT_RETAIN_MS", 600000),
		IdleTTL:   envDurationMillis("CHECKOUT_IDLE_TTL_MS", 1800000),
	})
	sweepEvery := envDurationMillis("CHECKOUT_SWEEP_INTERVAL_MS", 60000)
	go hosted.Run(ctx, sweepEvery)
	go manager.Run(ctx, sweepEvery)

	limiterStore, err := app.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	payLimit, err := ratelimit.New(limiterStore, cfg.PayRateLimit, ratelimit.ClientIPKey)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.PayRateLimit).Msg("parse pay rate limit")
	}
	payLimit.OnError = func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	checkoutHandler := &checkout.Handler{
		Manager:       manager,
		Invocations:   hosted,
		PayMiddleware: []func(http.Handler) http.Handler{payLimit.Middleware, idem.Middleware},
	}
	healthHandler := health.Handler{
		Checker: health.Dependencies{Backend: sessions, Redis: redisClient},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "Traceparent"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1/checkout", checkoutHandler.Routes)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_GRACE_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("backend", cfg.BackendURL).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
