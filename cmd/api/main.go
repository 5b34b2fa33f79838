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
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/bbtraining/checkout-api/internal/account"
	"github.com/bbtraining/checkout-api/internal/auth"
	"github.com/bbtraining/checkout-api/internal/cache"
	"github.com/bbtraining/checkout-api/internal/checkout"
	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/common"
	"github.com/bbtraining/checkout-api/internal/config"
	"github.com/bbtraining/checkout-api/internal/health"
	"github.com/bbtraining/checkout-api/internal/ledger"
	"github.com/bbtraining/checkout-api/internal/lock"
	"github.com/bbtraining/checkout-api/internal/obs"
	"github.com/bbtraining/checkout-api/internal/payment"
	"github.com/bbtraining/checkout-api/internal/queue"
	"github.com/bbtraining/checkout-api/internal/ratelimit"
	"github.com/bbtraining/checkout-api/internal/resilience"
	"github.com/bbtraining/checkout-api/internal/security"
	"github.com/bbtraining/checkout-api/internal/tables"
	"github.com/bbtraining/checkout-api/internal/vat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "checkout")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Error().Err(err).Msg("register breaker metrics")
	}
	if err := queue.RegisterMetrics(nil); err != nil {
		logger.Error().Err(err).Msg("register queue metrics")
	}

	tracingEnabled := cfg.OTelEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   cfg.ServiceName,
			Endpoint:      cfg.OTelEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: cfg.OTelSampleRatio,
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

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	if cfg.DBAutoMigrate {
		if err := ledger.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate ledger")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ServiceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	outbound := func(target string, timeout time.Duration) *resilience.HTTPClient {
		l := obs.Component(logger, target)
		return &resilience.HTTPClient{
			Client:      commerce.NewHTTPClient(timeout),
			Breaker:     resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).WithTarget(target).WithLogger(l),
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitterPercent,
			Timeout:     timeout,
			Target:      target,
			Logger:      &l,
		}
	}

	store := commerce.NewClient(cfg.CommerceBaseURL, cfg.CommerceConsumerKey, cfg.CommerceConsumerSecret, outbound("commerce", cfg.CommerceTimeout))

	var source tables.Source = commerce.TablesSource{Client: store}
	if cfg.TablesSource == "yaml" {
		source = tables.FileSource{Path: cfg.TablesFile}
	}
	tableLoader := tables.NewLoader(source, cache.NewJSON(redisClient, cfg.TablesCacheTTL), obs.Component(logger, "tables"))
	if err := tableLoader.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("initial lookup tables load failed; serving empty tables until refresh")
	}
	go tableLoader.Run(rootCtx, cfg.TablesRefresh)

	vies := vat.NewViesClient(cfg.ViesBaseURL, outbound("vies", cfg.ViesTimeout), rate.NewLimiter(rate.Limit(cfg.ViesRatePerSec), cfg.ViesBurst))
	vies.MaxWait = cfg.ViesMaxWait
	vatService := vat.NewService(vies, cache.NewJSON(redisClient, cfg.VatCacheTTL), obs.Component(logger, "vat"))

	accounts := account.NewChecker(store, cache.NewJSON(redisClient, cfg.EmailCheckCacheTTL), obs.Component(logger, "account"))

	payments := outbound("payments", cfg.CommerceTimeout)
	paymentManager := payment.NewManager(
		payment.NewStripe(cfg.PaymentsBaseURL, payments),
		payment.NewPayPal(cfg.PaymentsBaseURL, payments),
	)

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse queue redis url")
	}
	taskClient := asynq.NewClient(redisConnOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	inspector := asynq.NewInspector(redisConnOpt)
	defer func() {
		_ = inspector.Close()
	}()

	checkoutSvc := &checkout.Service{
		Tables:      tableLoader,
		VAT:         vat.Evaluator{HomeCountry: cfg.VatHomeCountry, Validator: vatService},
		Accounts:    accounts,
		Orders:      store,
		Ledger:      ledger.NewStore(pool),
		Followups:   queue.Producer{Client: taskClient, Queue: queue.DefaultQueue, Delay: cfg.ReconcileTaskDelay, MaxRetry: cfg.QueueMaxRetry},
		Payments:    paymentManager,
		Lock:        lock.Locker{R: redisClient},
		LockTTL:     cfg.CheckoutLockTTL,
		Currency:    cfg.CurrencyCode,
		HomeCountry: cfg.VatHomeCountry,
		SuccessURL:  cfg.PaymentSuccess,
		CancelURL:   cfg.PaymentCancel,
		Logger:      obs.Component(logger, "checkout"),
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, VAT: vatService, Emails: accounts}
	queueAdmin := &queue.AdminHandler{Inspector: inspector, Queue: queue.DefaultQueue, Logger: obs.Component(logger, "queue-admin")}

	var authMiddleware auth.Middleware
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewVerifier(auth.Config{
			Secret:    cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
			ClockSkew: cfg.JWTSkew,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise token verifier")
		}
		authMiddleware = auth.Middleware{Verifier: verifier}
	}

	var limiter ratelimit.Limiter = ratelimit.Sliding{Client: redisClient, Prefix: "ratelimit:"}
	if cfg.RateLimitBackend == "ulule" {
		u, err := ratelimit.NewUlule(redisClient, "ratelimit")
		if err != nil {
			logger.Error().Err(err).Msg("initialise ulule limiter; using sliding window")
		} else {
			limiter = u
		}
	}
	limited := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByClientRoute, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}.Middleware

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.Tracing)
	}
	r.Use(httpMetrics.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.Use(authMiddleware.Authenticate)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Timeout: envDurationMillis("HEALTH_READY_TIMEOUT_MS", 500),
		Checks: map[string]health.CheckFunc{
			"db":     pool.Ping,
			"redis":  func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"tables": tableLoader.Ready,
		},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Get("/checkout", checkoutHandler.Config)
		api.Post("/checkout/quote", checkoutHandler.Quote)
		api.With(idem.Middleware).Post("/checkout", checkoutHandler.Submit)
		api.With(limited).Post("/auth/check-email", checkoutHandler.CheckEmail)
		api.With(limited).Post("/vat/validate", checkoutHandler.ValidateVat)

		api.Route("/admin/queue", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(authMiddleware.RequireRole("admin"))
			admin.Get("/stats", queueAdmin.Stats)
			admin.Get("/archived", queueAdmin.ListArchived)
			admin.Post("/archived/replay", queueAdmin.Replay)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("tables_source", source.Name()).Msg("server starting")
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
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
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
