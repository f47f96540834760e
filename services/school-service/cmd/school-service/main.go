package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolportal/libs/auth"
	"github.com/md-rashed-zaman/schoolportal/libs/config"
	"github.com/md-rashed-zaman/schoolportal/libs/db"
	"github.com/md-rashed-zaman/schoolportal/libs/httpx"
	"github.com/md-rashed-zaman/schoolportal/libs/kafkax"
	otelx "github.com/md-rashed-zaman/schoolportal/libs/otel"
	"github.com/md-rashed-zaman/schoolportal/libs/runtime"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/handlers"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/lifecycle"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/metrics"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	service := config.String("SERVICE_NAME", "school-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	storeTimeout := config.Duration("STORE_TIMEOUT", storage.DefaultTimeout)
	var (
		store  storage.Store
		source outbox.Source
		checks []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
		outboxRepo := outbox.NewRepository(pool)
		store = storage.NewPostgres(pool, outboxRepo, storeTimeout)
		source = outboxRepo
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		logger.Info("using postgres store")
	} else {
		mem := storage.NewMemory(nil, storeTimeout)
		store = mem
		source = mem.Outbox()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	var writer kafkax.MessageWriter
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		writer = kafkax.NewWriter(brokers)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	publisher := outbox.NewPublisher(source, writer, logger, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		OnSent:    m.OutboxSent,
	})
	go publisher.Run(ctx)

	svc := lifecycle.New(store, logger, m, lifecycle.Config{
		HashCost: config.Int("SEAT_SECRET_BCRYPT_COST", bcrypt.DefaultCost),
	})

	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("JWKS_TTL", 5*time.Minute))
	}
	secret := config.String("JWT_SECRET", "")
	if secret == "" && jwks == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL set, every protected request will be rejected")
	}
	verifier := auth.NewVerifier(secret, jwks)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "school:rl"), callerKey)
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute, callerKey)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	protect := func(next http.Handler) http.Handler {
		return httpx.Chain(next, auth.Require(verifier), rateLimitMW)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", metrics.Handler(registry))
	handlers.New(svc, logger).Register(mux, protect)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit"},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		m.Middleware(handlers.Routes...),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "school")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	_ = runtime.Serve(ctx, srv, logger, config.Duration("SHUTDOWN_GRACE", 10*time.Second))
}

// callerKey buckets authenticated requests per account and falls back to
// the client address.
func callerKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Sub != "" {
		return "acct:" + claims.Sub
	}
	return "ip:" + httpx.ClientKey(r)
}
