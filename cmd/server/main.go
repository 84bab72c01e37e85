package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"consentgate/internal/access"
	accesshandler "consentgate/internal/access/handler"
	"consentgate/internal/audit"
	auditkafka "consentgate/internal/audit/store/kafka"
	"consentgate/internal/audit/store/logsink"
	auditpostgres "consentgate/internal/audit/store/postgres"
	"consentgate/internal/consent"
	consentfile "consentgate/internal/consent/store/file"
	consentmemory "consentgate/internal/consent/store/memory"
	consentpostgres "consentgate/internal/consent/store/postgres"
	"consentgate/internal/credential"
	credentialmemory "consentgate/internal/credential/store/memory"
	credentialredis "consentgate/internal/credential/store/redis"
	decisionmetrics "consentgate/internal/decision/metrics"
	jwttoken "consentgate/internal/jwt_token"
	"consentgate/internal/platform/config"
	"consentgate/internal/platform/httpserver"
	"consentgate/internal/platform/kafka"
	"consentgate/internal/platform/logger"
	"consentgate/internal/platform/metrics"
	"consentgate/internal/platform/middleware"
	"consentgate/internal/platform/postgres"
	"consentgate/internal/platform/redis"
	"consentgate/internal/platform/telemetry"
	"consentgate/internal/ratelimit"
	ratelimitmw "consentgate/internal/ratelimit/middleware"
	ratelimitmemory "consentgate/internal/ratelimit/store/memory"
	ratelimitredis "consentgate/internal/ratelimit/store/redis"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	policies, watchPolicies, err := buildPolicyStore(ctx, cfg, log, &closers)
	if err != nil {
		return err
	}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	credentials := buildCredentialStore(redisClient, cfg, log)
	sink, err := buildAuditSink(ctx, cfg, log, &closers)
	if err != nil {
		return err
	}

	tokens, err := jwttoken.NewJWTService(cfg.Token.SigningKey, cfg.Token.Issuer, jwttoken.WithTTL(cfg.Token.TTL))
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	emitter := audit.NewEmitter(sink,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics()),
	)

	consentSvc := consent.NewService(policies,
		consent.WithMinConfidence(cfg.Policy.MinConfidence),
		consent.WithReviewConfidence(cfg.Policy.ReviewConfidence),
		consent.WithLogger(log),
	)
	accessSvc, err := access.NewService(consentSvc, tokens, credentials, emitter,
		access.WithLogger(log),
		access.WithMetrics(decisionmetrics.New()),
	)
	if err != nil {
		return err
	}

	handlerOpts := []accesshandler.Option{accesshandler.WithOperatorToken(cfg.OperatorToken)}
	if limiter := buildRateLimiter(redisClient, cfg, log); limiter != nil {
		handlerOpts = append(handlerOpts, accesshandler.WithRateLimit(limiter))
	}
	checks := map[string]accesshandler.HealthCheck{"credential_store": accessSvc.Health}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	handler := accesshandler.New(accessSvc, log, checks, handlerOpts...)

	r := chi.NewRouter()
	r.Use(telemetry.Middleware(cfg.Tracing.ServiceName))
	r.Use(middleware.RequestMetadata)
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logger(log, metrics.New()))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handler.Register(r)

	srv := httpserver.New(cfg.Addr, r)

	g.Go(func() error {
		return emitter.Run(gctx)
	})
	if watchPolicies != nil {
		g.Go(func() error { return watchPolicies(gctx) })
	}
	g.Go(func() error {
		log.Info("starting consentgate", "addr", cfg.Addr, "audit_sink", cfg.Audit.Sink)
		return httpserver.Run(gctx, srv, shutdownTimeout)
	})

	err = g.Wait()
	if cerr := emitter.Close(); cerr != nil {
		log.Warn("audit emitter close failed", "error", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildPolicyStore prefers a policy file, then Postgres, then an empty
// in-memory store. The returned watch func is non-nil only for the file store.
func buildPolicyStore(ctx context.Context, cfg config.Server, log *slog.Logger, closers *[]func()) (consent.Store, func(context.Context) error, error) {
	switch {
	case cfg.Policy.File != "":
		store, err := consentfile.New(cfg.Policy.File,
			consentfile.WithLogger(log),
			consentfile.WithReviewThreshold(cfg.Policy.ReviewConfidence),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("load policy file: %w", err)
		}
		return store, store.Watch, nil

	case cfg.Postgres.URL != "":
		pool, err := postgres.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, pool.Close)
		log.Info("serving consent policies from postgres")
		return consentpostgres.New(pool), nil, nil

	default:
		log.Warn("no policy source configured, every request will be denied")
		return consentmemory.New(), nil, nil
	}
}

func buildCredentialStore(client *redis.Client, cfg config.Server, log *slog.Logger) credential.Store {
	if client == nil {
		log.Warn("REDIS_URL not set, using in-memory credential store")
		return credentialmemory.New(credentialmemory.WithTTL(cfg.Token.CredentialTTL))
	}
	return credentialredis.New(client.Client, credentialredis.WithTTL(cfg.Token.CredentialTTL))
}

// buildRateLimiter shares counters through Redis when it is configured.
func buildRateLimiter(client *redis.Client, cfg config.Server, log *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Limits.Requests == 0 {
		log.Info("rate limiting disabled")
		return nil
	}
	var store ratelimit.Store = ratelimitmemory.New()
	if client != nil {
		store = ratelimitredis.New(client.Client)
	}
	mw := ratelimitmw.New(store, cfg.Limits.Requests, cfg.Limits.Window, log,
		ratelimitmw.WithMetrics(ratelimit.NewMetrics()),
	)
	return mw.PerActor
}

func buildAuditSink(ctx context.Context, cfg config.Server, log *slog.Logger, closers *[]func()) (audit.Sink, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkPostgres:
		db, err := postgres.OpenDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return auditpostgres.New(db), nil

	case config.AuditSinkKafka:
		cl, err := kafka.NewProducer(ctx, cfg.Kafka)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, cl.Close)
		return auditkafka.New(cl, cfg.Kafka.Topic), nil

	default:
		return logsink.New(log), nil
	}
}
