package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"consentgate/internal/ratelimit"
	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/httputil"
	"consentgate/pkg/requestcontext"
)

// Middleware enforces a per-caller request budget.
type Middleware struct {
	store   ratelimit.Store
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *ratelimit.Metrics
	now     func() time.Time
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithMetrics records rejections and store failures.
func WithMetrics(m *ratelimit.Metrics) Option {
	return func(mw *Middleware) { mw.metrics = m }
}

// WithClock overrides the time source used for Retry-After.
func WithClock(now func() time.Time) Option {
	return func(mw *Middleware) { mw.now = now }
}

// New creates a limiter admitting limit requests per window for each caller.
func New(store ratelimit.Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerActor keys the budget on the caller identity, falling back to the client
// IP when none is set. Store failures let the request through.
func (m *Middleware) PerActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := ratelimit.ClientKey(requestcontext.ClientIP(ctx))
		if actorID := requestcontext.ActorID(ctx); actorID != "" {
			key = ratelimit.ActorKey(requestcontext.Organization(ctx), actorID)
		}

		result, err := m.store.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.metrics.IncrementStoreError()
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncrementRejected()
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"actor_id", requestcontext.ActorID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(m.now())))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
