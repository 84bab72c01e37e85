package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/sentinel"
)

// Default confidence thresholds. They are independent: MinConfidence gates
// lookups, ReviewConfidence only flags policies for manual review.
const (
	DefaultMinConfidence    = 0.85
	DefaultReviewConfidence = 0.75
)

// Store is the read-only lookup contract for consent policies.
// FindLatest returns sentinel.ErrNotFound when no policy for the exact
// (subject, purpose) pair expires after now.
type Store interface {
	FindLatest(ctx context.Context, subjectID string, purpose domain.Purpose, now time.Time) (*Policy, error)
}

// Service fetches confidence-gated policies.
type Service struct {
	store            Store
	logger           *slog.Logger
	minConfidence    float64
	reviewConfidence float64
	now              func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMinConfidence overrides the fetch gate.
func WithMinConfidence(v float64) Option {
	return func(s *Service) { s.minConfidence = v }
}

// WithReviewConfidence overrides the manual review threshold.
func WithReviewConfidence(v float64) Option {
	return func(s *Service) { s.reviewConfidence = v }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a policy service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		logger:           slog.Default(),
		minConfidence:    DefaultMinConfidence,
		reviewConfidence: DefaultReviewConfidence,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinConfidence returns the configured fetch gate.
func (s *Service) MinConfidence() float64 { return s.minConfidence }

// NeedsReview reports whether a score falls below the manual review threshold.
func (s *Service) NeedsReview(score float64) bool {
	return NeedsReview(score, s.reviewConfidence)
}

// NeedsReview reports whether score is below threshold.
func NeedsReview(score, threshold float64) bool {
	return score < threshold
}

// Fetch returns the active policy for (subjectID, purpose). Failures are
// terminal for the caller: no retry and no fallback policy.
func (s *Service) Fetch(ctx context.Context, subjectID string, purpose domain.Purpose) (*Policy, error) {
	policy, err := s.store.FindLatest(ctx, subjectID, purpose, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			msg := fmt.Sprintf("no active consent policy for subject %s and purpose %s", subjectID, purpose)
			return nil, dErrors.New(dErrors.CodeConsentNotFound, msg).WithJustifications([]string{msg})
		}
		if errors.Is(err, ErrMalformedPolicy) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored consent policy is malformed")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fetch consent policy")
	}
	if policy.ConfidenceScore < s.minConfidence {
		msg := fmt.Sprintf("consent policy confidence %.2f is below required %.2f", policy.ConfidenceScore, s.minConfidence)
		return nil, dErrors.New(dErrors.CodeConsentConfidenceTooLow, msg).WithJustifications([]string{msg})
	}
	return policy, nil
}

// FetchOptional is the advisory variant of Fetch: any failure yields nil.
func (s *Service) FetchOptional(ctx context.Context, subjectID string, purpose domain.Purpose) *Policy {
	policy, err := s.Fetch(ctx, subjectID, purpose)
	if err != nil {
		s.logger.DebugContext(ctx, "optional consent policy lookup failed",
			"subject_id", subjectID,
			"purpose", purpose,
			"error", err,
		)
		return nil
	}
	return policy
}
