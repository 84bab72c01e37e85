// Package access composes policy lookup, evaluation, query rewriting,
// credential issuance and auditing into the gateway's request lifecycle.
//
// The service holds no per-request state. Credential persistence and audit
// emission are side channels: their failures are logged and counted but never
// change a decision that has already been reached.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentgate/internal/audit"
	"consentgate/internal/credential"
	"consentgate/internal/decision"
	"consentgate/internal/decision/metrics"
	jwttoken "consentgate/internal/jwt_token"
	"consentgate/internal/query"
	"consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/circuit"
	fieldutil "consentgate/pkg/platform/strings"
	"consentgate/pkg/requestcontext"
)

const (
	defaultPersistTimeout = 500 * time.Millisecond
	defaultEmergencyTTL   = 5 * time.Minute
)

const tracerName = "consentgate/internal/access"

// Service orchestrates access decisions.
type Service struct {
	policies    PolicyFetcher
	tokens      TokenSigner
	credentials credential.Store
	audit       AuditEmitter

	logger         *slog.Logger
	metrics        *metrics.Metrics
	breaker        *circuit.Breaker
	tracer         trace.Tracer
	now            func() time.Time
	persistTimeout time.Duration
	emergencyTTL   time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCredentialBreaker guards credential persistence with b.
func WithCredentialBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPersistTimeout bounds the best-effort credential write.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithEmergencyTTL sets the signed lifetime of break-glass credentials.
func WithEmergencyTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.emergencyTTL = d
		}
	}
}

// NewService wires the orchestrator. All collaborators are required.
func NewService(policies PolicyFetcher, tokens TokenSigner, credentials credential.Store, emitter AuditEmitter, opts ...Option) (*Service, error) {
	if policies == nil || tokens == nil || credentials == nil || emitter == nil {
		return nil, errors.New("access: policies, tokens, credentials and audit emitter are required")
	}
	s := &Service{
		policies:       policies,
		tokens:         tokens,
		credentials:    credentials,
		audit:          emitter,
		logger:         slog.Default(),
		breaker:        circuit.New("credential_store"),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
		emergencyTTL:   defaultEmergencyTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle evaluates req for actor and, unless denied, returns a rewritten query
// with a credential scoped to the permitted fields.
//
// Errors: CodeUnauthorized (missing actor), CodeInvalidRequest, CodeConsentNotFound,
// CodeConsentConfidenceTooLow, CodeAccessDenied (with justifications),
// CodeQueryRewriteFailed, CodeInternal.
func (s *Service) Handle(ctx context.Context, req Request, actor domain.Actor) (result *Result, err error) {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	ctx, span := s.tracer.Start(ctx, "access.Handle", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID),
		attribute.String("purpose", req.Purpose),
	))
	start := s.now()
	defer func() {
		s.metrics.ObserveHandleLatency(s.now().Sub(start))
		s.finishSpan(span, err)
	}()

	if err := actor.Validate(); err != nil {
		return nil, s.reject(err)
	}
	purpose, fields, err := validateRequest(req)
	if err != nil {
		return nil, s.reject(err)
	}
	requestID := requestIDFrom(ctx)
	span.SetAttributes(attribute.String("request_id", requestID))

	policy, err := s.policies.Fetch(ctx, req.SubjectID, purpose)
	if err != nil {
		if isAuthorizationFailure(err) {
			s.audit.Emit(ctx, audit.NewAccessEvent(s.now(), actor, req.SubjectID, purpose, requestID, decision.PolicyDecision{
				Decision:       decision.DecisionDeny,
				Justifications: dErrors.JustificationsOf(err),
			}))
		}
		return nil, s.reject(err)
	}

	d := decision.EvaluateRequest(policy, fields, decision.RequestContext{StudyID: req.StudyID})
	s.metrics.IncrementOutcome(string(d.Decision), string(purpose))
	span.SetAttributes(attribute.String("decision", string(d.Decision)))

	if d.IsDeny() {
		s.audit.Emit(ctx, audit.NewAccessEvent(s.now(), actor, req.SubjectID, purpose, requestID, d))
		s.logger.InfoContext(ctx, "access denied",
			"request_id", requestID,
			"subject_id", req.SubjectID,
			"purpose", purpose,
			"actor_id", actor.ID,
		)
		return nil, s.reject(dErrors.New(dErrors.CodeAccessDenied, "access denied by consent policy").
			WithJustifications(d.Justifications))
	}

	rewritten, err := rewriteForGrant(req.Query, d.PermittedFields, policy.Conditions.MaxRecords)
	if err != nil {
		if errors.Is(err, query.ErrNoPermittedColumns) {
			d = decision.PolicyDecision{
				Decision: decision.DecisionDeny,
				Justifications: append(append([]string{}, d.Justifications...),
					"Query selects none of the permitted fields: "+formatFields(d.PermittedFields)),
			}
			s.audit.Emit(ctx, audit.NewAccessEvent(s.now(), actor, req.SubjectID, purpose, requestID, d))
			return nil, s.reject(dErrors.New(dErrors.CodeAccessDenied, "query selects no permitted fields").
				WithJustifications(d.Justifications))
		}
		s.logger.ErrorContext(ctx, "query rewrite failed after validation",
			"request_id", requestID,
			"error", err,
		)
		return nil, s.reject(dErrors.Wrap(err, dErrors.CodeQueryRewriteFailed, "failed to rewrite query"))
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(jwttoken.Grant{
		SubjectID:     req.SubjectID,
		Purpose:       purpose,
		AllowedFields: d.PermittedFields,
		RequestID:     requestID,
	})
	if err != nil {
		return nil, s.reject(dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access credential"))
	}
	s.persistCredential(ctx, token, credential.Payload{
		SubjectID:     req.SubjectID,
		Purpose:       purpose,
		AllowedFields: d.PermittedFields,
		RequestID:     requestID,
	})

	s.audit.Emit(ctx, audit.NewAccessEvent(s.now(), actor, req.SubjectID, purpose, requestID, d))
	s.logger.InfoContext(ctx, "access granted",
		"request_id", requestID,
		"subject_id", req.SubjectID,
		"purpose", purpose,
		"decision", d.Decision,
		"actor_id", actor.ID,
		"organization", actor.Organization,
		"permitted_fields", len(d.PermittedFields),
	)

	return &Result{
		RequestID:       requestID,
		Decision:        d.Decision,
		Token:           token,
		ExpiresAt:       expiresAt,
		RewrittenQuery:  rewritten,
		PermittedFields: d.PermittedFields,
		Justifications:  d.Justifications,
	}, nil
}

// VerifyCredential checks a token's signature and that the credential store
// still holds it as active. A store failure fails closed.
func (s *Service) VerifyCredential(ctx context.Context, token string) (_ *Verification, err error) {
	ctx, span := s.tracer.Start(ctx, "access.VerifyCredential")
	defer func() { s.finishSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "token is required")
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	meta, err := s.credentials.Verify(ctx, token)
	if err != nil {
		s.metrics.IncrementCredentialStoreError("verify")
		s.logger.ErrorContext(ctx, "credential store verify failed",
			"request_id", claims.RequestID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	}
	if meta == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "credential is revoked or unknown")
	}

	return &Verification{
		SubjectID:     meta.SubjectID,
		Purpose:       string(meta.Purpose),
		AllowedFields: meta.AllowedFields,
		RequestID:     meta.RequestID,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// RevokeSubject withdraws every outstanding credential for subjectID and
// returns how many active credentials were revoked.
func (s *Service) RevokeSubject(ctx context.Context, actor domain.Actor, subjectID string) (_ int, err error) {
	ctx, span := s.tracer.Start(ctx, "access.RevokeSubject", trace.WithAttributes(
		attribute.String("subject_id", subjectID),
	))
	defer func() { s.finishSpan(span, err) }()

	if err := actor.Validate(); err != nil {
		return 0, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, dErrors.New(dErrors.CodeInvalidRequest, "subject_id is required")
	}

	n, err := s.credentials.RevokeBySubject(ctx, subjectID)
	if err != nil {
		s.metrics.IncrementCredentialStoreError("revoke_subject")
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credentials")
	}
	s.recordRevocation(ctx, actor, subjectID, "", n)
	return n, nil
}

// RevokePurpose withdraws the credentials for one subject and purpose.
func (s *Service) RevokePurpose(ctx context.Context, actor domain.Actor, subjectID, purpose string) (_ int, err error) {
	ctx, span := s.tracer.Start(ctx, "access.RevokePurpose", trace.WithAttributes(
		attribute.String("subject_id", subjectID),
		attribute.String("purpose", purpose),
	))
	defer func() { s.finishSpan(span, err) }()

	if err := actor.Validate(); err != nil {
		return 0, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, dErrors.New(dErrors.CodeInvalidRequest, "subject_id is required")
	}
	p, err := parseRevocablePurpose(purpose)
	if err != nil {
		return 0, err
	}

	n, err := s.credentials.RevokeByPurpose(ctx, subjectID, p)
	if err != nil {
		s.metrics.IncrementCredentialStoreError("revoke_purpose")
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credentials")
	}
	s.recordRevocation(ctx, actor, subjectID, p, n)
	return n, nil
}

// EmergencyOverride grants break-glass access to the requested fields without
// consulting consent. It requires a justification and is always audited.
func (s *Service) EmergencyOverride(ctx context.Context, actor domain.Actor, req EmergencyRequest) (_ *Result, err error) {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	ctx, span := s.tracer.Start(ctx, "access.EmergencyOverride", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID),
	))
	defer func() { s.finishSpan(span, err) }()

	if err := actor.Validate(); err != nil {
		return nil, err
	}
	fields, err := validateEmergency(req)
	if err != nil {
		return nil, err
	}
	requestID := requestIDFrom(ctx)

	rewritten, err := query.Rewrite(req.Query, fields)
	if err != nil {
		if errors.Is(err, query.ErrNoPermittedColumns) {
			return nil, dErrors.New(dErrors.CodeInvalidRequest, "query selects none of the requested fields")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeQueryRewriteFailed, "failed to rewrite query")
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(jwttoken.Grant{
		SubjectID:     req.SubjectID,
		Purpose:       domain.PurposeEmergencyTreatment,
		AllowedFields: fields,
		RequestID:     requestID,
		TTL:           s.emergencyTTL,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access credential")
	}
	s.persistCredential(ctx, token, credential.Payload{
		SubjectID:     req.SubjectID,
		Purpose:       domain.PurposeEmergencyTreatment,
		AllowedFields: fields,
		RequestID:     requestID,
	})

	justifications := []string{
		"Emergency override: " + strings.TrimSpace(req.Justification),
		"Consent policy bypassed for fields: " + formatFields(fields),
	}
	s.audit.Emit(ctx, audit.NewEmergencyEvent(s.now(), actor, req.SubjectID, requestID, fields,
		strings.TrimSpace(req.Justification), justifications[1]))
	s.metrics.IncrementEmergencyOverride()
	s.logger.WarnContext(ctx, "emergency override granted",
		"request_id", requestID,
		"subject_id", req.SubjectID,
		"actor_id", actor.ID,
		"organization", actor.Organization,
	)

	return &Result{
		RequestID:       requestID,
		Decision:        decision.DecisionAllow,
		Token:           token,
		ExpiresAt:       expiresAt,
		RewrittenQuery:  rewritten,
		PermittedFields: fields,
		Justifications:  justifications,
	}, nil
}

// Health reports whether the credential store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.credentials.Health(ctx)
}

// persistCredential writes the credential record within persistTimeout. The
// token stays valid on failure; its signed expiry bounds the exposure.
func (s *Service) persistCredential(ctx context.Context, token string, payload credential.Payload) {
	if !s.breaker.Allow() {
		s.metrics.IncrementCredentialStoreError("issue_circuit_open")
		s.logger.WarnContext(ctx, "credential store circuit open, token not persisted",
			"request_id", payload.RequestID,
		)
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.credentials.Issue(persistCtx, token, payload); err != nil {
		s.metrics.IncrementCredentialStoreError("issue")
		if s.breaker.RecordFailure() {
			s.logger.ErrorContext(ctx, "credential store circuit opened", "breaker", s.breaker.Name())
		}
		s.logger.WarnContext(ctx, "credential persistence failed, token is not revocable",
			"request_id", payload.RequestID,
			"subject_id", payload.SubjectID,
			"error", err,
		)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *Service) recordRevocation(ctx context.Context, actor domain.Actor, subjectID string, purpose domain.Purpose, n int) {
	requestID := requestIDFrom(ctx)
	s.audit.Emit(ctx, audit.NewRevocationEvent(s.now(), actor, subjectID, purpose, requestID, n))
	s.logger.InfoContext(ctx, "credentials revoked",
		"request_id", requestID,
		"subject_id", subjectID,
		"purpose", purpose,
		"revoked", n,
		"actor_id", actor.ID,
	)
}

func (s *Service) reject(err error) error {
	s.metrics.IncrementRejection(string(dErrors.CodeOf(err)))
	return err
}

func (s *Service) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// validateRequest expects req.SubjectID to be trimmed already.
func validateRequest(req Request) (domain.Purpose, []string, error) {
	if req.SubjectID == "" {
		return "", nil, dErrors.New(dErrors.CodeInvalidRequest, "subject_id is required")
	}
	purpose, err := domain.ParsePurpose(req.Purpose)
	if err != nil {
		return "", nil, err
	}
	fields := fieldutil.DedupeAndTrim(req.RequestedFields)
	if len(fields) == 0 {
		return "", nil, dErrors.New(dErrors.CodeInvalidRequest, "requested_fields must not be empty")
	}
	if err := validateQuery(req.Query); err != nil {
		return "", nil, err
	}
	return purpose, fields, nil
}

func validateEmergency(req EmergencyRequest) ([]string, error) {
	if req.SubjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "subject_id is required")
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "justification is required for an emergency override")
	}
	fields := fieldutil.DedupeAndTrim(req.RequestedFields)
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "requested_fields must not be empty")
	}
	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}
	return fields, nil
}

func validateQuery(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "query is required")
	}
	if !query.Validate(sql) {
		return dErrors.New(dErrors.CodeInvalidRequest, "query must be a single read-only SELECT statement")
	}
	return nil
}

func parseRevocablePurpose(s string) (domain.Purpose, error) {
	if domain.Purpose(s) == domain.PurposeEmergencyTreatment {
		return domain.PurposeEmergencyTreatment, nil
	}
	return domain.ParsePurpose(s)
}

// rewriteForGrant restricts the projection and applies a max_records cap.
func rewriteForGrant(sql string, permitted []string, maxRecords int) (string, error) {
	rewritten, err := query.Rewrite(sql, permitted)
	if err != nil {
		return "", err
	}
	if maxRecords > 0 {
		return query.AddLimit(rewritten, maxRecords)
	}
	return rewritten, nil
}

func isAuthorizationFailure(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeConsentNotFound, dErrors.CodeConsentConfidenceTooLow:
		return true
	}
	return false
}

func requestIDFrom(ctx context.Context) string {
	if id := requestcontext.RequestID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func formatFields(fields []string) string {
	return fmt.Sprintf("[%s]", strings.Join(fields, ", "))
}
