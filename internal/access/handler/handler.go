package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"consentgate/internal/access"
	"consentgate/internal/platform/middleware"
	"consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/httputil"
	"consentgate/pkg/requestcontext"
)

const healthTimeout = 2 * time.Second

// Service defines the access operations exposed over HTTP.
type Service interface {
	Handle(ctx context.Context, req access.Request, actor domain.Actor) (*access.Result, error)
	VerifyCredential(ctx context.Context, token string) (*access.Verification, error)
	RevokeSubject(ctx context.Context, actor domain.Actor, subjectID string) (int, error)
	RevokePurpose(ctx context.Context, actor domain.Actor, subjectID, purpose string) (int, error)
	EmergencyOverride(ctx context.Context, actor domain.Actor, req access.EmergencyRequest) (*access.Result, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the gateway's HTTP API.
type Handler struct {
	service       Service
	logger        *slog.Logger
	checks        map[string]HealthCheck
	limiter       func(http.Handler) http.Handler
	operatorToken string
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit wraps the access and emergency routes. It runs after the
// caller identity is established.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.limiter = mw }
}

// WithOperatorToken requires the shared operator token on revocation routes.
func WithOperatorToken(token string) Option {
	return func(h *Handler) { h.operatorToken = token }
}

// New creates a Handler. checks are run by GET /healthz.
func New(service Service, logger *slog.Logger, checks map[string]HealthCheck, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, logger: logger, checks: checks}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r. Everything except health and credential
// verification requires a caller identity.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/v1/access/verify", h.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor(h.logger))

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter)
			}
			r.Post("/v1/access", h.handleAccess)
			r.Post("/v1/emergency", h.handleEmergency)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperatorToken(h.operatorToken, h.logger))
			r.Post("/v1/revocations/subject", h.handleRevokeSubject)
			r.Post("/v1/revocations/purpose", h.handleRevokePurpose)
		})
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

type revokeRequest struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose,omitempty"`
}

type revokeResponse struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose,omitempty"`
	Revoked   int    `json:"revoked"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[access.Request](w, r, h.logger)
	if !ok {
		return
	}
	result, err := h.service.Handle(r.Context(), req, actorFrom(r.Context()))
	if err != nil {
		h.writeError(r.Context(), w, err, "access request failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[verifyRequest](w, r, h.logger)
	if !ok {
		return
	}
	v, err := h.service.VerifyCredential(r.Context(), req.Token)
	if err != nil {
		h.writeError(r.Context(), w, err, "credential verification failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) handleRevokeSubject(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[revokeRequest](w, r, h.logger)
	if !ok {
		return
	}
	n, err := h.service.RevokeSubject(r.Context(), actorFrom(r.Context()), req.SubjectID)
	if err != nil {
		h.writeError(r.Context(), w, err, "subject revocation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revokeResponse{SubjectID: req.SubjectID, Revoked: n})
}

func (h *Handler) handleRevokePurpose(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[revokeRequest](w, r, h.logger)
	if !ok {
		return
	}
	n, err := h.service.RevokePurpose(r.Context(), actorFrom(r.Context()), req.SubjectID, req.Purpose)
	if err != nil {
		h.writeError(r.Context(), w, err, "purpose revocation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revokeResponse{SubjectID: req.SubjectID, Purpose: req.Purpose, Revoked: n})
}

func (h *Handler) handleEmergency(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[access.EmergencyRequest](w, r, h.logger)
	if !ok {
		return
	}
	result, err := h.service.EmergencyOverride(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.writeError(r.Context(), w, err, "emergency override failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}

func actorFrom(ctx context.Context) domain.Actor {
	return domain.Actor{
		ID:           requestcontext.ActorID(ctx),
		Organization: requestcontext.Organization(ctx),
	}
}
