package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consentgate/internal/access"
	"consentgate/internal/access/handler/mocks"
	"consentgate/internal/decision"
	"consentgate/internal/platform/middleware"
	"consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/httputil"
	"consentgate/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	healthy bool
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

var actor = domain.Actor{ID: "researcher-1", Organization: "org-1"}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.healthy = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, logger, map[string]HealthCheck{
		"credential_store": func(context.Context) error {
			if s.healthy {
				return nil
			}
			return errors.New("redis down")
		},
	})
	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestMetadata)
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, withActor bool) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	req.Header.Set(middleware.HeaderRequestID, "req-1")
	if withActor {
		req = testutil.WithActor(req, actor.ID, actor.Organization)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decodeError(w *httptest.ResponseRecorder) httputil.ErrorResponse {
	var resp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *HandlerSuite) TestAccess() {
	req := access.Request{
		SubjectID:       "p1",
		Purpose:         "RESEARCH",
		RequestedFields: []string{"age", "ssn"},
		Query:           "SELECT age, ssn FROM patients",
	}

	s.Run("granted", func() {
		s.service.EXPECT().Handle(gomock.Any(), req, actor).Return(&access.Result{
			RequestID:       "req-1",
			Decision:        decision.DecisionPartialAllow,
			Token:           "tok",
			ExpiresAt:       time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC),
			RewrittenQuery:  "SELECT age FROM patients",
			PermittedFields: []string{"age"},
			Justifications:  []string{"Partial access: 1 of 2 fields allowed"},
		}, nil)

		w := s.do(http.MethodPost, "/v1/access", req, true)
		s.Equal(http.StatusOK, w.Code)

		var got access.Result
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal(decision.DecisionPartialAllow, got.Decision)
		s.Equal("SELECT age FROM patients", got.RewrittenQuery)
		s.Equal([]string{"age"}, got.PermittedFields)
	})

	s.Run("denied carries justifications verbatim", func() {
		s.service.EXPECT().Handle(gomock.Any(), req, actor).Return(nil,
			dErrors.New(dErrors.CodeAccessDenied, "access denied by consent policy").
				WithJustifications([]string{"Study ID mismatch: required S1, got S2"}))

		w := s.do(http.MethodPost, "/v1/access", req, true)
		s.Equal(http.StatusForbidden, w.Code)
		resp := s.decodeError(w)
		s.Equal("access_denied", resp.Error)
		s.Equal([]string{"Study ID mismatch: required S1, got S2"}, resp.Justifications)
	})

	s.Run("rewrite failure hides details", func() {
		s.service.EXPECT().Handle(gomock.Any(), req, actor).Return(nil,
			dErrors.Wrap(errors.New("boom"), dErrors.CodeQueryRewriteFailed, "failed to rewrite query"))

		w := s.do(http.MethodPost, "/v1/access", req, true)
		s.Equal(http.StatusInternalServerError, w.Code)
		resp := s.decodeError(w)
		s.Equal("query_rewrite_failed", resp.Error)
		s.Empty(resp.ErrorDescription)
	})

	s.Run("missing actor", func() {
		w := s.do(http.MethodPost, "/v1/access", req, false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("unknown body field", func() {
		w := s.do(http.MethodPost, "/v1/access", map[string]any{"subject_id": "p1", "role": "admin"}, true)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestVerify() {
	s.Run("valid", func() {
		s.service.EXPECT().VerifyCredential(gomock.Any(), "tok").Return(&access.Verification{
			SubjectID: "p1", Purpose: "RESEARCH", AllowedFields: []string{"age"}, RequestID: "req-1",
		}, nil)

		w := s.do(http.MethodPost, "/v1/access/verify", verifyRequest{Token: "tok"}, false)
		s.Equal(http.StatusOK, w.Code)
		var got access.Verification
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("p1", got.SubjectID)
	})

	s.Run("revoked", func() {
		s.service.EXPECT().VerifyCredential(gomock.Any(), "tok").
			Return(nil, dErrors.New(dErrors.CodeUnauthorized, "credential is revoked or unknown"))

		w := s.do(http.MethodPost, "/v1/access/verify", verifyRequest{Token: "tok"}, false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("store unavailable", func() {
		s.service.EXPECT().VerifyCredential(gomock.Any(), "tok").
			Return(nil, dErrors.New(dErrors.CodeUnavailable, "credential store unavailable"))

		w := s.do(http.MethodPost, "/v1/access/verify", verifyRequest{Token: "tok"}, false)
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})
}

func (s *HandlerSuite) TestRevocations() {
	s.Run("subject", func() {
		s.service.EXPECT().RevokeSubject(gomock.Any(), actor, "p1").Return(2, nil)

		w := s.do(http.MethodPost, "/v1/revocations/subject", revokeRequest{SubjectID: "p1"}, true)
		s.Equal(http.StatusOK, w.Code)
		var got revokeResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal(revokeResponse{SubjectID: "p1", Revoked: 2}, got)
	})

	s.Run("purpose", func() {
		s.service.EXPECT().RevokePurpose(gomock.Any(), actor, "p1", "RESEARCH").Return(1, nil)

		w := s.do(http.MethodPost, "/v1/revocations/purpose", revokeRequest{SubjectID: "p1", Purpose: "RESEARCH"}, true)
		s.Equal(http.StatusOK, w.Code)
		var got revokeResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal(1, got.Revoked)
	})

	s.Run("store failure", func() {
		s.service.EXPECT().RevokeSubject(gomock.Any(), actor, "p1").
			Return(0, dErrors.Wrap(errors.New("redis down"), dErrors.CodeInternal, "failed to revoke credentials"))

		w := s.do(http.MethodPost, "/v1/revocations/subject", revokeRequest{SubjectID: "p1"}, true)
		s.Equal(http.StatusInternalServerError, w.Code)
	})
}

func (s *HandlerSuite) TestOperatorToken() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(middleware.RequestMetadata)
	New(s.service, logger, nil, WithOperatorToken("s3cret")).Register(r)

	send := func(token string) int {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/revocations/subject", revokeRequest{SubjectID: "p1"})
		req = testutil.WithActor(req, actor.ID, actor.Organization)
		if token != "" {
			req.Header.Set(middleware.HeaderOperatorToken, token)
		}
		return testutil.DoRequest(r, req).Code
	}

	s.Equal(http.StatusUnauthorized, send(""))
	s.Equal(http.StatusUnauthorized, send("guess"))

	s.service.EXPECT().RevokeSubject(gomock.Any(), actor, "p1").Return(1, nil)
	s.Equal(http.StatusOK, send("s3cret"))
}

func (s *HandlerSuite) TestRateLimitWrapsAccessOnly() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var limited []string
	limiter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited = append(limited, r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestMetadata)
	New(s.service, logger, nil, WithRateLimit(limiter)).Register(r)

	for _, path := range []string{"/v1/access", "/v1/emergency"} {
		req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]string{}), actor.ID, actor.Organization)
		s.Equal(http.StatusTooManyRequests, testutil.DoRequest(r, req).Code)
	}

	s.service.EXPECT().RevokeSubject(gomock.Any(), actor, "p1").Return(0, nil)
	req := testutil.WithActor(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/revocations/subject", revokeRequest{SubjectID: "p1"}), actor.ID, actor.Organization)
	s.Equal(http.StatusOK, testutil.DoRequest(r, req).Code)

	s.Equal([]string{"/v1/access", "/v1/emergency"}, limited)
}

func (s *HandlerSuite) TestEmergency() {
	req := access.EmergencyRequest{
		SubjectID:       "p1",
		RequestedFields: []string{"allergies"},
		Query:           "SELECT allergies FROM patients",
		Justification:   "patient unconscious",
	}
	s.service.EXPECT().EmergencyOverride(gomock.Any(), actor, req).Return(&access.Result{
		RequestID: "req-1", Decision: decision.DecisionAllow, Token: "tok",
	}, nil)

	w := s.do(http.MethodPost, "/v1/emergency", req, true)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/healthz", nil, false)
	s.Equal(http.StatusOK, w.Code)
	var resp healthResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("ok", resp.Status)
	s.Equal("ok", resp.Checks["credential_store"])

	s.healthy = false
	w = s.do(http.MethodGet, "/healthz", nil, false)
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("degraded", resp.Status)
	s.Equal("unavailable", resp.Checks["credential_store"])
}
