package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "consentgate/pkg/domain-errors"
	"consentgate/pkg/platform/httputil"
	"consentgate/pkg/requestcontext"
)

// Headers set by the upstream authentication layer.
const (
	HeaderActorID      = "X-Actor-ID"
	HeaderOrganization = "X-Organization"
)

// RequireActor reads the caller identity established upstream and rejects
// requests that carry none.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actorID := strings.TrimSpace(r.Header.Get(HeaderActorID))
			org := strings.TrimSpace(r.Header.Get(HeaderOrganization))
			if actorID == "" || org == "" {
				logger.WarnContext(ctx, "unauthorized access - missing caller identity",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing caller identity"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actorID, org)))
		})
	}
}
