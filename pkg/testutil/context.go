package testutil

import (
	"net/http"

	"consentgate/internal/platform/middleware"
)

// WithActor sets the caller identity headers the upstream authentication
// layer would add.
func WithActor(req *http.Request, actorID, organization string) *http.Request {
	req.Header.Set(middleware.HeaderActorID, actorID)
	req.Header.Set(middleware.HeaderOrganization, organization)
	return req
}

// WithOperatorToken sets the operator token header.
func WithOperatorToken(req *http.Request, token string) *http.Request {
	req.Header.Set(middleware.HeaderOperatorToken, token)
	return req
}
