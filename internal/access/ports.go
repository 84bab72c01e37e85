package access

import (
	"context"
	"time"

	"consentgate/internal/audit"
	"consentgate/internal/consent"
	jwttoken "consentgate/internal/jwt_token"
	"consentgate/pkg/domain"
)

// PolicyFetcher resolves the active consent policy for a subject and purpose.
// Implemented by consent.Service.
type PolicyFetcher interface {
	Fetch(ctx context.Context, subjectID string, purpose domain.Purpose) (*consent.Policy, error)
}

// TokenSigner signs and validates access credentials.
// Implemented by jwttoken.JWTService.
type TokenSigner interface {
	GenerateAccessToken(grant jwttoken.Grant) (string, time.Time, error)
	ValidateToken(token string) (*jwttoken.Claims, error)
}

// AuditEmitter records events without waiting on the sink.
// Implemented by audit.Emitter.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event)
}
