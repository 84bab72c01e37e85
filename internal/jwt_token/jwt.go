package jwttoken

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"consentgate/pkg/domain"
	dErrors "consentgate/pkg/domain-errors"
)

// DefaultTTL is the signed lifetime of an access credential.
const DefaultTTL = 15 * time.Minute

const keyInfo = "consentgate access credential v1"

// Claims represents the JWT claims of an access credential.
type Claims struct {
	AllowedFields []string       `json:"allowed_fields"`
	Purpose       domain.Purpose `json:"purpose"`
	RequestID     string         `json:"request_id"`
	jwt.RegisteredClaims
}

// Grant is what a credential is scoped to.
type Grant struct {
	SubjectID     string
	Purpose       domain.Purpose
	AllowedFields []string
	RequestID     string
	// TTL shortens or extends the signed lifetime; zero uses the service TTL.
	TTL time.Duration
}

// JWTService handles access credential signing and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *JWTService) {
		if ttl != 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewJWTService derives an HS256 key from secret with HKDF-SHA256.
func NewJWTService(secret, issuer string, opts ...Option) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt: signing secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(issuer), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("jwt: derive signing key: %w", err)
	}
	s := &JWTService{signingKey: key, issuer: issuer, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the signed lifetime of issued credentials.
func (s *JWTService) TTL() time.Duration { return s.ttl }

// GenerateAccessToken signs a credential for grant and returns it with its expiry.
func (s *JWTService) GenerateAccessToken(grant Grant) (string, time.Time, error) {
	now := s.now()
	ttl := s.ttl
	if grant.TTL > 0 {
		ttl = grant.TTL
	}
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AllowedFields: append([]string{}, grant.AllowedFields...),
		Purpose:       grant.Purpose,
		RequestID:     grant.RequestID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   grant.SubjectID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer and expiry. It says nothing about
// revocation; that is the credential store's job.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" || claims.RequestID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
