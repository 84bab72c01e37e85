// Package credential tracks issued access credentials so they can be revoked
// before their signed expiry. Records are keyed by a one-way hash of the bearer
// token; the raw token is never stored.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"consentgate/pkg/domain"
)

// DefaultTTL is how long the store keeps a credential record. It is the
// revocation-check window and is independent of the token's own expiry.
const DefaultTTL = 300 * time.Second

// Status is the lifecycle state of a credential record.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Payload is what a credential grants.
type Payload struct {
	SubjectID     string
	Purpose       domain.Purpose
	AllowedFields []string
	RequestID     string
}

// Metadata is the server-side record of an issued credential. Revocation
// changes only Status and RevokedAt.
type Metadata struct {
	SubjectID     string         `json:"subject_id"`
	Purpose       domain.Purpose `json:"purpose"`
	AllowedFields []string       `json:"allowed_fields"`
	RequestID     string         `json:"request_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Status        Status         `json:"status"`
	RevokedAt     *time.Time     `json:"revoked_at,omitempty"`
}

// NewMetadata builds an active record for payload.
func NewMetadata(p Payload, now time.Time) Metadata {
	fields := append([]string{}, p.AllowedFields...)
	return Metadata{
		SubjectID:     p.SubjectID,
		Purpose:       p.Purpose,
		AllowedFields: fields,
		RequestID:     p.RequestID,
		CreatedAt:     now,
		Status:        StatusActive,
	}
}

// IsActive reports whether the credential has not been revoked.
func (m Metadata) IsActive() bool {
	return m.Status == StatusActive
}

// Revoke marks the record revoked. It reports false if it already was.
func (m *Metadata) Revoke(now time.Time) bool {
	if !m.IsActive() {
		return false
	}
	m.Status = StatusRevoked
	m.RevokedAt = &now
	return true
}

// HashToken returns the hex SHA-256 of token, the key under which it is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store persists credential records with a TTL and a per-subject index.
//
// Verify returns (nil, nil) when the record is absent, expired or revoked.
// Revoke reports whether an active record was flipped. The bulk revocations
// return the number of active records flipped.
type Store interface {
	Issue(ctx context.Context, token string, payload Payload) error
	Verify(ctx context.Context, token string) (*Metadata, error)
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeBySubject(ctx context.Context, subjectID string) (int, error)
	RevokeByPurpose(ctx context.Context, subjectID string, purpose domain.Purpose) (int, error)
	ActiveCount(ctx context.Context, subjectID string) (int, error)
	Health(ctx context.Context) error
}
