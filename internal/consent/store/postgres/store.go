package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consentgate/internal/consent"
	"consentgate/pkg/domain"
	"consentgate/pkg/platform/sentinel"
)

const findLatestSQL = `
SELECT id, subject_id, purpose, policy_json, confidence_score, expires_at, created_at
FROM consent_policies
WHERE subject_id = $1 AND purpose = $2 AND expires_at > $3
ORDER BY created_at DESC, id DESC
LIMIT 1`

const insertSQL = `
INSERT INTO consent_policies (id, subject_id, purpose, policy_json, confidence_score, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Store reads consent policies from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed policy store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindLatest implements consent.Store.
func (s *Store) FindLatest(ctx context.Context, subjectID string, purpose domain.Purpose, now time.Time) (*consent.Policy, error) {
	var (
		p       consent.Policy
		purp    string
		rawJSON []byte
	)
	err := s.pool.QueryRow(ctx, findLatestSQL, subjectID, string(purpose), now).
		Scan(&p.ID, &p.SubjectID, &purp, &rawJSON, &p.ConfidenceScore, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent policy: %w", err)
	}
	p.Purpose = domain.Purpose(purp)

	terms, err := consent.ParseTerms(rawJSON)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	terms.Apply(&p)
	return &p, nil
}

// Save inserts a policy row. Used by seeding and tests; the gateway itself
// never writes policies.
func (s *Store) Save(ctx context.Context, p *consent.Policy) error {
	terms, err := json.Marshal(consent.Terms{
		AllowedFields: p.AllowedFields,
		DeniedFields:  p.DeniedFields,
		Conditions:    p.Conditions,
	})
	if err != nil {
		return fmt.Errorf("encode policy terms: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertSQL,
		p.ID, p.SubjectID, string(p.Purpose), terms, p.ConfidenceScore, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert consent policy: %w", err)
	}
	return nil
}
