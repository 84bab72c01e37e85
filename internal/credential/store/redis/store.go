package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"consentgate/internal/credential"
	"consentgate/pkg/domain"
	"consentgate/pkg/platform/sentinel"
)

var verifyDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "consentgate_credential_verify_duration_ms",
	Help:    "Latency of credential store verification in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	tokenKeyPrefix   = "cred:token:"
	subjectKeyPrefix = "cred:subject:"
	subjectKeySuffix = ":tokens"
)

func tokenKey(hash string) string { return tokenKeyPrefix + hash }

func subjectKey(subjectID string) string { return subjectKeyPrefix + subjectID + subjectKeySuffix }

// Store is a Redis-backed credential store. Records are JSON under
// cred:token:<sha256> with a TTL; cred:subject:<id>:tokens is a set of hashes
// whose TTL is refreshed on every issue.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides credential.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects the time source used for CreatedAt and RevokedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Redis-backed credential store.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, ttl: credential.DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue stores the record and indexes it under its subject atomically.
func (s *Store) Issue(ctx context.Context, token string, payload credential.Payload) error {
	hash := credential.HashToken(token)
	raw, err := json.Marshal(credential.NewMetadata(payload, s.now()))
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	idxKey := subjectKey(payload.SubjectID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(hash), raw, s.ttl)
		pipe.SAdd(ctx, idxKey, hash)
		pipe.Expire(ctx, idxKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}
	return nil
}

// Verify implements credential.Store.
func (s *Store) Verify(ctx context.Context, token string) (*credential.Metadata, error) {
	start := time.Now()
	defer func() {
		verifyDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	meta, err := s.load(ctx, credential.HashToken(token))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !meta.IsActive() {
		return nil, nil
	}
	return meta, nil
}

// Revoke implements credential.Store.
func (s *Store) Revoke(ctx context.Context, token string) (bool, error) {
	meta, err := s.revokeHash(ctx, credential.HashToken(token))
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

// RevokeBySubject revokes every active credential of the subject and clears its index.
func (s *Store) RevokeBySubject(ctx context.Context, subjectID string) (int, error) {
	idxKey := subjectKey(subjectID)
	hashes, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list subject credentials: %w", err)
	}
	count := 0
	for _, hash := range hashes {
		meta, err := s.revokeHash(ctx, hash)
		if err != nil {
			return count, err
		}
		if meta != nil {
			count++
		}
	}
	if err := s.client.Del(ctx, idxKey).Err(); err != nil {
		return count, fmt.Errorf("clear subject index: %w", err)
	}
	return count, nil
}

// RevokeByPurpose revokes the subject's active credentials for purpose and
// removes them, along with expired entries, from the index.
func (s *Store) RevokeByPurpose(ctx context.Context, subjectID string, purpose domain.Purpose) (int, error) {
	idxKey := subjectKey(subjectID)
	hashes, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list subject credentials: %w", err)
	}

	count := 0
	var remove []any
	for _, hash := range hashes {
		meta, err := s.load(ctx, hash)
		if errors.Is(err, sentinel.ErrNotFound) {
			remove = append(remove, hash)
			continue
		}
		if err != nil {
			return count, err
		}
		if meta.Purpose != purpose {
			continue
		}
		revoked, err := s.revokeHash(ctx, hash)
		if err != nil {
			return count, err
		}
		if revoked != nil {
			count++
		}
		remove = append(remove, hash)
	}
	if len(remove) > 0 {
		if err := s.client.SRem(ctx, idxKey, remove...).Err(); err != nil {
			return count, fmt.Errorf("prune subject index: %w", err)
		}
	}
	return count, nil
}

// ActiveCount implements credential.Store.
func (s *Store) ActiveCount(ctx context.Context, subjectID string) (int, error) {
	hashes, err := s.client.SMembers(ctx, subjectKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list subject credentials: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = tokenKey(h)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("load subject credentials: %w", err)
	}
	count := 0
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var meta credential.Metadata
		if err := json.Unmarshal([]byte(str), &meta); err != nil {
			continue
		}
		if meta.IsActive() {
			count++
		}
	}
	return count, nil
}

// Health implements credential.Store.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) load(ctx context.Context, hash string) (*credential.Metadata, error) {
	raw, err := s.client.Get(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	var meta credential.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &meta, nil
}

// revokeHash flips an active record to revoked keeping its remaining TTL.
// It returns nil when the record is absent or already revoked.
func (s *Store) revokeHash(ctx context.Context, hash string) (*credential.Metadata, error) {
	meta, err := s.load(ctx, hash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !meta.Revoke(s.now()) {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	// XX: never resurrect a record that expired between the read and the write
	if err := s.client.SetArgs(ctx, tokenKey(hash), raw, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("revoke credential: %w", err)
	}
	return meta, nil
}
