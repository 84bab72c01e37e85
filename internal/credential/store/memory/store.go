package memory

import (
	"context"
	"sync"
	"time"

	"consentgate/internal/credential"
	"consentgate/pkg/domain"
)

type entry struct {
	meta      credential.Metadata
	expiresAt time.Time
}

type index struct {
	hashes    map[string]struct{}
	expiresAt time.Time
}

// Store is an in-memory credential store with lazy expiry.
type Store struct {
	mu       sync.Mutex
	records  map[string]*entry
	subjects map[string]*index
	ttl      time.Duration
	now      func() time.Time
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

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*entry),
		subjects: make(map[string]*index),
		ttl:      credential.DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue implements credential.Store.
func (s *Store) Issue(_ context.Context, token string, payload credential.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	hash := credential.HashToken(token)
	s.records[hash] = &entry{meta: credential.NewMetadata(payload, now), expiresAt: now.Add(s.ttl)}

	idx := s.liveIndex(payload.SubjectID, now)
	if idx == nil {
		idx = &index{hashes: make(map[string]struct{})}
		s.subjects[payload.SubjectID] = idx
	}
	idx.hashes[hash] = struct{}{}
	idx.expiresAt = now.Add(s.ttl)
	return nil
}

// Verify implements credential.Store.
func (s *Store) Verify(_ context.Context, token string) (*credential.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(credential.HashToken(token), s.now())
	if e == nil || !e.meta.IsActive() {
		return nil, nil
	}
	meta := e.meta
	return &meta, nil
}

// Revoke implements credential.Store.
func (s *Store) Revoke(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(credential.HashToken(token), now)
	if e == nil {
		return false, nil
	}
	return e.meta.Revoke(now), nil
}

// RevokeBySubject implements credential.Store.
func (s *Store) RevokeBySubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx := s.liveIndex(subjectID, now)
	if idx == nil {
		return 0, nil
	}
	count := 0
	for hash := range idx.hashes {
		if e := s.live(hash, now); e != nil && e.meta.Revoke(now) {
			count++
		}
	}
	delete(s.subjects, subjectID)
	return count, nil
}

// RevokeByPurpose implements credential.Store.
func (s *Store) RevokeByPurpose(_ context.Context, subjectID string, purpose domain.Purpose) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx := s.liveIndex(subjectID, now)
	if idx == nil {
		return 0, nil
	}
	count := 0
	for hash := range idx.hashes {
		e := s.live(hash, now)
		if e == nil {
			delete(idx.hashes, hash)
			continue
		}
		if e.meta.Purpose != purpose {
			continue
		}
		if e.meta.Revoke(now) {
			count++
		}
		delete(idx.hashes, hash)
	}
	return count, nil
}

// ActiveCount implements credential.Store.
func (s *Store) ActiveCount(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx := s.liveIndex(subjectID, now)
	if idx == nil {
		return 0, nil
	}
	count := 0
	for hash := range idx.hashes {
		if e := s.live(hash, now); e != nil && e.meta.IsActive() {
			count++
		}
	}
	return count, nil
}

// Health implements credential.Store.
func (s *Store) Health(context.Context) error { return nil }

// live returns the record for hash, dropping it if expired. Caller holds mu.
func (s *Store) live(hash string, now time.Time) *entry {
	e, ok := s.records[hash]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.records, hash)
		return nil
	}
	return e
}

// liveIndex returns the subject index, dropping it if expired. Caller holds mu.
func (s *Store) liveIndex(subjectID string, now time.Time) *index {
	idx, ok := s.subjects[subjectID]
	if !ok {
		return nil
	}
	if !now.Before(idx.expiresAt) {
		delete(s.subjects, subjectID)
		return nil
	}
	return idx
}
