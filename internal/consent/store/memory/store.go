package memory

import (
	"context"
	"sync"
	"time"

	"consentgate/internal/consent"
	"consentgate/pkg/domain"
	"consentgate/pkg/platform/sentinel"
)

// Store is an in-memory consent policy store for tests and local development.
type Store struct {
	mu       sync.RWMutex
	policies map[string][]*consent.Policy
}

// New creates an empty store.
func New() *Store {
	return &Store{policies: make(map[string][]*consent.Policy)}
}

// Save adds a policy. Existing rows are never replaced.
func (s *Store) Save(_ context.Context, p *consent.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[p.SubjectID] = append(s.policies[p.SubjectID], &cp)
	return nil
}

// Replace swaps the entire contents. Used by the file store on reload.
func (s *Store) Replace(policies []*consent.Policy) {
	next := make(map[string][]*consent.Policy, len(policies))
	for _, p := range policies {
		cp := *p
		next[p.SubjectID] = append(next[p.SubjectID], &cp)
	}
	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
}

// FindLatest implements consent.Store.
func (s *Store) FindLatest(_ context.Context, subjectID string, purpose domain.Purpose, now time.Time) (*consent.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *consent.Policy
	for _, p := range s.policies[subjectID] {
		if p.Purpose != purpose || !p.IsActive(now) {
			continue
		}
		if p.Newer(best) {
			best = p
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *best
	return &cp, nil
}
