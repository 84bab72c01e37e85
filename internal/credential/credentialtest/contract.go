// Package credentialtest holds the behavioural contract every credential.Store
// implementation must satisfy.
package credentialtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentgate/internal/credential"
	"consentgate/pkg/domain"
)

// Factory builds a fresh store with the given TTL and returns a function that
// advances the store's notion of time.
type Factory func(t *testing.T, ttl time.Duration) (credential.Store, func(time.Duration))

// StoreSuite exercises a credential.Store implementation.
type StoreSuite struct {
	suite.Suite
	NewStore Factory

	ctx     context.Context
	store   credential.Store
	advance func(time.Duration)
}

// Run executes the contract against factory.
func Run(t *testing.T, factory Factory) {
	suite.Run(t, &StoreSuite{NewStore: factory})
}

const testTTL = 300 * time.Second

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store, s.advance = s.NewStore(s.T(), testTTL)
}

func payload(subject string, purpose domain.Purpose) credential.Payload {
	return credential.Payload{
		SubjectID:     subject,
		Purpose:       purpose,
		AllowedFields: []string{"age", "gender"},
		RequestID:     "req-" + subject,
	}
}

func (s *StoreSuite) TestIssueAndVerify() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))

	meta, err := s.store.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Require().NotNil(meta)
	s.Equal("p1", meta.SubjectID)
	s.Equal(domain.PurposeResearch, meta.Purpose)
	s.Equal([]string{"age", "gender"}, meta.AllowedFields)
	s.Equal("req-p1", meta.RequestID)
	s.Equal(credential.StatusActive, meta.Status)
	s.Nil(meta.RevokedAt)

	s.Run("unknown token", func() {
		meta, err := s.store.Verify(s.ctx, "never-issued")
		s.NoError(err)
		s.Nil(meta)
	})
}

func (s *StoreSuite) TestExpiry() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))

	s.advance(testTTL - time.Second)
	meta, err := s.store.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.NotNil(meta)

	s.advance(2 * time.Second)
	meta, err = s.store.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Nil(meta)

	count, err := s.store.ActiveCount(s.ctx, "p1")
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *StoreSuite) TestRevoke() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))

	ok, err := s.store.Revoke(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.True(ok)

	meta, err := s.store.Verify(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.Nil(meta, "revoked credential must not verify")

	s.Run("second revoke reports nothing flipped", func() {
		ok, err := s.store.Revoke(s.ctx, "tok-1")
		s.NoError(err)
		s.False(ok)
	})

	s.Run("unknown token", func() {
		ok, err := s.store.Revoke(s.ctx, "nope")
		s.NoError(err)
		s.False(ok)
	})
}

func (s *StoreSuite) TestRevokeBySubject() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-2", payload("p1", domain.PurposeTreatment)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-3", payload("p2", domain.PurposeResearch)))

	count, err := s.store.RevokeBySubject(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(2, count)

	for _, tok := range []string{"tok-1", "tok-2"} {
		meta, err := s.store.Verify(s.ctx, tok)
		s.Require().NoError(err)
		s.Nil(meta, tok)
	}

	meta, err := s.store.Verify(s.ctx, "tok-3")
	s.Require().NoError(err)
	s.NotNil(meta, "other subjects are unaffected")

	count, err = s.store.RevokeBySubject(s.ctx, "p1")
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *StoreSuite) TestRevokeBySubjectCountsOnlyActive() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-2", payload("p1", domain.PurposeResearch)))
	_, err := s.store.Revoke(s.ctx, "tok-1")
	s.Require().NoError(err)

	count, err := s.store.RevokeBySubject(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *StoreSuite) TestRevokeByPurpose() {
	s.Require().NoError(s.store.Issue(s.ctx, "tok-r1", payload("p1", domain.PurposeResearch)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-r2", payload("p1", domain.PurposeResearch)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-t", payload("p1", domain.PurposeTreatment)))

	count, err := s.store.RevokeByPurpose(s.ctx, "p1", domain.PurposeResearch)
	s.Require().NoError(err)
	s.Equal(2, count)

	meta, err := s.store.Verify(s.ctx, "tok-r1")
	s.Require().NoError(err)
	s.Nil(meta)

	meta, err = s.store.Verify(s.ctx, "tok-t")
	s.Require().NoError(err)
	s.NotNil(meta)

	active, err := s.store.ActiveCount(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, active)

	s.Run("subject revocation still reaches the remaining purpose", func() {
		count, err := s.store.RevokeBySubject(s.ctx, "p1")
		s.NoError(err)
		s.Equal(1, count)
	})
}

func (s *StoreSuite) TestActiveCount() {
	count, err := s.store.ActiveCount(s.ctx, "p1")
	s.Require().NoError(err)
	s.Zero(count)

	s.Require().NoError(s.store.Issue(s.ctx, "tok-1", payload("p1", domain.PurposeResearch)))
	s.Require().NoError(s.store.Issue(s.ctx, "tok-2", payload("p1", domain.PurposeResearch)))

	count, err = s.store.ActiveCount(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *StoreSuite) TestHealth() {
	s.NoError(s.store.Health(s.ctx))
}
