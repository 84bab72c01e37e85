//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentgate/internal/credential"
	"consentgate/pkg/domain"
	"consentgate/pkg/testutil/containers"
)

type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Store
}

func TestRedisStoreIntegration(t *testing.T) {
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.store = New(s.redis.Client.Client, WithTTL(2*time.Second))
}

func (s *RedisStoreIntegrationSuite) issue(token, subject string, purpose domain.Purpose) {
	s.Require().NoError(s.store.Issue(context.Background(), token, credential.Payload{
		SubjectID:     subject,
		Purpose:       purpose,
		AllowedFields: []string{"age"},
		RequestID:     "req-" + token,
	}))
}

func (s *RedisStoreIntegrationSuite) TestIssueVerifyExpire() {
	ctx := context.Background()
	s.issue("tok-1", "p1", domain.PurposeResearch)

	meta, err := s.store.Verify(ctx, "tok-1")
	s.Require().NoError(err)
	s.Require().NotNil(meta)
	s.Equal("p1", meta.SubjectID)

	s.Eventually(func() bool {
		meta, err := s.store.Verify(ctx, "tok-1")
		return err == nil && meta == nil
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisStoreIntegrationSuite) TestRevocations() {
	ctx := context.Background()
	s.issue("tok-1", "p1", domain.PurposeResearch)
	s.issue("tok-2", "p1", domain.PurposeTreatment)
	s.issue("tok-3", "p2", domain.PurposeResearch)

	n, err := s.store.RevokeByPurpose(ctx, "p1", domain.PurposeResearch)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.RevokeBySubject(ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, n)

	active, err := s.store.ActiveCount(ctx, "p1")
	s.Require().NoError(err)
	s.Zero(active)

	meta, err := s.store.Verify(ctx, "tok-3")
	s.Require().NoError(err)
	s.NotNil(meta)
}

func (s *RedisStoreIntegrationSuite) TestHealth() {
	s.NoError(s.store.Health(context.Background()))
}
