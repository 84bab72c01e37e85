package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentgate/internal/credential"
	"consentgate/internal/credential/credentialtest"
	"consentgate/pkg/domain"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, WithTTL(ttl)), mr
}

func TestStoreContract(t *testing.T) {
	credentialtest.Run(t, func(t *testing.T, ttl time.Duration) (credential.Store, func(time.Duration)) {
		store, mr := newTestStore(t, ttl)
		return store, mr.FastForward
	})
}

func TestIssue_KeysAndTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 300*time.Second)

	require.NoError(t, store.Issue(ctx, "raw-token", credential.Payload{
		SubjectID: "p1", Purpose: domain.PurposeResearch, AllowedFields: []string{"age"}, RequestID: "req-1",
	}))

	hash := credential.HashToken("raw-token")
	assert.True(t, mr.Exists("cred:token:"+hash))
	assert.Equal(t, 300*time.Second, mr.TTL("cred:token:"+hash))
	assert.Equal(t, 300*time.Second, mr.TTL("cred:subject:p1:tokens"))

	members, err := mr.Members("cred:subject:p1:tokens")
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, members)

	for _, key := range mr.Keys() {
		raw, _ := mr.Get(key)
		assert.NotContains(t, key, "raw-token")
		assert.NotContains(t, raw, "raw-token")
	}
}

func TestRevoke_KeepsRecordAndRemainingTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 300*time.Second)
	require.NoError(t, store.Issue(ctx, "tok", credential.Payload{SubjectID: "p1", Purpose: domain.PurposeResearch}))

	mr.FastForward(100 * time.Second)
	ok, err := store.Revoke(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)

	key := "cred:token:" + credential.HashToken("tok")
	assert.Equal(t, 200*time.Second, mr.TTL(key))

	raw, err := mr.Get(key)
	require.NoError(t, err)
	var meta credential.Metadata
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	assert.Equal(t, credential.StatusRevoked, meta.Status)
	assert.NotNil(t, meta.RevokedAt)
	assert.Equal(t, "p1", meta.SubjectID)
}

func TestRevokeBySubject_ClearsIndex(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Minute)
	require.NoError(t, store.Issue(ctx, "a", credential.Payload{SubjectID: "p1", Purpose: domain.PurposeResearch}))
	require.NoError(t, store.Issue(ctx, "b", credential.Payload{SubjectID: "p1", Purpose: domain.PurposeResearch}))

	count, err := store.RevokeBySubject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, mr.Exists("cred:subject:p1:tokens"))
	assert.True(t, mr.Exists("cred:token:"+credential.HashToken("a")), "records are kept for audit until TTL")
}

func TestStore_ConnectionFailure(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Minute)
	mr.Close()

	assert.Error(t, store.Issue(ctx, "tok", credential.Payload{SubjectID: "p1"}))
	_, err := store.Verify(ctx, "tok")
	assert.Error(t, err)
	assert.Error(t, store.Health(ctx))
}
