package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credential-engine/go-core/pkg/types"
)

func newStoredCredential(id, parentID string, ttl time.Duration) *types.Credential {
	now := time.Now().UTC()
	return &types.Credential{
		CredentialID:       id,
		SubjectID:          "agent-" + id,
		Issuer:             "test-issuer",
		TaskID:             "task-" + id,
		ParentCredentialID: parentID,
		GrantedScopes:      []string{"calendar:read"},
		IssuedAt:           now,
		ExpiresAt:          now.Add(ttl),
	}
}

func TestMemoryStore_CreateRejectsRevokedParent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	parent := newStoredCredential("p1", "", time.Hour)
	require.NoError(t, store.Create(ctx, parent, ""))

	// An active parent accepts children
	require.NoError(t, store.Create(ctx, newStoredCredential("c1", "p1", time.Hour), ""))

	now := time.Now().UTC()
	parent.IsRevoked = true
	parent.RevokedAt = &now
	require.NoError(t, store.Update(ctx, parent))

	// The insert itself enforces parent liveness, so a child created
	// after the revocation committed is refused
	err := store.Create(ctx, newStoredCredential("c2", "p1", time.Hour), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidGrant, types.KindOf(err))
}

func TestMemoryStore_CreateRejectsExpiredOrMissingParent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := newStoredCredential("p-expired", "", -time.Minute)
	require.NoError(t, store.Create(ctx, expired, ""))

	err := store.Create(ctx, newStoredCredential("c1", "p-expired", time.Hour), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidGrant, types.KindOf(err))

	err = store.Create(ctx, newStoredCredential("c2", "no-such-parent", time.Hour), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidGrant, types.KindOf(err))
}
