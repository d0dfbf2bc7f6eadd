package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndGetIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := AgentIdentity{AgentID: "agent-1", Owner: "owner-a", CredentialType: CredentialTypeAPIKey}
	created, err := s.RegisterIdentity(ctx, in)
	require.NoError(t, err)
	require.Equal(t, IdentityActive, created.Status)

	_, err = s.RegisterIdentity(ctx, in)
	require.Error(t, err)

	fetched, err := s.GetIdentity(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "owner-a", fetched.Owner)

	_, err = s.GetIdentity(ctx, "agent-missing")
	require.Error(t, err)
}

func TestUpdateStatusValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.RegisterIdentity(ctx, AgentIdentity{AgentID: "agent-2", Owner: "owner-a"})
	require.NoError(t, err)

	require.Error(t, s.UpdateStatus(ctx, "agent-2", IdentityStatus("bogus")))
	require.NoError(t, s.UpdateStatus(ctx, "agent-2", IdentityRevoked))

	fetched, err := s.GetIdentity(ctx, "agent-2")
	require.NoError(t, err)
	require.Equal(t, IdentityRevoked, fetched.Status)
}

func TestCredentialOptimisticRevoke(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.RegisterIdentity(ctx, AgentIdentity{AgentID: "agent-3", Owner: "owner-a"})
	require.NoError(t, err)

	cred, err := s.InsertCredential(ctx, AgentCredential{
		AgentID:        "agent-3",
		CredentialHash: "hash-1",
		Scopes:         "read",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	found, err := s.FindCredentialByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	require.NoError(t, s.UpdateCredentialStatusIfActive(ctx, cred.CredentialID, CredentialRevoked, "test"))
	require.Error(t, s.UpdateCredentialStatusIfActive(ctx, cred.CredentialID, CredentialRevoked, "test"))

	missing, err := s.FindCredentialByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRevokeTokenCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root, err := s.InsertDelegationToken(ctx, DelegationToken{
		IssuerAgentID: "A", SubjectAgentID: "B", DelegatedScopes: "read,write",
		ExpiresAt: time.Now().Add(time.Hour), ChainDepth: 0,
	})
	require.NoError(t, err)

	child, err := s.InsertDelegationToken(ctx, DelegationToken{
		IssuerAgentID: "B", SubjectAgentID: "C", DelegatedScopes: "read",
		ExpiresAt: time.Now().Add(time.Hour), ChainDepth: 1, ParentTokenID: &root.TokenID,
	})
	require.NoError(t, err)

	count, err := s.RevokeTokenCascade(ctx, root.TokenID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	gotChild, err := s.GetDelegationToken(ctx, child.TokenID)
	require.NoError(t, err)
	require.True(t, gotChild.Revoked)
}
