package revocation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/aicp/internal/identity"
)

func TestRevokeAgentCascade(t *testing.T) {
	ctx := context.Background()
	store, err := identity.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "A", Owner: "owner-a"})
	require.NoError(t, err)
	_, err = store.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "B", Owner: "owner-a"})
	require.NoError(t, err)
	_, err = store.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "C", Owner: "owner-a"})
	require.NoError(t, err)

	_, err = store.InsertCredential(ctx, identity.AgentCredential{
		AgentID: "A", CredentialHash: "h1", Scopes: "read", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	ab, err := store.InsertDelegationToken(ctx, identity.DelegationToken{
		IssuerAgentID: "A", SubjectAgentID: "B", DelegatedScopes: "read,write",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = store.InsertDelegationToken(ctx, identity.DelegationToken{
		IssuerAgentID: "B", SubjectAgentID: "C", DelegatedScopes: "read",
		ExpiresAt: time.Now().Add(time.Hour), ChainDepth: 1, ParentTokenID: &ab.TokenID,
	})
	require.NoError(t, err)

	orch := NewOrchestrator(store, nil, logrus.New())
	result, err := orch.RevokeAgent(ctx, "A", "owner-a", "policy violation")
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.RevokedTokens, 2)

	agent, err := store.GetIdentity(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, identity.IdentityRevoked, agent.Status)
}

func TestRevokeAgentWrongActor(t *testing.T) {
	ctx := context.Background()
	store, err := identity.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RegisterIdentity(ctx, identity.AgentIdentity{AgentID: "A", Owner: "owner-a"})
	require.NoError(t, err)

	orch := NewOrchestrator(store, nil, logrus.New())
	_, err = orch.RevokeAgent(ctx, "A", "someone-else", "x")
	require.Error(t, err)
}
